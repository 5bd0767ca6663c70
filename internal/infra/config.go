package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации шлюза.
type Config struct {
	Server    ServerConfig   `mapstructure:"server"`
	Metrics   MetricsConfig  `mapstructure:"metrics"`
	Directory UpstreamConfig `mapstructure:"directory"`
	Approvals UpstreamConfig `mapstructure:"approvals"`
	Relay     RelayConfig    `mapstructure:"relay"`
	Cache     CacheConfig    `mapstructure:"cache"`
	HITL      HITLConfig     `mapstructure:"hitl"`
	Tools     []ToolConfig   `mapstructure:"tools"`
	Redis     RedisConfig    `mapstructure:"redis"`
	Database  DatabaseConfig `mapstructure:"database"`
	Auth      AuthConfig     `mapstructure:"auth"`
	Audit     AuditConfig    `mapstructure:"audit"`
	Logger    LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// MetricsConfig — отдельный листенер для Prometheus.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// UpstreamConfig — общий вид для потребляемых коллабораторов (Directory, Approval Store).
type UpstreamConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RelayConfig — исходящий вызов провайдера.
type RelayConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`

	// CredentialMode решает открытый вопрос проксирования кредов явно:
	// "forward" — пересылаем X-API-Key вызывающего,
	// "service" — шлюз чеканит свой короткоживущий EdDSA-токен.
	CredentialMode string `mapstructure:"credential_mode"`
	ServiceKeyPath string `mapstructure:"service_key_path"`
	ServiceKey     []byte

	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`

	// Настройки Circuit Breaker для провайдеров
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
}

// CacheConfig — TTL кэша идентичностей.
type CacheConfig struct {
	IdentityTTL time.Duration `mapstructure:"identity_ttl"`
}

// HITLConfig — класс committing-интентов, требующих человеческого sign-off.
type HITLConfig struct {
	CommittingIntents []string `mapstructure:"committing_intents"`
}

// ToolConfig — запись реестра для поверхности /v1/tools.
type ToolConfig struct {
	Name         string `mapstructure:"name"`
	Description  string `mapstructure:"description"`
	ServiceID    string `mapstructure:"service_id"`
	RequiresHITL bool   `mapstructure:"requires_hitl"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub сигналы отзыва).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DatabaseConfig описывает подключение к PostgreSQL (audit trail).
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int    `mapstructure:"max_conns"`
}

// AuthConfig — первый слой аутентификации шлюза (X-API-Key).
type AuthConfig struct {
	// bcrypt-хэши допустимых ключей; сами ключи в конфиге не живут
	APIKeyHashes []string `mapstructure:"api_key_hashes"`
}

// AuditConfig — буферизация асинхронного аудита.
type AuditConfig struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// 2. ENV перекрывает файл: RELAY_TIMEOUT=15s перекроет relay.timeout
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Дефолты
	setDefaults(v)

	// 4. Чтение файла (его отсутствие не фатально — работаем на ENV и дефолтах)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. Ключ для service-режима: сначала ENV (Docker/K8s), иначе файл
	cfg.Relay.ServiceKey = loadKeyResource(cfg.Relay.ServiceKeyPath, "RELAY_SERVICE_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("directory.timeout", 3*time.Second)
	v.SetDefault("approvals.timeout", 3*time.Second)
	v.SetDefault("relay.timeout", 10*time.Second)
	v.SetDefault("relay.credential_mode", "forward")
	v.SetDefault("relay.rate_limit", 100)
	v.SetDefault("relay.rate_burst", 20)
	v.SetDefault("relay.cb_max_requests", 3)
	v.SetDefault("relay.cb_interval", 5*time.Second)
	v.SetDefault("relay.cb_timeout", 30*time.Second)
	v.SetDefault("cache.identity_ttl", 300*time.Second)
	v.SetDefault("hitl.committing_intents", []string{"transaction.commit"})
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("audit.buffer_size", 10000)
	v.SetDefault("audit.flush_interval", 500*time.Millisecond)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

// loadKeyResource — ключ либо напрямую из ENV (PEM), либо из файла по пути.
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
