package main

import (
	"context"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/amorce-labs/nexus-gateway/internal/audit"
	"github.com/amorce-labs/nexus-gateway/internal/directory"
	"github.com/amorce-labs/nexus-gateway/internal/hitl"
	"github.com/amorce-labs/nexus-gateway/internal/identity"
	"github.com/amorce-labs/nexus-gateway/internal/infra"
	"github.com/amorce-labs/nexus-gateway/internal/repository/postgres"
	"github.com/amorce-labs/nexus-gateway/internal/router"
	"github.com/amorce-labs/nexus-gateway/internal/server"
	"github.com/amorce-labs/nexus-gateway/internal/tools"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	// Контекст для управления жизненным циклом фоновых горутин.
	// SIGTERM через cancel() остановит слушателей.
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Инфраструктура и ресурсы
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	auditRepo, err := postgres.NewAuditRepo(cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal("failed to open audit database", zap.Error(err))
	}
	defer auditRepo.Close()

	// Стартовая проверка БД с ретраями: при деплое база может подняться позже шлюза
	probe := retry.New(
		retry.Context(appCtx),
		retry.Attempts(5),
		retry.DelayType(retry.BackOffDelay),
	)
	if err := probe.Do(func() error {
		pingCtx, pingCancel := context.WithTimeout(appCtx, 3*time.Second)
		defer pingCancel()
		return auditRepo.Ping(pingCtx)
	}); err != nil {
		logger.Fatal("audit database unreachable", zap.Error(err))
	}

	trail := audit.NewTrail(auditRepo, cfg.Audit.BufferSize, cfg.Audit.FlushInterval, logger)
	trail.Start()
	defer trail.Stop()

	// 3. Коллабораторы: Trust Directory и Approval Store
	dirClient := directory.NewClient(cfg.Directory.BaseURL, cfg.Directory.Timeout, logger)
	approvalClient := hitl.NewStoreClient(cfg.Approvals.BaseURL, cfg.Approvals.Timeout, logger)

	// 4. Метрики
	reg := prometheus.NewRegistry()
	metrics := router.NewMetrics(reg)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		logger.Info("metrics listening", zap.String("addr", cfg.Metrics.Addr))
		if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	// 5. Верификация: кэш идентичностей + вотчер отзывов
	cache := identity.NewCache(dirClient, cfg.Cache.IdentityTTL, identity.SystemClock(), logger,
		&identity.CacheMetrics{Hits: metrics.CacheHits, Misses: metrics.CacheMisses})

	watcher := identity.NewRevocationWatcher(rdb, cache, logger)
	if err := watcher.Init(appCtx); err != nil {
		// Redis недоступен на старте — работаем без мгновенных отзывов, TTL кэша подстрахует
		logger.Warn("revocation state warm-up failed, relying on cache TTL", zap.Error(err))
	}
	go watcher.StartListener(appCtx)

	// 6. Комплаенс и маршрутизация
	gate := hitl.NewGate(approvalClient, cfg.HITL.CommittingIntents, logger)
	registry := tools.NewRegistry(cfg.Tools)

	var signer *router.ServiceTokenSigner
	if cfg.Relay.CredentialMode == router.CredentialService {
		key, err := parseServiceKey(cfg.Relay.ServiceKey)
		if err != nil {
			logger.Fatal("failed to parse relay service key", zap.Error(err))
		}
		signer = router.NewServiceTokenSigner(key, time.Minute)
	}

	relay := router.NewRelay(router.RelayOptions{
		Timeout:        cfg.Relay.Timeout,
		CredentialMode: cfg.Relay.CredentialMode,
		Signer:         signer,
		RateLimit:      cfg.Relay.RateLimit,
		RateBurst:      cfg.Relay.RateBurst,
		CBMaxRequests:  cfg.Relay.CBMaxRequests,
		CBInterval:     cfg.Relay.CBInterval,
		CBTimeout:      cfg.Relay.CBTimeout,
	}, metrics, logger)

	core := router.New(cache, dirClient, gate, watcher, relay, registry, trail, metrics, logger)

	// 7. HTTP Server + Graceful Shutdown
	srv := server.New(cfg, core, logger)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("gateway stopping...")
	cancel()

	// Даем 5 секунд на завершение in-flight транзакций
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	logger.Info("gateway exited properly")
}

// parseServiceKey принимает PKCS#8 PEM или сырые 64 байта приватного ключа Ed25519.
func parseServiceKey(data []byte) (ed25519.PrivateKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("relay.service_key_path or RELAY_SERVICE_KEY_DATA is required in service mode")
	}
	if block, _ := pem.Decode(data); block != nil {
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse PKCS#8 key: %w", err)
		}
		key, ok := parsed.(ed25519.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("service key is not Ed25519")
		}
		return key, nil
	}
	if len(data) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(data), nil
	}
	return nil, fmt.Errorf("unrecognized service key format")
}
