package domain

// AgentStatus — состояние записи агента в Trust Directory.
type AgentStatus string

const (
	StatusActive    AgentStatus = "active"    // Полный доступ
	StatusSuspended AgentStatus = "suspended" // Временная блокировка (оператором)
	StatusRevoked   AgentStatus = "revoked"   // Окончательный отзыв ключа
)

// AgentIdentityRecord — запись из Trust Directory.
// Создается процессом регистрации (вне ядра), шлюз держит только кэшированную копию.
type AgentIdentityRecord struct {
	AgentID   string      `json:"agent_id"`   // UUID
	PublicKey string      `json:"public_key"` // PEM или base64 от raw-байт Ed25519
	Status    AgentStatus `json:"status"`

	// Дополнительные данные (api_endpoint, версия, окружение и т.д.)
	Metadata map[string]interface{} `json:"metadata"`
}

// IsActive — только active-записи авторизуют запросы (Zero Trust).
func (r *AgentIdentityRecord) IsActive() bool {
	return r != nil && r.Status == StatusActive
}

// Endpoint достает базовый URL агента из метаданных.
func (r *AgentIdentityRecord) Endpoint() string {
	if r == nil || r.Metadata == nil {
		return ""
	}
	if v, ok := r.Metadata["api_endpoint"].(string); ok {
		return v
	}
	return ""
}
