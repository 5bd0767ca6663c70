package infra

const (
	// RedisNamespace — базовый префикс для изоляции данных шлюза в Redis.
	RedisNamespace = "nexus"
)

// Ключи для Sets (состояние)
const (
	RedisKeyRevokedAgents = RedisNamespace + ":agents:revoked_set"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanRevocation — канал срочного отзыва: "agent_id:on" блокирует,
	// "agent_id:off" снимает блокировку раньше TTL кэша.
	RedisChanRevocation = RedisNamespace + ":agents:revocation-signal"
)
