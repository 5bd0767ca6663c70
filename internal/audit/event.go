package audit

import "time"

// Event — терминальный исход маршрутизации одной транзакции.
// Пишется на каждом завершении конвейера, успешном или нет,
// с именем этапа и идентификаторами сторон для расследований.
type Event struct {
	ID      string `json:"id"`       // UUID события
	TraceID string `json:"trace_id"` // Сквозной ID запроса

	ConsumerAgentID string `json:"consumer_agent_id"` // Кто вызывал
	ServiceID       string `json:"service_id"`        // Что вызывал
	ProviderAgentID string `json:"provider_agent_id"` // До кого дошло (может быть пусто)
	TransactionID   string `json:"transaction_id"`

	Stage  string `json:"stage"`  // Этап, на котором запрос завершился
	Status string `json:"status"` // "RELAYED", "REJECTED", "FAILED"
	Error  string `json:"error"`  // Вид отказа из таксономии (пусто при успехе)

	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"`
}
