package domain

import "fmt"

// TransactionRequest — входящая A2A-транзакция. Подписывается целиком:
// отсоединенная подпись покрывает каноническую сериализацию всей структуры,
// поэтому проверка всегда идет по сырым байтам тела, а не по этой структуре.
type TransactionRequest struct {
	TransactionID   string `json:"transaction_id"` // Генерируется вызывающим, уникален на попытку
	ConsumerAgentID string `json:"consumer_agent_id"`
	ServiceID       string `json:"service_id"`
	Timestamp       string `json:"timestamp"`

	// Свободная форма, интерпретируется провайдером.
	// Может нести intent и (для гейтируемых интентов) approval_id.
	Payload map[string]interface{} `json:"payload"`
}

// Validate — структурная проверка на границе, до входа в роутер.
func (t *TransactionRequest) Validate() error {
	if t.TransactionID == "" {
		return fmt.Errorf("transaction_id is required")
	}
	if t.ConsumerAgentID == "" {
		return fmt.Errorf("consumer_agent_id is required")
	}
	if t.ServiceID == "" {
		return fmt.Errorf("service_id is required")
	}
	return nil
}

// Intent возвращает заявленное намерение из payload (пустая строка, если не задано).
func (t *TransactionRequest) Intent() string {
	return t.payloadString("intent")
}

// ApprovalID возвращает токен HITL-подтверждения из payload.
func (t *TransactionRequest) ApprovalID() string {
	return t.payloadString("approval_id")
}

// ToolName — для поверхности /v1/tools/call payload несет имя инструмента.
func (t *TransactionRequest) ToolName() string {
	return t.payloadString("tool_name")
}

func (t *TransactionRequest) payloadString(key string) string {
	if t == nil || t.Payload == nil {
		return ""
	}
	if v, ok := t.Payload[key].(string); ok {
		return v
	}
	return ""
}
