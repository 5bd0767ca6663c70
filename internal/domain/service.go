package domain

// ServiceContract — опубликованный в Trust Directory контракт сервиса.
// Инвариант: контракт обязан разрешаться в провайдера со статусом active.
type ServiceContract struct {
	ServiceID       string `json:"service_id"`
	ServiceType     string `json:"service_type"`
	ProviderAgentID string `json:"provider_agent_id"` // FK на AgentIdentityRecord

	// Метаданные контракта, включая шаблон пути с плейсхолдерами
	// вида "/api/v1/negotiate/{item_id}" — связывается из payload транзакции.
	Metadata map[string]interface{} `json:"metadata"`
}

// EndpointTemplate достает шаблон пути из метаданных контракта.
func (c *ServiceContract) EndpointTemplate() string {
	if c == nil || c.Metadata == nil {
		return ""
	}
	if v, ok := c.Metadata["endpoint_path"].(string); ok {
		return v
	}
	return ""
}
