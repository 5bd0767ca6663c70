package domain

// ApprovalStatus — статусы State Machine записи в Approval Store.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExpired  ApprovalStatus = "expired"
)

// ApprovalRecord — запись HITL-подтверждения, которой владеет внешний Approval Store.
// Инварианты "пригодности" проверяет Gate, а не Store:
// status == approved, agent_id совпадает с consumer, действие совпадает с запрошенным.
type ApprovalRecord struct {
	ApprovalID string         `json:"approval_id"`
	Status     ApprovalStatus `json:"status"`
	AgentID    string         `json:"agent_id"`  // Кому выдано
	ToolName   string         `json:"tool_name"` // Какое действие авторизовано
	Intent     string         `json:"intent"`    // Альтернативное поле для A2A-интентов
}

// Action возвращает авторизованное действие независимо от того,
// каким полем его описал Approval Store.
func (a *ApprovalRecord) Action() string {
	if a == nil {
		return ""
	}
	if a.ToolName != "" {
		return a.ToolName
	}
	return a.Intent
}
