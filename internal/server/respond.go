package server

import (
	"encoding/json"
	"net/http"

	"github.com/amorce-labs/nexus-gateway/internal/domain"
)

// errorBody — единый формат тела отказа. requires_hitl и tool_name
// появляются только на 403 от HITL-гейта, чтобы вызывающий агент мог
// запросить sign-off и повторить.
type errorBody struct {
	Error        string `json:"error"`
	Message      string `json:"message,omitempty"`
	RequiresHITL bool   `json:"requires_hitl,omitempty"`
	ToolName     string `json:"tool_name,omitempty"`
}

func writeError(w http.ResponseWriter, status int, body errorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeRouteError транслирует типизированный отказ роутера в HTTP.
// Внутренняя причина (Err) наружу не уходит — только Kind и Message.
func writeRouteError(w http.ResponseWriter, rerr *domain.RouteError, toolName string) {
	body := errorBody{
		Error:        string(rerr.Kind),
		Message:      rerr.Message,
		RequiresHITL: rerr.RequiresHITL,
	}
	if rerr.RequiresHITL {
		body.ToolName = toolName
	}
	writeError(w, rerr.HTTPStatus(), body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
