package server

import (
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/amorce-labs/nexus-gateway/internal/domain"
	"github.com/amorce-labs/nexus-gateway/internal/router"
)

// Тела больше 1MB не принимаем: подписываемые транзакции маленькие,
// а канонизация материализует весь буфер.
const maxBodyBytes = 1 << 20

// readInbound разбирает тело и заголовки в Inbound для роутера.
// Сырые байты сохраняются как есть: подпись строилась по ним.
func (s *Server) readInbound(w http.ResponseWriter, r *http.Request) (*router.Inbound, bool) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, errorBody{
			Error:   string(domain.KindMalformedRequest),
			Message: "failed to read request body",
		})
		return nil, false
	}

	var tx domain.TransactionRequest
	if err := json.Unmarshal(raw, &tx); err != nil {
		writeError(w, http.StatusBadRequest, errorBody{
			Error:   string(domain.KindMalformedRequest),
			Message: "request body is not valid JSON",
		})
		return nil, false
	}

	return &router.Inbound{
		RawBody:       raw,
		Tx:            &tx,
		Signature:     r.Header.Get("X-Agent-Signature"),
		HeaderAgentID: r.Header.Get("X-Amorce-Agent-ID"),
		CallerAPIKey:  r.Header.Get("X-API-Key"),
		TraceID:       extractTraceID(r.Context()),
	}, true
}

// handleTransact — POST /v1/a2a/transact: основная A2A-поверхность.
// Ответ провайдера уходит вызывающему дословно: тот же статус, то же тело.
func (s *Server) handleTransact(w http.ResponseWriter, r *http.Request) {
	in, ok := s.readInbound(w, r)
	if !ok {
		return
	}

	resp, rerr := s.core.Route(r.Context(), in)
	if rerr != nil {
		writeRouteError(w, rerr, "")
		return
	}

	s.relayResponse(w, resp)
}

// handleToolsList — POST /v1/tools/list: каталог инструментов.
// Каталог отдается только подписанным агентам: проверка та же, что и на
// транзакциях, маршрутизации нет.
func (s *Server) handleToolsList(w http.ResponseWriter, r *http.Request) {
	in, ok := s.readInbound(w, r)
	if !ok {
		return
	}

	if rerr := s.core.VerifyInbound(r.Context(), in); rerr != nil {
		writeRouteError(w, rerr, "")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tools": s.core.ListTools(),
	})
}

// toolCallResponse оборачивает ответ провайдера, чтобы вызывающий агент
// мог сопоставить результат с именем инструмента.
type toolCallResponse struct {
	ToolName string          `json:"tool_name"`
	Status   int             `json:"status"`
	Result   json.RawMessage `json:"result"`
}

// handleToolsCall — POST /v1/tools/call: вызов инструмента по имени.
func (s *Server) handleToolsCall(w http.ResponseWriter, r *http.Request) {
	in, ok := s.readInbound(w, r)
	if !ok {
		return
	}
	toolName := in.Tx.ToolName()

	resp, rerr := s.core.RouteToolCall(r.Context(), in)
	if rerr != nil {
		writeRouteError(w, rerr, toolName)
		return
	}

	result := json.RawMessage(resp.Body)
	if !json.Valid(result) {
		// Провайдер вернул не-JSON: заворачиваем строкой, чтобы ответ остался валидным
		quoted, err := json.Marshal(string(resp.Body))
		if err != nil {
			s.logger.Error("failed to encode provider response", zap.Error(err))
			writeError(w, http.StatusInternalServerError, errorBody{
				Error: string(domain.KindInternal),
			})
			return
		}
		result = quoted
	}

	writeJSON(w, resp.StatusCode, toolCallResponse{
		ToolName: toolName,
		Status:   resp.StatusCode,
		Result:   result,
	})
}

// relayResponse пишет ответ провайдера без перекодирования.
func (s *Server) relayResponse(w http.ResponseWriter, resp *router.ProviderResponse) {
	contentType := resp.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(resp.Body); err != nil {
		s.logger.Warn("failed to write relayed response", zap.Error(err))
	}
}
