package server

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Тип для ключа в контексте (избегаем коллизий)
type ctxKey string

const traceIDKey ctxKey = "trace_id"

// TracingMiddleware инициализирует Trace-ID для каждого запроса.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Сквозной ID: берем из заголовка, если пришел от агента/прокси
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), traceIDKey, traceID)

		// Возвращаем и клиенту, чтобы он знал ID своего запроса
		w.Header().Set("X-Trace-ID", traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractTraceID помогает безопасно достать ID в любом месте кода.
func extractTraceID(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return "00000000-0000-0000-0000-000000000000" // Fallback
}

// apiKeyAuth — первый периметр: валидный X-API-Key до любого обращения
// к Directory. Ключи в конфиге не живут, сравниваем с bcrypt-хэшами.
type apiKeyAuth struct {
	hashes [][]byte
	logger *zap.Logger
}

func newAPIKeyAuth(hashes []string, logger *zap.Logger) *apiKeyAuth {
	a := &apiKeyAuth{logger: logger}
	for _, h := range hashes {
		a.hashes = append(a.hashes, []byte(h))
	}
	if len(a.hashes) == 0 {
		logger.Warn("no api_key_hashes configured, API key check is disabled")
	}
	return a
}

func (a *apiKeyAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.hashes) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("X-API-Key")
		if key == "" || !a.match(key) {
			a.logger.Warn("rejected request with invalid api key",
				zap.String("remote", r.RemoteAddr),
				zap.String("trace_id", extractTraceID(r.Context())))
			writeError(w, http.StatusUnauthorized, errorBody{
				Error:   "authentication_failure",
				Message: "missing or invalid X-API-Key",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *apiKeyAuth) match(key string) bool {
	for _, hash := range a.hashes {
		if bcrypt.CompareHashAndPassword(hash, []byte(key)) == nil {
			return true
		}
	}
	return false
}
