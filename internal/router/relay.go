package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Режимы исходящего кредитива (открытый вопрос дизайна, решенный конфигом).
const (
	CredentialForward = "forward" // Пересылаем X-API-Key вызывающего
	CredentialService = "service" // Чеканим собственный EdDSA-токен шлюза
)

// ErrProviderUnavailable — сеть/таймаут/открытый предохранитель на пути к провайдеру.
var ErrProviderUnavailable = errors.New("relay: provider unavailable")

// ProviderResponse — ответ провайдера, транслируемый вызывающему дословно:
// тот же класс статуса, то же тело. Прозрачность намеренная, а обертка Relay —
// единственная точка, куда в будущем встанет санитизация ответов.
type ProviderResponse struct {
	StatusCode  int
	Body        []byte
	ContentType string
}

// Relay — исходящий вызов провайдера с жестким таймаутом, rate limiter-ом
// и Circuit Breaker. Ретраев нет: повтор требует новой транзакции от вызывающего.
type Relay struct {
	http    *http.Client
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	timeout time.Duration

	credMode string
	signer   *ServiceTokenSigner

	logger *zap.Logger
}

// RelayOptions — настройки из infra.RelayConfig.
type RelayOptions struct {
	Timeout        time.Duration
	CredentialMode string
	Signer         *ServiceTokenSigner
	RateLimit      float64
	RateBurst      int
	CBMaxRequests  uint32
	CBInterval     time.Duration
	CBTimeout      time.Duration
}

func NewRelay(opts RelayOptions, metrics *Metrics, logger *zap.Logger) *Relay {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 100
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 20
	}
	if opts.CredentialMode == "" {
		opts.CredentialMode = CredentialForward
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "provider-relay",
		MaxRequests: opts.CBMaxRequests,
		Interval:    opts.CBInterval,
		Timeout:     opts.CBTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("relay breaker state change",
				zap.String("from", from.String()), zap.String("to", to.String()))
			if metrics != nil {
				if to == gobreaker.StateOpen {
					metrics.BreakerState.Set(1)
				} else {
					metrics.BreakerState.Set(0)
				}
			}
		},
	})

	return &Relay{
		http:     &http.Client{}, // Дедлайн ставим на контексте каждого вызова
		cb:       cb,
		limiter:  rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst),
		timeout:  opts.Timeout,
		credMode: opts.CredentialMode,
		signer:   opts.Signer,
		logger:   logger.Named("relay"),
	}
}

// Call выполняет исходящий POST на endpoint провайдера.
//
// Политика отмены: вызов идет на контексте, отвязанном от отключения клиента.
// Если провайдер уже мог начать побочный эффект, бросать вызов на середине
// нельзя — исход дойдет до аудита, даже когда клиент ушел. Собственный
// таймаут relay при этом остается жесткой верхней границей.
func (r *Relay) Call(ctx context.Context, endpoint string, payload map[string]interface{},
	consumerID, providerID, callerAPIKey, traceID string) (*ProviderResponse, error) {

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	if err := r.limiter.Wait(callCtx); err != nil {
		return nil, fmt.Errorf("%w: rate limit: %v", ErrProviderUnavailable, err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("relay: marshal payload: %w", err)
	}

	result, err := r.cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if traceID != "" {
			req.Header.Set("X-Trace-ID", traceID)
		}
		if err := r.attachCredential(req, consumerID, providerID, callerAPIKey); err != nil {
			return nil, err
		}

		resp, err := r.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, err
		}

		return &ProviderResponse{
			StatusCode:  resp.StatusCode,
			Body:        data,
			ContentType: resp.Header.Get("Content-Type"),
		}, nil
	})
	if err != nil {
		r.logger.Warn("provider call failed",
			zap.String("endpoint", endpoint),
			zap.String("provider_agent_id", providerID),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	return result.(*ProviderResponse), nil
}

func (r *Relay) attachCredential(req *http.Request, consumerID, providerID, callerAPIKey string) error {
	switch r.credMode {
	case CredentialService:
		if r.signer == nil {
			return fmt.Errorf("credential_mode is %q but no service key is configured", CredentialService)
		}
		token, err := r.signer.Mint(consumerID, providerID)
		if err != nil {
			return err
		}
		req.Header.Set("X-Gateway-Token", token)
	default:
		if callerAPIKey != "" {
			req.Header.Set("X-API-Key", callerAPIKey)
		}
	}
	return nil
}
