// Package router — ядро шлюза: верификация входящей транзакции и прокладка
// маршрута до провайдера. Конвейер жестко упорядочен, каждый этап либо
// пропускает дальше, либо терминально завершает запрос типизированным отказом.
package router

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/amorce-labs/nexus-gateway/internal/audit"
	"github.com/amorce-labs/nexus-gateway/internal/canonical"
	"github.com/amorce-labs/nexus-gateway/internal/directory"
	"github.com/amorce-labs/nexus-gateway/internal/domain"
	"github.com/amorce-labs/nexus-gateway/internal/hitl"
	"github.com/amorce-labs/nexus-gateway/internal/identity"
	"github.com/amorce-labs/nexus-gateway/internal/tools"
)

// Поверхности API — метка для метрик и аудита.
const (
	SurfaceA2A   = "a2a"
	SurfaceTools = "tools"
)

// IdentityResolver — то, что роутеру нужно от кэша идентичностей.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, agentID string) (*domain.AgentIdentityRecord, error)
	ResolvePublicKey(ctx context.Context, agentID string) (ed25519.PublicKey, *domain.AgentIdentityRecord, error)
}

// ServiceResolver — поиск контракта сервиса. Без кэша: запись может смениться
// между вызовами, и свежесть здесь важнее латентности.
type ServiceResolver interface {
	LookupService(ctx context.Context, serviceID string) (*domain.ServiceContract, error)
}

// ComplianceGate — HITL-гейт для committing-действий.
type ComplianceGate interface {
	CheckTransaction(ctx context.Context, tx *domain.TransactionRequest) (hitl.Result, error)
	CheckAction(ctx context.Context, consumerID, action, approvalID string, gated bool) (hitl.Result, error)
}

// RevocationChecker — локальный учет отозванных агентов (сигналы из Redis).
type RevocationChecker interface {
	IsRevoked(agentID string) bool
}

// ProviderCaller — исходящий вызов провайдера.
type ProviderCaller interface {
	Call(ctx context.Context, endpoint string, payload map[string]interface{},
		consumerID, providerID, callerAPIKey, traceID string) (*ProviderResponse, error)
}

// Inbound — разобранный входящий запрос с учетными материалами из заголовков.
// RawBody обязан быть теми же байтами, по которым строилась подпись:
// каноникализация и проверка идут по нему, а не по перемаршаленной структуре.
type Inbound struct {
	RawBody []byte
	Tx      *domain.TransactionRequest

	Signature     string // X-Agent-Signature, base64
	HeaderAgentID string // X-Amorce-Agent-ID, должен совпадать с телом
	CallerAPIKey  string // Пробрасывается провайдеру в режиме forward
	TraceID       string

	providerID string // Заполняется конвейером после резолва провайдера
}

// Router связывает верификацию, комплаенс и relay в один конвейер.
type Router struct {
	identities  IdentityResolver
	services    ServiceResolver
	gate        ComplianceGate
	revocations RevocationChecker
	relay       ProviderCaller
	registry    *tools.Registry

	auditor audit.Auditor
	metrics *Metrics
	logger  *zap.Logger
}

func New(identities IdentityResolver, services ServiceResolver, gate ComplianceGate,
	revocations RevocationChecker, relay ProviderCaller, registry *tools.Registry,
	auditor audit.Auditor, metrics *Metrics, logger *zap.Logger) *Router {

	if auditor == nil {
		auditor = audit.NopAuditor{}
	}
	return &Router{
		identities:  identities,
		services:    services,
		gate:        gate,
		revocations: revocations,
		relay:       relay,
		registry:    registry,
		auditor:     auditor,
		metrics:     metrics,
		logger:      logger.Named("router"),
	}
}

// Route проводит A2A-транзакцию через весь конвейер:
// верификация подписи → статус агента → HITL → резолв сервиса и провайдера →
// сборка endpoint → relay. Ответ провайдера возвращается дословно.
func (r *Router) Route(ctx context.Context, in *Inbound) (*ProviderResponse, *domain.RouteError) {
	started := time.Now()
	r.countRequest(SurfaceA2A)

	resp, rerr := r.route(ctx, in)
	r.finish(SurfaceA2A, started, in, resp, rerr)
	return resp, rerr
}

// RouteToolCall — поверхность /v1/tools/call: имя инструмента из payload
// разворачивается в service_id по реестру, HITL гейтируется по инструменту,
// дальше маршрут общий с A2A.
func (r *Router) RouteToolCall(ctx context.Context, in *Inbound) (*ProviderResponse, *domain.RouteError) {
	started := time.Now()
	r.countRequest(SurfaceTools)

	resp, rerr := r.routeTool(ctx, in)
	r.finish(SurfaceTools, started, in, resp, rerr)
	return resp, rerr
}

// VerifyInbound аутентифицирует вызывающего без маршрутизации: тот же путь
// (подпись, статус, отзывы), что и у транзакций, но без резолва сервиса.
// Используется каталогом инструментов — он отдается только подписанным агентам.
func (r *Router) VerifyInbound(ctx context.Context, in *Inbound) *domain.RouteError {
	_, rerr := r.verifyConsumer(ctx, in)
	return rerr
}

// ListTools возвращает каталог инструментов. Сам каталог статичен
// и фильтрации по вызывающему не требует.
func (r *Router) ListTools() []tools.Descriptor {
	return r.registry.List()
}

func (r *Router) route(ctx context.Context, in *Inbound) (*ProviderResponse, *domain.RouteError) {
	tx := in.Tx

	if err := tx.Validate(); err != nil {
		return nil, domain.NewRouteError(domain.KindMalformedRequest, domain.StageReceived, err.Error(), nil)
	}

	consumer, rerr := r.verifyConsumer(ctx, in)
	if rerr != nil {
		return nil, rerr
	}

	// HITL: committing-интент без пригодного апрува дальше гейта не проходит.
	result, err := r.gate.CheckTransaction(ctx, tx)
	if err != nil {
		return nil, mapApprovalStoreErr(err)
	}
	if rerr := verdictToError(result); rerr != nil {
		return nil, rerr
	}

	contract, provider, rerr := r.resolveRoute(ctx, tx)
	if rerr != nil {
		return nil, rerr
	}

	return r.proxy(ctx, in, consumer, contract, provider)
}

func (r *Router) routeTool(ctx context.Context, in *Inbound) (*ProviderResponse, *domain.RouteError) {
	tx := in.Tx
	toolName := tx.ToolName()
	if toolName == "" {
		return nil, domain.NewRouteError(domain.KindMalformedRequest, domain.StageReceived,
			"payload.tool_name is required", nil)
	}

	consumer, rerr := r.verifyConsumer(ctx, in)
	if rerr != nil {
		return nil, rerr
	}

	tool, ok := r.registry.Get(toolName)
	if !ok {
		return nil, domain.NewRouteError(domain.KindNotFound, domain.StageServiceResolved,
			fmt.Sprintf("unknown tool %q", toolName), nil)
	}

	result, err := r.gate.CheckAction(ctx, tx.ConsumerAgentID, toolName, tx.ApprovalID(), tool.RequiresHITL)
	if err != nil {
		return nil, mapApprovalStoreErr(err)
	}
	if rerr := verdictToError(result); rerr != nil {
		return nil, rerr
	}

	// Инструмент — это именованный вход в обычный сервисный контракт.
	tx.ServiceID = tool.ServiceID

	contract, provider, rerr := r.resolveRoute(ctx, tx)
	if rerr != nil {
		return nil, rerr
	}

	return r.proxy(ctx, in, consumer, contract, provider)
}

// verifyConsumer — этапы Received и SignatureChecked: личность вызывающего,
// совпадение заголовка с телом, канонизация сырых байт, Ed25519, статус
// записи, отзывы. Структурную валидацию тела делает вызывающая поверхность:
// A2A требует полную транзакцию, tools — только имя инструмента.
func (r *Router) verifyConsumer(ctx context.Context, in *Inbound) (*domain.AgentIdentityRecord, *domain.RouteError) {
	tx := in.Tx

	// Агент называется в теле либо в заголовке: tools-поверхность шлет
	// только payload, там личность приходит через X-Amorce-Agent-ID.
	consumerID := tx.ConsumerAgentID
	if consumerID == "" {
		consumerID = in.HeaderAgentID
	}
	if consumerID == "" {
		return nil, domain.NewRouteError(domain.KindAuthenticationFailure, domain.StageReceived,
			"agent identity is required: consumer_agent_id or X-Amorce-Agent-ID", nil)
	}
	if in.HeaderAgentID != "" && tx.ConsumerAgentID != "" && in.HeaderAgentID != tx.ConsumerAgentID {
		// Заголовок и тело называют разных агентов — чью подпись ни проверяй,
		// один из них подставной.
		return nil, domain.NewRouteError(domain.KindAuthenticationFailure, domain.StageReceived,
			"agent id in header does not match request body", nil)
	}
	if in.Signature == "" {
		return nil, domain.NewRouteError(domain.KindAuthenticationFailure, domain.StageReceived,
			"X-Agent-Signature header is required", nil)
	}

	canon, err := canonical.Transform(in.RawBody)
	if err != nil {
		return nil, domain.NewRouteError(domain.KindMalformedRequest, domain.StageReceived,
			"request body is not valid JSON", err)
	}

	pub, consumer, err := r.identities.ResolvePublicKey(ctx, consumerID)
	if err != nil {
		switch {
		case errors.Is(err, directory.ErrNotFound):
			// Неизвестный агент не может быть аутентифицирован
			return nil, domain.NewRouteError(domain.KindAuthenticationFailure, domain.StageSignatureChecked,
				"consumer agent is not registered", err)
		case errors.Is(err, directory.ErrUnavailable):
			return nil, domain.NewRouteError(domain.KindUpstreamUnavailable, domain.StageSignatureChecked,
				"trust directory is unavailable", err)
		case errors.Is(err, identity.ErrBadPublicKey):
			return nil, domain.NewRouteError(domain.KindInternal, domain.StageSignatureChecked,
				"directory record carries an unusable public key", err)
		default:
			return nil, domain.AsRouteError(err, domain.StageSignatureChecked)
		}
	}

	if err := identity.VerifySignature(canon, in.Signature, pub); err != nil {
		// Невалидная подпись на валидной записи — кандидат на компрометацию ключа
		r.logger.Error("signature verification failed",
			zap.String("consumer_agent_id", consumerID),
			zap.String("transaction_id", tx.TransactionID),
			zap.String("trace_id", in.TraceID),
			zap.Error(err))
		return nil, domain.NewRouteError(domain.KindAuthenticationFailure, domain.StageSignatureChecked,
			"signature verification failed", err)
	}

	if !consumer.IsActive() {
		return nil, domain.NewRouteError(domain.KindAuthorizationFailure, domain.StageSignatureChecked,
			fmt.Sprintf("agent status is %q", consumer.Status), nil)
	}
	if r.revocations != nil && r.revocations.IsRevoked(consumerID) {
		// Сигнал отзыва мог прийти раньше, чем обновилась запись в Directory
		return nil, domain.NewRouteError(domain.KindAuthorizationFailure, domain.StageSignatureChecked,
			"agent has been revoked", nil)
	}

	// Разрешенную личность кладем обратно в транзакцию: дальше на нее
	// смотрят гейт, аудит и метрики.
	tx.ConsumerAgentID = consumerID

	return consumer, nil
}

// resolveRoute — этапы ServiceResolved и ProviderResolved.
func (r *Router) resolveRoute(ctx context.Context, tx *domain.TransactionRequest) (*domain.ServiceContract, *domain.AgentIdentityRecord, *domain.RouteError) {
	contract, err := r.services.LookupService(ctx, tx.ServiceID)
	if err != nil {
		switch {
		case errors.Is(err, directory.ErrNotFound):
			return nil, nil, domain.NewRouteError(domain.KindNotFound, domain.StageServiceResolved,
				fmt.Sprintf("service %q is not registered", tx.ServiceID), err)
		case errors.Is(err, directory.ErrUnavailable):
			return nil, nil, domain.NewRouteError(domain.KindUpstreamUnavailable, domain.StageServiceResolved,
				"trust directory is unavailable", err)
		default:
			return nil, nil, domain.AsRouteError(err, domain.StageServiceResolved)
		}
	}

	provider, err := r.identities.ResolveIdentity(ctx, contract.ProviderAgentID)
	if err != nil {
		switch {
		case errors.Is(err, directory.ErrNotFound):
			// Контракт ссылается на несуществующего агента — битая запись каталога
			return nil, nil, domain.NewRouteError(domain.KindNotFound, domain.StageProviderResolved,
				"service contract references an unknown provider", err)
		case errors.Is(err, directory.ErrUnavailable):
			return nil, nil, domain.NewRouteError(domain.KindUpstreamUnavailable, domain.StageProviderResolved,
				"trust directory is unavailable", err)
		default:
			return nil, nil, domain.AsRouteError(err, domain.StageProviderResolved)
		}
	}
	if !provider.IsActive() {
		// Выведенный из оборота провайдер не авторизован принимать трафик
		return nil, nil, domain.NewRouteError(domain.KindAuthorizationFailure, domain.StageProviderResolved,
			fmt.Sprintf("provider for service %q is not active", tx.ServiceID), nil)
	}

	return contract, provider, nil
}

// proxy — этапы Proxied и Relayed.
func (r *Router) proxy(ctx context.Context, in *Inbound, consumer *domain.AgentIdentityRecord,
	contract *domain.ServiceContract, provider *domain.AgentIdentityRecord) (*ProviderResponse, *domain.RouteError) {

	in.providerID = provider.AgentID

	endpoint, err := endpointFor(provider, contract, in.Tx.Payload)
	if err != nil {
		// Недостающий плейсхолдер — вина вызывающего, остальное — битые метаданные
		if provider.Endpoint() == "" {
			return nil, domain.NewRouteError(domain.KindInternal, domain.StageProxied,
				"provider record has no api_endpoint", err)
		}
		return nil, domain.NewRouteError(domain.KindMalformedRequest, domain.StageProxied, err.Error(), nil)
	}

	resp, err := r.relay.Call(ctx, endpoint, in.Tx.Payload, consumer.AgentID, provider.AgentID, in.CallerAPIKey, in.TraceID)
	if err != nil {
		if errors.Is(err, ErrProviderUnavailable) {
			return nil, domain.NewRouteError(domain.KindUpstreamUnavailable, domain.StageProxied,
				"provider did not respond", err)
		}
		return nil, domain.AsRouteError(err, domain.StageProxied)
	}

	r.logger.Info("transaction relayed",
		zap.String("transaction_id", in.Tx.TransactionID),
		zap.String("consumer_agent_id", consumer.AgentID),
		zap.String("service_id", contract.ServiceID),
		zap.String("provider_agent_id", provider.AgentID),
		zap.Int("provider_status", resp.StatusCode),
		zap.String("trace_id", in.TraceID))

	// Ответ провайдера уходит вызывающему как есть, включая не-2xx статусы
	return resp, nil
}

// verdictToError переводит вердикт гейта в терминальный отказ.
func verdictToError(result hitl.Result) *domain.RouteError {
	switch result.Verdict {
	case hitl.VerdictRequireApproval:
		return &domain.RouteError{
			Kind:         domain.KindAuthorizationFailure,
			Stage:        domain.StageComplianceChecked,
			Message:      result.Reason,
			RequiresHITL: true,
		}
	case hitl.VerdictReject:
		return domain.NewRouteError(domain.KindAuthorizationFailure, domain.StageComplianceChecked,
			result.Reason, nil)
	default:
		return nil
	}
}

func mapApprovalStoreErr(err error) *domain.RouteError {
	if errors.Is(err, hitl.ErrStoreUnavailable) {
		return domain.NewRouteError(domain.KindUpstreamUnavailable, domain.StageComplianceChecked,
			"approval store is unavailable", err)
	}
	return domain.AsRouteError(err, domain.StageComplianceChecked)
}

func (r *Router) countRequest(surface string) {
	if r.metrics != nil {
		r.metrics.TotalRequests.WithLabelValues(surface).Inc()
	}
}

// finish пишет терминальный исход в метрики и аудит.
func (r *Router) finish(surface string, started time.Time, in *Inbound,
	resp *ProviderResponse, rerr *domain.RouteError) {

	elapsed := time.Since(started)

	event := audit.Event{
		ID:              uuid.New().String(),
		TraceID:         in.TraceID,
		ConsumerAgentID: in.Tx.ConsumerAgentID,
		ServiceID:       in.Tx.ServiceID,
		ProviderAgentID: in.providerID,
		TransactionID:   in.Tx.TransactionID,
		DurationMs:      elapsed.Milliseconds(),
	}

	status := "relayed"
	switch {
	case rerr == nil:
		event.Stage = string(domain.StageRelayed)
		event.Status = "RELAYED"
		status = strconv.Itoa(resp.StatusCode)
	case rerr.Kind == domain.KindUpstreamUnavailable || rerr.Kind == domain.KindInternal:
		event.Stage = string(rerr.Stage)
		event.Status = "FAILED"
		event.Error = string(rerr.Kind)
		status = strconv.Itoa(rerr.HTTPStatus())
	default:
		event.Stage = string(rerr.Stage)
		event.Status = "REJECTED"
		event.Error = string(rerr.Kind)
		status = strconv.Itoa(rerr.HTTPStatus())
	}

	r.auditor.Log(event)

	if r.metrics != nil {
		r.metrics.RequestDuration.WithLabelValues(surface, status).Observe(elapsed.Seconds())
		if rerr != nil {
			r.metrics.ErrorTotal.WithLabelValues(string(rerr.Kind), string(rerr.Stage)).Inc()
		}
	}
}
