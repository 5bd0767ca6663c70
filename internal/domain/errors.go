package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind — таксономия отказов ядра. Каждый downstream-вызов оборачивается
// и маппится ровно в один из видов на границе; сырые ошибки наружу не выходят.
type ErrorKind string

const (
	KindMalformedRequest      ErrorKind = "malformed_request"      // 400, локальная структурная валидация
	KindAuthenticationFailure ErrorKind = "authentication_failure" // 401, подпись или API-ключ
	KindAuthorizationFailure  ErrorKind = "authorization_failure"  // 403, неактивный агент или HITL
	KindNotFound              ErrorKind = "not_found"              // 404, неизвестный сервис/провайдер/агент
	KindUpstreamUnavailable   ErrorKind = "upstream_unavailable"   // 503, сеть/таймаут downstream
	KindInternal              ErrorKind = "internal_error"         // 500, все неожиданное
)

// Stage — этап конвейера, на котором запрос завершился.
// Используется для аудита и логов (traceability по сбоям).
type Stage string

const (
	StageReceived          Stage = "received"
	StageSignatureChecked  Stage = "signature_checked"
	StageComplianceChecked Stage = "compliance_checked"
	StageServiceResolved   Stage = "service_resolved"
	StageProviderResolved  Stage = "provider_resolved"
	StageProxied           Stage = "proxied"
	StageRelayed           Stage = "relayed"
)

// RouteError — типизированный отказ роутера.
type RouteError struct {
	Kind    ErrorKind
	Stage   Stage
	Message string

	// RequiresHITL различает "нужен апрув, повтори после sign-off"
	// и "этот апрув не сработает никогда".
	RequiresHITL bool

	Err error // Исходная причина, не покидает процесс
}

func (e *RouteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s [%s]: %s: %v", e.Kind, e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Stage, e.Message)
}

func (e *RouteError) Unwrap() error { return e.Err }

// HTTPStatus — единственная точка маппинга таксономии в статус-коды.
func (e *RouteError) HTTPStatus() int {
	switch e.Kind {
	case KindMalformedRequest:
		return http.StatusBadRequest
	case KindAuthenticationFailure:
		return http.StatusUnauthorized
	case KindAuthorizationFailure:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewRouteError — конструктор для короткого создания на месте отказа.
func NewRouteError(kind ErrorKind, stage Stage, msg string, err error) *RouteError {
	return &RouteError{Kind: kind, Stage: stage, Message: msg, Err: err}
}

// AsRouteError приводит произвольную ошибку к RouteError;
// все непомеченное становится InternalError (Propagation Policy).
func AsRouteError(err error, stage Stage) *RouteError {
	var re *RouteError
	if errors.As(err, &re) {
		return re
	}
	return &RouteError{Kind: KindInternal, Stage: stage, Message: "unexpected failure", Err: err}
}
