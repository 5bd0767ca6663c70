package hitl

import (
	"context"
	"errors"
	"fmt"

	"github.com/amorce-labs/nexus-gateway/internal/domain"
	"go.uber.org/zap"
)

// Verdict — исход проверки гейта.
type Verdict string

const (
	// VerdictAllow — действие не требует человека, пропускаем.
	VerdictAllow Verdict = "allow"
	// VerdictRequireApproval — токена нет вовсе: "повтори после sign-off".
	VerdictRequireApproval Verdict = "require_approval"
	// VerdictReject — токен есть, но непригоден: этот approval не сработает никогда.
	VerdictReject Verdict = "reject"
)

// Result несет вердикт и человекочитаемую причину для 403-ответа.
type Result struct {
	Verdict Verdict
	Reason  string
}

// ApprovalProvider — то, что гейту нужно от Approval Store.
type ApprovalProvider interface {
	GetApproval(ctx context.Context, approvalID string) (*domain.ApprovalRecord, error)
}

// Gate инспектирует заявленное намерение транзакции и для committing-класса
// требует пригодный approval. Пригодность проверяет сам гейт, а не Store:
// status == approved, agent_id совпадает, авторизованное действие совпадает.
// Последняя проверка — строгая трактовка: апрув на одно действие не дает права на другое.
type Gate struct {
	store      ApprovalProvider
	committing map[string]struct{}
	logger     *zap.Logger
}

func NewGate(store ApprovalProvider, committingIntents []string, logger *zap.Logger) *Gate {
	committing := make(map[string]struct{}, len(committingIntents))
	for _, intent := range committingIntents {
		committing[intent] = struct{}{}
	}
	return &Gate{
		store:      store,
		committing: committing,
		logger:     logger.Named("hitl-gate"),
	}
}

// CheckTransaction — гейт для A2A-транзакций: гейтируется по intent из payload.
// Ошибка возвращается только при недоступности Approval Store.
func (g *Gate) CheckTransaction(ctx context.Context, tx *domain.TransactionRequest) (Result, error) {
	intent := tx.Intent()
	if _, gated := g.committing[intent]; !gated {
		// Не-committing интенты обходят гейт целиком
		return Result{Verdict: VerdictAllow}, nil
	}
	return g.checkApproval(ctx, tx.ConsumerAgentID, intent, tx.ApprovalID())
}

// CheckAction — гейт для поверхности /v1/tools: гейтируется по имени инструмента,
// решение "нужен ли человек" принимает реестр инструментов.
func (g *Gate) CheckAction(ctx context.Context, consumerID, action, approvalID string, gated bool) (Result, error) {
	if !gated {
		return Result{Verdict: VerdictAllow}, nil
	}
	return g.checkApproval(ctx, consumerID, action, approvalID)
}

func (g *Gate) checkApproval(ctx context.Context, consumerID, action, approvalID string) (Result, error) {
	if approvalID == "" {
		g.logger.Info("approval required",
			zap.String("agent_id", consumerID),
			zap.String("action", action))
		return Result{
			Verdict: VerdictRequireApproval,
			Reason:  fmt.Sprintf("action %q requires human approval: obtain an approval_id and resubmit", action),
		}, nil
	}

	rec, err := g.store.GetApproval(ctx, approvalID)
	if err != nil {
		if errors.Is(err, ErrApprovalNotFound) {
			return g.reject(consumerID, action, approvalID, "approval not found"), nil
		}
		return Result{}, err
	}

	if rec.Status != domain.ApprovalApproved {
		return g.reject(consumerID, action, approvalID,
			fmt.Sprintf("approval status is %q, not approved", rec.Status)), nil
	}
	if rec.AgentID != consumerID {
		return g.reject(consumerID, action, approvalID, "approval was granted to a different agent"), nil
	}
	if rec.Action() != action {
		return g.reject(consumerID, action, approvalID,
			fmt.Sprintf("approval authorizes %q, not %q", rec.Action(), action)), nil
	}

	g.logger.Info("approval accepted",
		zap.String("agent_id", consumerID),
		zap.String("action", action),
		zap.String("approval_id", approvalID))
	return Result{Verdict: VerdictAllow}, nil
}

func (g *Gate) reject(consumerID, action, approvalID, reason string) Result {
	g.logger.Warn("approval rejected",
		zap.String("agent_id", consumerID),
		zap.String("action", action),
		zap.String("approval_id", approvalID),
		zap.String("reason", reason))
	return Result{Verdict: VerdictReject, Reason: reason}
}
