// Package hitl — Human-in-the-Loop: клиент Approval Store и комплаенс-гейт
// для committing-действий.
package hitl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/amorce-labs/nexus-gateway/internal/domain"
	"go.uber.org/zap"
)

var (
	// ErrApprovalNotFound — Approval Store не знает такой approval_id.
	ErrApprovalNotFound = errors.New("hitl: approval not found")
	// ErrStoreUnavailable — сеть/таймаут/5xx со стороны Approval Store.
	ErrStoreUnavailable = errors.New("hitl: approval store unavailable")
)

// StoreClient читает записи подтверждений. Store-ом мы не управляем:
// создание и решение заявок — забота операторской консоли.
type StoreClient struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

func NewStoreClient(baseURL string, timeout time.Duration, logger *zap.Logger) *StoreClient {
	return &StoreClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.Named("approval-store"),
	}
}

// GetApproval — GET /approvals/{approval_id}.
func (c *StoreClient) GetApproval(ctx context.Context, approvalID string) (*domain.ApprovalRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/approvals/"+url.PathEscape(approvalID), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("approval lookup failed", zap.String("approval_id", approvalID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var rec domain.ApprovalRecord
		if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
			return nil, fmt.Errorf("%w: decode: %v", ErrStoreUnavailable, err)
		}
		if rec.ApprovalID == "" {
			rec.ApprovalID = approvalID
		}
		return &rec, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrApprovalNotFound
	default:
		return nil, fmt.Errorf("%w: status %d", ErrStoreUnavailable, resp.StatusCode)
	}
}
