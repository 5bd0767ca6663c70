// Package directory — клиент Trust Directory: записи агентов и контракты сервисов.
package directory

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
	// ErrNotFound — Directory ответила 404, записи нет.
	ErrNotFound = errors.New("directory: not found")
	// ErrUnavailable — сеть, таймаут или 5xx со стороны Directory.
	ErrUnavailable = errors.New("directory: unavailable")
)

type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient создает клиента с жестким таймаутом на каждый lookup.
// Ретраев внутри запроса нет — повтор всегда ответственность вызывающего.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.Named("directory"),
	}
}

// LookupAgent — GET /api/v1/lookup/{agent_id}.
func (c *Client) LookupAgent(ctx context.Context, agentID string) (*domain.AgentIdentityRecord, error) {
	var rec domain.AgentIdentityRecord
	if err := c.getJSON(ctx, "/api/v1/lookup/"+url.PathEscape(agentID), &rec); err != nil {
		return nil, err
	}
	if rec.AgentID == "" {
		rec.AgentID = agentID
	}
	return &rec, nil
}

// LookupService — GET /api/v1/services/{service_id}.
// Контракты не кэшируем: топология меняется редко, но свежесть здесь
// важнее латентности — протухший контракт ведет трафик на выведенного провайдера.
func (c *Client) LookupService(ctx context.Context, serviceID string) (*domain.ServiceContract, error) {
	var contract domain.ServiceContract
	if err := c.getJSON(ctx, "/api/v1/services/"+url.PathEscape(serviceID), &contract); err != nil {
		return nil, err
	}
	return &contract, nil
}

func (c *Client) getJSON(ctx context.Context, path string, dst interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("directory request failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			return fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
		}
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	default:
		c.logger.Warn("directory unexpected status",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
}
