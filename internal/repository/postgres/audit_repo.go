// Package postgres — персистентность аудит-трейла.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/amorce-labs/nexus-gateway/internal/audit"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
)

type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(connString string, maxConns int) (*AuditRepo, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 15
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &AuditRepo{db: db}, nil
}

// Ping проверяет доступность базы при старте.
func (r *AuditRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *AuditRepo) Close() error {
	return r.db.Close()
}

// WriteBatch — пакетная вставка событий (Bulk Insert) за один проход.
func (r *AuditRepo) WriteBatch(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}

	// Количество колонок в таблице audit_logs
	const numFields = 11
	var placeholders strings.Builder
	vals := make([]interface{}, 0, len(events)*numFields)

	for i, e := range events {
		p := i * numFields
		placeholders.WriteString(fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10, p+11))

		vals = append(vals,
			e.ID, e.TraceID, e.ConsumerAgentID, e.ServiceID, e.ProviderAgentID,
			e.TransactionID, e.Stage, e.Status, e.Error, e.DurationMs, e.Timestamp,
		)
	}

	query := fmt.Sprintf(
		"INSERT INTO audit_logs (id, trace_id, consumer_agent_id, service_id, provider_agent_id, transaction_id, stage, status, error, duration_ms, timestamp) VALUES %s",
		strings.TrimSuffix(placeholders.String(), ","),
	)

	if _, err := r.db.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: failed to insert audit batch: %w", err)
	}
	return nil
}
