// Package repository provides data access for the usage ledger.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/barelyworkingcode/eve/internal/model"
)

// UsageSource marks what produced a ledger record.
type UsageSource string

const (
	UsageSourceTurn UsageSource = "turn"
	UsageSourceTask UsageSource = "task"
)

// UsageRecord is one row of the usage ledger: the token and cost
// breakdown of a single completed turn or headless task run. Records
// outlive the sessions they came from.
type UsageRecord struct {
	ID         int64       `json:"id"`
	SessionID  string      `json:"sessionId"`
	ProjectID  string      `json:"projectId,omitempty"`
	Model      string      `json:"model"`
	Source     UsageSource `json:"source"`
	Stats      model.Stats `json:"stats"`
	RecordedAt time.Time   `json:"recordedAt"`
}

// UsageTotals is the aggregate over a ledger query.
type UsageTotals struct {
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
	CostUSD      float64 `json:"costUsd"`
	Records      int     `json:"records"`
}

// UsageRepository provides data access for usage records.
type UsageRepository struct {
	db *sql.DB
}

// NewUsageRepository creates a new UsageRepository.
func NewUsageRepository(db *sql.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// Record inserts one ledger row.
func (r *UsageRepository) Record(ctx context.Context, rec *UsageRecord) error {
	query := `
		INSERT INTO usage_records
			(session_id, project_id, model, source, input_tokens, output_tokens,
			 cache_read_tokens, cache_creation_tokens, cost_usd, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, query,
		rec.SessionID,
		rec.ProjectID,
		rec.Model,
		rec.Source,
		rec.Stats.InputTokens,
		rec.Stats.OutputTokens,
		rec.Stats.CacheReadTokens,
		rec.Stats.CacheCreationTokens,
		rec.Stats.CostUSD,
		rec.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// ListSince returns the records at or after the cutoff, newest first.
func (r *UsageRepository) ListSince(ctx context.Context, since time.Time) ([]*UsageRecord, error) {
	query := `
		SELECT id, session_id, project_id, model, source, input_tokens, output_tokens,
		       cache_read_tokens, cache_creation_tokens, cost_usd, recorded_at
		FROM usage_records
		WHERE recorded_at >= ?
		ORDER BY recorded_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage: %w", err)
	}
	defer rows.Close()

	var records []*UsageRecord
	for rows.Next() {
		rec := &UsageRecord{}
		var projectID sql.NullString

		err := rows.Scan(
			&rec.ID,
			&rec.SessionID,
			&projectID,
			&rec.Model,
			&rec.Source,
			&rec.Stats.InputTokens,
			&rec.Stats.OutputTokens,
			&rec.Stats.CacheReadTokens,
			&rec.Stats.CacheCreationTokens,
			&rec.Stats.CostUSD,
			&rec.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		if projectID.Valid {
			rec.ProjectID = projectID.String
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage records: %w", err)
	}
	return records, nil
}

// TotalsSince aggregates tokens and cost at or after the cutoff.
func (r *UsageRepository) TotalsSince(ctx context.Context, since time.Time) (UsageTotals, error) {
	query := `
		SELECT COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0),
		       COALESCE(SUM(cost_usd), 0), COUNT(*)
		FROM usage_records
		WHERE recorded_at >= ?
	`

	var totals UsageTotals
	err := r.db.QueryRowContext(ctx, query, since).Scan(
		&totals.InputTokens,
		&totals.OutputTokens,
		&totals.CostUSD,
		&totals.Records,
	)
	if err != nil {
		return totals, fmt.Errorf("failed to total usage: %w", err)
	}
	return totals, nil
}
