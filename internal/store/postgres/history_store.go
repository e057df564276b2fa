package postgres

import (
	"context"
	"database/sql"
	"time"

	"genforge/internal/models"
	"genforge/internal/state"
)

type HistoryStore struct {
	db *sql.DB
}

func NewHistoryStore(db *sql.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

func (s *HistoryStore) Append(ctx context.Context, entry models.HistoryEntry) error {
	query := `
		INSERT INTO genforge_schema.job_history (job_id, status, recorded_at, duration_ms, result_summary)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.ExecContext(ctx, query,
		entry.JobID, entry.Status.String(), entry.Timestamp, entry.DurationMs, entry.ResultSummary,
	)
	return err
}

func (s *HistoryStore) ListByJob(ctx context.Context, jobID string) ([]models.HistoryEntry, error) {
	query := `
		SELECT job_id, status, recorded_at, duration_ms, result_summary
		FROM genforge_schema.job_history
		WHERE job_id = $1
		ORDER BY recorded_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var entry models.HistoryEntry
		var status string
		if err := rows.Scan(&entry.JobID, &status, &entry.Timestamp, &entry.DurationMs, &entry.ResultSummary); err != nil {
			return nil, err
		}
		entry.Status = state.JobStatus(status)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *HistoryStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM genforge_schema.job_history WHERE recorded_at < $1`
	res, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *HistoryStore) Close() error {
	return s.db.Close()
}
