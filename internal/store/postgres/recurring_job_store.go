package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"genforge/internal/models"
)

type RecurringJobStore struct {
	db *sql.DB
}

func NewRecurringJobStore(db *sql.DB) *RecurringJobStore {
	return &RecurringJobStore{db: db}
}

func (s *RecurringJobStore) AddOrUpdate(ctx context.Context, rj *models.RecurringJob) (int64, error) {
	query := `
		INSERT INTO genforge_schema.recurring_jobs (job_type, tier, payload, expression, next_run_at, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (job_type, expression) DO UPDATE SET
			tier = $2,
			payload = $3,
			next_run_at = $5,
			is_active = TRUE
		RETURNING id
	`

	var id int64
	err := s.db.QueryRowContext(ctx, query,
		rj.JobType, string(rj.Tier), rj.Payload, rj.Expression, rj.NextRunAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert or update recurring job: %w", err)
	}
	return id, nil
}

func (s *RecurringJobStore) FindByID(ctx context.Context, id int64) (*models.RecurringJob, error) {
	query := `
		SELECT id, job_type, tier, payload, expression, is_active, last_error,
		       created_at, last_run_at, next_run_at
		FROM genforge_schema.recurring_jobs
		WHERE id = $1
	`

	var rj models.RecurringJob
	var tier string
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&rj.ID, &rj.JobType, &tier, &rj.Payload, &rj.Expression, &rj.IsActive,
		&rj.LastError, &rj.CreatedAt, &rj.LastRunAt, &rj.NextRunAt,
	)
	if err != nil {
		return nil, fmt.Errorf("recurring job %d not found: %w", id, err)
	}
	rj.Tier = models.PriorityTier(tier)
	return &rj, nil
}

func (s *RecurringJobStore) FetchDue(ctx context.Context, now time.Time, page, pageSize int) (*models.PaginationResult[models.RecurringJob], error) {
	where := `is_active = TRUE AND next_run_at <= $1`
	countQuery := `SELECT COUNT(*) FROM genforge_schema.recurring_jobs WHERE ` + where
	selectQuery := `
		SELECT id, job_type, tier, payload, expression, is_active, last_error,
		       created_at, last_run_at, next_run_at
		FROM genforge_schema.recurring_jobs
		WHERE ` + where + `
		ORDER BY next_run_at ASC
		LIMIT $2 OFFSET $3`

	return s.paginate(ctx, countQuery, selectQuery, page, pageSize, now)
}

func (s *RecurringJobStore) GetAll(ctx context.Context, page, pageSize int) (*models.PaginationResult[models.RecurringJob], error) {
	countQuery := `SELECT COUNT(*) FROM genforge_schema.recurring_jobs WHERE is_active = TRUE`
	selectQuery := `
		SELECT id, job_type, tier, payload, expression, is_active, last_error,
		       created_at, last_run_at, next_run_at
		FROM genforge_schema.recurring_jobs
		WHERE is_active = TRUE
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	return s.paginate(ctx, countQuery, selectQuery, page, pageSize)
}

// paginate runs a count query and a limit/offset select sharing the same
// leading args. The limit and offset are appended as the last two args.
func (s *RecurringJobStore) paginate(ctx context.Context, countQuery, selectQuery string, page, pageSize int, args ...any) (*models.PaginationResult[models.RecurringJob], error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * pageSize

	var totalItems int
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&totalItems); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, selectQuery, append(args, pageSize, offset)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.RecurringJob
	for rows.Next() {
		var rj models.RecurringJob
		var tier string
		if err := rows.Scan(
			&rj.ID, &rj.JobType, &tier, &rj.Payload, &rj.Expression, &rj.IsActive,
			&rj.LastError, &rj.CreatedAt, &rj.LastRunAt, &rj.NextRunAt,
		); err != nil {
			return nil, err
		}
		rj.Tier = models.PriorityTier(tier)
		items = append(items, rj)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	totalPages := int(math.Ceil(float64(totalItems) / float64(pageSize)))
	return &models.PaginationResult[models.RecurringJob]{
		Items:           items,
		TotalItems:      totalItems,
		Page:            page,
		PageSize:        pageSize,
		TotalPages:      totalPages,
		HasNextPage:     page < totalPages,
		HasPreviousPage: page > 1,
	}, nil
}

func (s *RecurringJobStore) UpdateRunTimes(ctx context.Context, id int64, lastRunAt, nextRunAt time.Time) error {
	query := `
		UPDATE genforge_schema.recurring_jobs
		SET last_run_at = $2, next_run_at = $3, last_error = ''
		WHERE id = $1
	`
	_, err := s.db.ExecContext(ctx, query, id, lastRunAt, nextRunAt)
	return err
}

func (s *RecurringJobStore) MarkTriggerError(ctx context.Context, id int64, errMsg string) error {
	query := `UPDATE genforge_schema.recurring_jobs SET last_error = $2 WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, id, errMsg)
	return err
}

func (s *RecurringJobStore) Remove(ctx context.Context, id int64) error {
	query := `UPDATE genforge_schema.recurring_jobs SET is_active = FALSE WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}

func (s *RecurringJobStore) Close() error {
	return s.db.Close()
}
