package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tapreward/server/internal/db"
	"github.com/tapreward/server/internal/model"
)

// PeriodRepo defines the interface for reward period operations
type PeriodRepo interface {
	Start(ctx context.Context, openedBy string, now time.Time, duration time.Duration) (model.RewardPeriod, error)
	Stop(ctx context.Context, now time.Time) (bool, error)
	GetActive(ctx context.Context, now time.Time) (*model.RewardPeriod, error)
	ListRecent(ctx context.Context, limit int) ([]model.RewardPeriod, error)
}

type periodRepo struct {
	store
}

// NewPeriodRepo creates a new PeriodRepo instance
func NewPeriodRepo(database *sql.DB, dialect db.Dialect) PeriodRepo {
	return &periodRepo{store: newStore(database, dialect)}
}

const periodColumns = `id, started_at, ended_at, opened_by`

// closeOpenPeriods ends every period that is still open at now.
const closeOpenPeriods = `
	UPDATE reward_periods
	SET ended_at = $1
	WHERE ended_at IS NULL OR ended_at > $1
`

// Start closes any open period and opens a new one in a single transaction, so readers
// observe either the old period or the new one, never both and never neither.
// A non-positive duration opens an open-ended period.
func (r *periodRepo) Start(ctx context.Context, openedBy string, now time.Time, duration time.Duration) (model.RewardPeriod, error) {
	now = dbTime(now)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.RewardPeriod{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := r.lockPeriods(ctx, tx); err != nil {
		return model.RewardPeriod{}, err
	}

	if _, err := tx.ExecContext(ctx, r.rebind(closeOpenPeriods), now); err != nil {
		return model.RewardPeriod{}, fmt.Errorf("close open periods: %w", err)
	}

	var endedAt *time.Time
	if duration > 0 {
		end := now.Add(duration)
		endedAt = &end
	}

	query := `
		INSERT INTO reward_periods (id, started_at, ended_at, opened_by)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + periodColumns
	period, err := scanPeriod(tx.QueryRowContext(ctx, r.rebind(query), uuid.NewString(), now, endedAt, openedBy))
	if err != nil {
		return model.RewardPeriod{}, fmt.Errorf("insert period: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.RewardPeriod{}, fmt.Errorf("commit: %w", err)
	}
	return period, nil
}

// Stop ends the open period. Reports false when nothing was open.
func (r *periodRepo) Stop(ctx context.Context, now time.Time) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := r.lockPeriods(ctx, tx); err != nil {
		return false, err
	}

	result, err := tx.ExecContext(ctx, r.rebind(closeOpenPeriods), dbTime(now))
	if err != nil {
		return false, fmt.Errorf("close open periods: %w", err)
	}
	n, _ := result.RowsAffected()

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return n > 0, nil
}

// GetActive returns the period accepting claims at now, or nil. The newest start wins
// should more than one ever qualify.
func (r *periodRepo) GetActive(ctx context.Context, now time.Time) (*model.RewardPeriod, error) {
	query := `
		SELECT ` + periodColumns + `
		FROM reward_periods
		WHERE started_at <= $1
		  AND (ended_at IS NULL OR ended_at > $1)
		ORDER BY started_at DESC
		LIMIT 1
	`
	period, err := scanPeriod(r.db.QueryRowContext(ctx, r.rebind(query), dbTime(now)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query active period: %w", err)
	}
	return &period, nil
}

// ListRecent returns the most recently started periods, newest first.
func (r *periodRepo) ListRecent(ctx context.Context, limit int) ([]model.RewardPeriod, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT ` + periodColumns + `
		FROM reward_periods
		ORDER BY started_at DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit)
	if err != nil {
		return nil, fmt.Errorf("list periods: %w", err)
	}
	defer rows.Close()

	var periods []model.RewardPeriod
	for rows.Next() {
		period, err := scanPeriod(rows)
		if err != nil {
			return nil, fmt.Errorf("scan period: %w", err)
		}
		periods = append(periods, period)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list periods: %w", err)
	}
	return periods, nil
}

// lockPeriods serialises period transitions across connections. SQLite already
// allows a single writer.
func (r *periodRepo) lockPeriods(ctx context.Context, tx *sql.Tx) error {
	if r.dialect != db.DialectPostgres {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(2, hashtext('reward_periods'))`); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPeriod(row rowScanner) (model.RewardPeriod, error) {
	var period model.RewardPeriod
	var idStr string
	if err := row.Scan(&idStr, &period.StartedAt, &period.EndedAt, &period.OpenedBy); err != nil {
		return model.RewardPeriod{}, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return model.RewardPeriod{}, fmt.Errorf("failed to parse period ID: %w", err)
	}
	period.ID = id
	period.StartedAt = period.StartedAt.UTC()
	period.EndedAt = utcPtr(period.EndedAt)
	return period, nil
}
