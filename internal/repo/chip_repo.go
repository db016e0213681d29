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

// ChipRepo defines the interface for chip registry operations
type ChipRepo interface {
	Resolve(ctx context.Context, uid string, now time.Time) (model.Chip, error)
	Touch(ctx context.Context, uid string, now time.Time) (model.Chip, error)
	GetByUID(ctx context.Context, uid string) (model.Chip, error)
}

type chipRepo struct {
	store
}

// NewChipRepo creates a new ChipRepo instance
func NewChipRepo(database *sql.DB, dialect db.Dialect) ChipRepo {
	return &chipRepo{store: newStore(database, dialect)}
}

const chipColumns = `id, uid, first_seen_at, last_seen_at`

// Resolve returns the chip for uid, creating it on first sight. A single upsert on the
// unique uid index keeps concurrent resolutions from creating duplicates.
func (r *chipRepo) Resolve(ctx context.Context, uid string, now time.Time) (model.Chip, error) {
	query := `
		INSERT INTO chips (id, uid, first_seen_at, last_seen_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (uid) DO UPDATE SET last_seen_at = excluded.last_seen_at
		RETURNING ` + chipColumns

	chip, err := scanChip(r.db.QueryRowContext(ctx, r.rebind(query), uuid.NewString(), uid, dbTime(now)))
	if err != nil {
		return model.Chip{}, fmt.Errorf("failed to upsert chip: %w", err)
	}
	return chip, nil
}

// Touch bumps last_seen_at of an existing chip without creating one.
func (r *chipRepo) Touch(ctx context.Context, uid string, now time.Time) (model.Chip, error) {
	query := `
		UPDATE chips SET last_seen_at = $2
		WHERE uid = $1
		RETURNING ` + chipColumns

	chip, err := scanChip(r.db.QueryRowContext(ctx, r.rebind(query), uid, dbTime(now)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Chip{}, ErrChipNotFound
		}
		return model.Chip{}, fmt.Errorf("failed to touch chip: %w", err)
	}
	return chip, nil
}

// GetByUID retrieves a chip by its hardware UID
func (r *chipRepo) GetByUID(ctx context.Context, uid string) (model.Chip, error) {
	query := `SELECT ` + chipColumns + ` FROM chips WHERE uid = $1`

	chip, err := scanChip(r.db.QueryRowContext(ctx, r.rebind(query), uid))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Chip{}, ErrChipNotFound
		}
		return model.Chip{}, fmt.Errorf("failed to query chip: %w", err)
	}
	return chip, nil
}

func scanChip(row rowScanner) (model.Chip, error) {
	var chip model.Chip
	var idStr string
	if err := row.Scan(&idStr, &chip.UID, &chip.FirstSeenAt, &chip.LastSeenAt); err != nil {
		return model.Chip{}, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return model.Chip{}, fmt.Errorf("failed to parse chip ID: %w", err)
	}
	chip.ID = id
	chip.FirstSeenAt = chip.FirstSeenAt.UTC()
	chip.LastSeenAt = chip.LastSeenAt.UTC()
	return chip, nil
}
