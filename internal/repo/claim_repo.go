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

// ClaimRepo defines the interface for the claim ledger
type ClaimRepo interface {
	CreateIfAbsent(ctx context.Context, chipID, periodID uuid.UUID, walletAddress *string, now time.Time) (claim model.Claim, created bool, err error)
	Find(ctx context.Context, chipID, periodID uuid.UUID) (model.Claim, error)
	CountByPeriod(ctx context.Context, periodID uuid.UUID) (int, error)
}

type claimRepo struct {
	store
}

// NewClaimRepo creates a new ClaimRepo instance
func NewClaimRepo(database *sql.DB, dialect db.Dialect) ClaimRepo {
	return &claimRepo{store: newStore(database, dialect)}
}

const claimColumns = `id, chip_id, reward_period_id, wallet_address, claimed_at`

// CreateIfAbsent inserts the claim for (chipID, periodID) unless one exists. The unique
// index on the pair decides the race: losing the insert is the "already claimed" signal
// and the winner's claim is returned with created=false.
func (r *claimRepo) CreateIfAbsent(ctx context.Context, chipID, periodID uuid.UUID, walletAddress *string, now time.Time) (model.Claim, bool, error) {
	query := `
		INSERT INTO claims (id, chip_id, reward_period_id, wallet_address, claimed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (chip_id, reward_period_id) DO NOTHING
		RETURNING ` + claimColumns

	claim, err := scanClaim(r.db.QueryRowContext(ctx, r.rebind(query),
		uuid.NewString(), chipID.String(), periodID.String(), walletAddress, dbTime(now)))
	switch {
	case err == nil:
		return claim, true, nil
	case errors.Is(err, sql.ErrNoRows), isUniqueViolation(err):
		existing, findErr := r.Find(ctx, chipID, periodID)
		if findErr != nil {
			return model.Claim{}, false, fmt.Errorf("load existing claim: %w", findErr)
		}
		return existing, false, nil
	default:
		return model.Claim{}, false, fmt.Errorf("insert claim: %w", err)
	}
}

// Find returns the claim of a chip in a period
func (r *claimRepo) Find(ctx context.Context, chipID, periodID uuid.UUID) (model.Claim, error) {
	query := `
		SELECT ` + claimColumns + `
		FROM claims
		WHERE chip_id = $1 AND reward_period_id = $2
	`
	claim, err := scanClaim(r.db.QueryRowContext(ctx, r.rebind(query), chipID.String(), periodID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Claim{}, ErrClaimNotFound
		}
		return model.Claim{}, fmt.Errorf("query claim: %w", err)
	}
	return claim, nil
}

// CountByPeriod returns how many chips claimed in a period
func (r *claimRepo) CountByPeriod(ctx context.Context, periodID uuid.UUID) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM claims WHERE reward_period_id = $1`
	if err := r.db.QueryRowContext(ctx, r.rebind(query), periodID.String()).Scan(&count); err != nil {
		return 0, fmt.Errorf("count claims: %w", err)
	}
	return count, nil
}

func scanClaim(row rowScanner) (model.Claim, error) {
	var claim model.Claim
	var idStr, chipIDStr, periodIDStr string
	if err := row.Scan(&idStr, &chipIDStr, &periodIDStr, &claim.WalletAddress, &claim.ClaimedAt); err != nil {
		return model.Claim{}, err
	}
	var err error
	if claim.ID, err = uuid.Parse(idStr); err != nil {
		return model.Claim{}, fmt.Errorf("failed to parse claim ID: %w", err)
	}
	if claim.ChipID, err = uuid.Parse(chipIDStr); err != nil {
		return model.Claim{}, fmt.Errorf("failed to parse chip ID: %w", err)
	}
	if claim.RewardPeriodID, err = uuid.Parse(periodIDStr); err != nil {
		return model.Claim{}, fmt.Errorf("failed to parse period ID: %w", err)
	}
	claim.ClaimedAt = claim.ClaimedAt.UTC()
	return claim, nil
}
