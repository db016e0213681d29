package model

import (
	"time"

	"github.com/google/uuid"
)

// Chip represents a physical NFC chip identified by its hardware UID
type Chip struct {
	ID          uuid.UUID
	UID         string
	FirstSeenAt time.Time
	LastSeenAt  time.Time
}

// RewardPeriod represents a window during which claims are accepted.
// EndedAt is nil while the period is open-ended.
type RewardPeriod struct {
	ID        uuid.UUID
	StartedAt time.Time
	EndedAt   *time.Time
	OpenedBy  string
}

// ActiveAt reports whether the period accepts claims at t
func (p RewardPeriod) ActiveAt(t time.Time) bool {
	if p.StartedAt.After(t) {
		return false
	}
	return p.EndedAt == nil || p.EndedAt.After(t)
}

// Claim records a chip redeeming the reward of one period
type Claim struct {
	ID             uuid.UUID
	ChipID         uuid.UUID
	RewardPeriodID uuid.UUID
	WalletAddress  *string
	ClaimedAt      time.Time
}

// TapSession is what the tap authority hands back for a valid reference.
// Token may be empty when the authority validated the tap without issuing an OTP.
type TapSession struct {
	ChipUID string
	Token   string
}
