// Package events publishes claim domain events to RabbitMQ. Publishing is best effort:
// callers log failures and carry on.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	TypeClaimCreated  = "claim.created"
	DefaultClaimQueue = "reward.claim.created"
)

// ClaimCreated is emitted once per newly recorded claim.
type ClaimCreated struct {
	Type          string    `json:"type"`
	ClaimID       uuid.UUID `json:"claim_id"`
	ChipID        uuid.UUID `json:"chip_id"`
	PeriodID      uuid.UUID `json:"reward_period_id"`
	WalletAddress *string   `json:"wallet_address,omitempty"`
	ClaimedAt     time.Time `json:"claimed_at"`
}

func (e ClaimCreated) encode() ([]byte, error) {
	if e.Type == "" {
		e.Type = TypeClaimCreated
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", e.Type, err)
	}
	return b, nil
}

// Publisher delivers claim events.
type Publisher interface {
	PublishClaimCreated(ctx context.Context, event ClaimCreated) error
	Close() error
}

// Noop discards every event. Used when no broker is configured.
type Noop struct{}

func (Noop) PublishClaimCreated(context.Context, ClaimCreated) error { return nil }
func (Noop) Close() error                                            { return nil }
