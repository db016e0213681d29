package auth

import (
	"context"
	"errors"

	"github.com/tapreward/server/internal/model"
)

var (
	// ErrInvalidReference means the upstream did not accept the tap reference.
	ErrInvalidReference = errors.New("invalid tap reference")
	// ErrExpiredOrUnknownToken means the session token is expired, revoked or was never issued.
	ErrExpiredOrUnknownToken = errors.New("session token expired or unknown")
	// ErrUpstreamUnavailable is joined onto the rejection sentinels when the tap
	// authority could not be reached or answered nonsense. Callers that distinguish
	// outages from rejections test for it first.
	ErrUpstreamUnavailable = errors.New("tap authority unavailable")
)

// TapAuthority exchanges a one-time tap reference for a session token and later maps
// that token back to the chip UID it was issued for.
type TapAuthority interface {
	IssueFromReference(ctx context.Context, ref string) (model.TapSession, error)
	Validate(ctx context.Context, token string) (chipUID string, err error)
}
