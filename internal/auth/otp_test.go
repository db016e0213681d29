package auth

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

var t0 = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func TestHashToken_consistency(t *testing.T) {
	h1 := hashToken("token", "test-salt")
	h2 := hashToken("token", "test-salt")
	assert.Equal(t, h1, h2, "hash should be deterministic")
	assert.Len(t, h1, 32, "SHA-256 hash should be 32 bytes")
	assert.NotEqual(t, h1, hashToken("token", "other-salt"))
	assert.NotEqual(t, h1, hashToken("other", "test-salt"))
}

func TestDeriveToken_deterministic(t *testing.T) {
	a := deriveToken("salt", "ref-1", 1)
	assert.Equal(t, a, deriveToken("salt", "ref-1", 1))
	assert.NotEqual(t, a, deriveToken("salt", "ref-1", 2))
	assert.NotEqual(t, a, deriveToken("salt", "ref-2", 1))
	_, err := hex.DecodeString(a)
	require.NoError(t, err)
	assert.Len(t, a, 32)
}

func TestConstantTimeCompare(t *testing.T) {
	assert.True(t, constantTimeCompare([]byte("same"), []byte("same")))
	assert.False(t, constantTimeCompare([]byte("same"), []byte("diff")))
	assert.False(t, constantTimeCompare([]byte("a"), []byte("ab")))
	assert.False(t, constantTimeCompare(nil, []byte("x")))
}

func TestOtpStub_IssueAndValidate(t *testing.T) {
	clock := &fakeClock{t: t0}
	stub := NewOtpStub(StubConfig{Salt: "s", Now: clock.Now})
	stub.Register("ref-1", "04:AA:BB")
	ctx := context.Background()

	session, err := stub.IssueFromReference(ctx, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, "04:AA:BB", session.ChipUID)
	assert.NotEmpty(t, session.Token)

	uid, err := stub.Validate(ctx, session.Token)
	require.NoError(t, err)
	assert.Equal(t, "04:AA:BB", uid)

	_, err = stub.IssueFromReference(ctx, "ref-1")
	assert.ErrorIs(t, err, ErrInvalidReference, "references are single use")

	_, err = stub.IssueFromReference(ctx, "never-registered")
	assert.ErrorIs(t, err, ErrInvalidReference)
	assert.NotErrorIs(t, err, ErrUpstreamUnavailable)

	_, err = stub.Validate(ctx, "bogus")
	assert.ErrorIs(t, err, ErrExpiredOrUnknownToken)
}

func TestOtpStub_Expiry(t *testing.T) {
	clock := &fakeClock{t: t0}
	stub := NewOtpStub(StubConfig{Salt: "s", Now: clock.Now})
	stub.Register("ref", "04:01")
	ctx := context.Background()

	session, err := stub.IssueFromReference(ctx, "ref")
	require.NoError(t, err)

	clock.Advance(29 * time.Minute)
	_, err = stub.Validate(ctx, session.Token)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, err = stub.Validate(ctx, session.Token)
	assert.ErrorIs(t, err, ErrExpiredOrUnknownToken, "token expires after 30 minutes")
}

func TestOtpStub_Revoke(t *testing.T) {
	stub := NewOtpStub(StubConfig{Salt: "s"})
	stub.Register("ref", "04:02")
	ctx := context.Background()

	session, err := stub.IssueFromReference(ctx, "ref")
	require.NoError(t, err)
	stub.Revoke(session.Token)

	_, err = stub.Validate(ctx, session.Token)
	assert.ErrorIs(t, err, ErrExpiredOrUnknownToken)
}

func TestOtpStub_DevMode(t *testing.T) {
	ctx := context.Background()

	strict := NewOtpStub(StubConfig{Salt: "s"})
	_, err := strict.IssueFromReference(ctx, "dev:04:99")
	assert.ErrorIs(t, err, ErrInvalidReference, "dev references need dev mode")

	dev := NewOtpStub(StubConfig{Salt: "s", DevMode: true})
	session, err := dev.IssueFromReference(ctx, "dev:04:99")
	require.NoError(t, err)
	assert.Equal(t, "04:99", session.ChipUID)

	_, err = dev.IssueFromReference(ctx, "dev:04:99")
	assert.ErrorIs(t, err, ErrInvalidReference)

	_, err = dev.IssueFromReference(ctx, "dev:")
	assert.ErrorIs(t, err, ErrInvalidReference)
}

func TestOtpStub_CanceledContextIsUnavailable(t *testing.T) {
	stub := NewOtpStub(StubConfig{Salt: "s"})
	stub.Register("ref", "04:03")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := stub.IssueFromReference(ctx, "ref")
	assert.ErrorIs(t, err, ErrInvalidReference)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)

	_, err = stub.Validate(ctx, "tok")
	assert.ErrorIs(t, err, ErrExpiredOrUnknownToken)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}
