package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIYKServer(t *testing.T, handler http.HandlerFunc) *IYKClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewIYKClient(srv.URL, time.Second)
}

func TestIYKClient_IssueFromReference(t *testing.T) {
	client := newIYKServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		switch r.URL.Path {
		case "/refs/good":
			w.Write([]byte(`{"isValidRef":true,"uid":"04:AB:CD","otp":{"code":"otp-123"}}`))
		case "/refs/bad":
			w.Write([]byte(`{"isValidRef":false,"uid":null,"otp":null}`))
		case "/refs/nouid":
			w.Write([]byte(`{"isValidRef":true,"uid":null,"otp":{"code":"x"}}`))
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	session, err := client.IssueFromReference(ctx, "good")
	require.NoError(t, err)
	assert.Equal(t, "04:AB:CD", session.ChipUID)
	assert.Equal(t, "otp-123", session.Token)

	for _, ref := range []string{"bad", "nouid", "missing", ""} {
		_, err := client.IssueFromReference(ctx, ref)
		assert.ErrorIs(t, err, ErrInvalidReference, ref)
		assert.NotErrorIs(t, err, ErrUpstreamUnavailable, ref)
	}
}

func TestIYKClient_Validate(t *testing.T) {
	client := newIYKServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/otps/live":
			w.Write([]byte(`{"isExpired":false,"uid":"04:AB:CD"}`))
		case "/otps/old":
			w.Write([]byte(`{"isExpired":true,"uid":"04:AB:CD"}`))
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	uid, err := client.Validate(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, "04:AB:CD", uid)

	_, err = client.Validate(ctx, "old")
	assert.ErrorIs(t, err, ErrExpiredOrUnknownToken)
	_, err = client.Validate(ctx, "unknown")
	assert.ErrorIs(t, err, ErrExpiredOrUnknownToken)
	assert.NotErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestIYKClient_Unavailable(t *testing.T) {
	ctx := context.Background()

	broken := newIYKServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})
	_, err := broken.Validate(ctx, "tok")
	assert.ErrorIs(t, err, ErrExpiredOrUnknownToken, "an outage never authenticates")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)

	garbage := newIYKServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	})
	_, err = garbage.IssueFromReference(ctx, "ref")
	assert.ErrorIs(t, err, ErrInvalidReference)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)

	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(slow.Close)
	t.Cleanup(func() { close(release) })
	client := NewIYKClient(slow.URL, 50*time.Millisecond)

	start := time.Now()
	_, err = client.Validate(ctx, "tok")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Less(t, time.Since(start), 2*time.Second)

	var netErr interface{ Timeout() bool }
	assert.True(t, errors.As(err, &netErr) && netErr.Timeout(), "timeouts are reported as such")
}
