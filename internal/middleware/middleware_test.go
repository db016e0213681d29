package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tapreward/server/internal/auth"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRateLimiter_Bucket(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(time.Minute, 60, 3)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("ip:1"), "burst request %d", i)
	}
	assert.False(t, rl.Allow("ip:1"), "burst exhausted")
	assert.True(t, rl.Allow("ip:2"), "keys are independent")

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("ip:1"), "one token per second refills")
	assert.False(t, rl.Allow("ip:1"))
}

func TestRateLimiter_PrunesIdleKeys(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(time.Minute, 10, 0)
	rl.now = func() time.Time { return now }

	rl.Allow("ip:a")
	rl.Allow("ip:b")
	assert.Equal(t, 2, rl.Len())

	now = now.Add(3 * time.Minute)
	rl.Allow("ip:c")
	assert.Equal(t, 1, rl.Len())
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(time.Minute, 1, 1)
	h := RateLimitMiddleware(rl, GetIPKey)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	req.RemoteAddr = "10.0.0.1:6666"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code, "ports do not split the key")
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "rate limit exceeded", body["error"])
}

func TestGetIPKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[2001:db8::1]:443"
	assert.Equal(t, "ip:2001:db8::1", GetIPKey(req))
	req.RemoteAddr = "203.0.113.9"
	assert.Equal(t, "ip:203.0.113.9", GetIPKey(req))
}

func TestAdminMiddleware(t *testing.T) {
	jwtService := auth.NewJWTService("secret")
	var subject string
	h := AdminMiddleware(jwtService)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, _ = GetAdminSubject(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	token, err := jwtService.SignAdminToken("ops", time.Hour)
	require.NoError(t, err)

	cases := map[string]int{
		"":                   http.StatusUnauthorized,
		"Basic abc":          http.StatusUnauthorized,
		"Bearer ":            http.StatusUnauthorized,
		"Bearer not-a-token": http.StatusUnauthorized,
		"Bearer " + token:    http.StatusOK,
	}
	for header, want := range cases {
		req := httptest.NewRequest(http.MethodPost, "/admin/periods", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, "header %q", header)
	}
	assert.Equal(t, "ops", subject)
}

func TestSessionMiddleware(t *testing.T) {
	var got string
	var ok bool
	h := SessionMiddleware("tap-session")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = GetSessionToken(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.False(t, ok)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "tap-session", Value: "from-cookie"})
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.True(t, ok)
	assert.Equal(t, "from-cookie", got)

	req.Header.Set(SessionHeader, "from-header")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "from-header", got, "the header wins over the cookie")
}
