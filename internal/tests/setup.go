// Package tests runs the HTTP surface end to end over a throwaway database and the
// in-memory tap authority.
package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/tapreward/server/internal/auth"
	"github.com/tapreward/server/internal/db/dbtest"
	httphandler "github.com/tapreward/server/internal/http"
	"github.com/tapreward/server/internal/http/handlers"
	"github.com/tapreward/server/internal/metrics"
	"github.com/tapreward/server/internal/repo"
	"github.com/tapreward/server/internal/reward"
)

const (
	testDomain    = "tap.example.com"
	testJWTSecret = "test-admin-secret-at-least-32-characters"
	cookieName    = "doa-tap-otp"
)

// Clock is a settable time source shared by every component of a test server.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type serverOptions struct {
	rateLimit     int
	requireWallet bool
}

// testServer holds the server and the collaborators tests reach into
type testServer struct {
	Server   *httptest.Server
	Stub     *auth.OtpStub
	Clock    *Clock
	JWT      *auth.JWTService
	Registry *prometheus.Registry
}

func newTestServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()

	database, dialect := dbtest.Open(t)
	clock := &Clock{t: time.Now().UTC().Truncate(time.Second)}
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	stub := auth.NewOtpStub(auth.StubConfig{
		Salt:    "test-salt",
		TTL:     30 * time.Minute,
		DevMode: true,
		Now:     clock.Now,
	})
	periods := reward.NewPeriodService(repo.NewPeriodRepo(database, dialect), reward.PeriodConfig{
		Duration: 10 * time.Minute,
		Now:      clock.Now,
		Metrics:  m,
	})
	svc := reward.NewService(reward.Deps{
		Authority: stub,
		Chips:     repo.NewChipRepo(database, dialect),
		Claims:    repo.NewClaimRepo(database, dialect),
		Periods:   periods,
		Metrics:   m,
	}, reward.Config{
		RequireWallet: opts.requireWallet,
		SIWEDomain:    testDomain,
		SIWEURI:       "https://" + testDomain,
		SIWEChainID:   8453,
		Now:           clock.Now,
	})

	jwtService := auth.NewJWTService(testJWTSecret)
	rateLimit := opts.rateLimit
	if rateLimit == 0 {
		rateLimit = 1000
	}
	router := httphandler.NewRouter(httphandler.RouterConfig{
		Service:        svc,
		Periods:        periods,
		JWTService:     jwtService,
		Cookie:         handlers.SessionCookie{Name: cookieName, TTL: 30 * time.Minute},
		DB:             database,
		Gatherer:       registry,
		RateLimit:      rateLimit,
		RateLimitBurst: rateLimit,
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testServer{Server: server, Stub: stub, Clock: clock, JWT: jwtService, Registry: registry}
}

func (s *testServer) BaseURL() string { return s.Server.URL }

// Client returns a client with its own cookie jar that does not follow redirects.
func (s *testServer) Client(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar:     jar,
		Timeout: 10 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (s *testServer) AdminToken(t *testing.T) string {
	t.Helper()
	token, err := s.JWT.SignAdminToken("ops", time.Hour)
	require.NoError(t, err)
	return token
}

// response is a drained HTTP response
type response struct {
	Status int
	Header http.Header
	Body   []byte
}

func (r response) decode(t *testing.T, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.Body, dst), "body: %s", r.Body)
}

func do(t *testing.T, client *http.Client, method, url string, body any, header map[string]string) response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return response{Status: resp.StatusCode, Header: resp.Header, Body: raw}
}

// errorBody matches the JSON error response
type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}
