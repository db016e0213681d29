package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tapreward/server/internal/model"
)

const (
	defaultSessionTTL = 30 * time.Minute
	devRefPrefix      = "dev:"
)

// StubConfig configures an OtpStub.
type StubConfig struct {
	Salt string
	// TTL is how long an issued token stays valid. Defaults to 30 minutes.
	TTL time.Duration
	// DevMode accepts references of the form "dev:<uid>", each once.
	DevMode bool
	Now     func() time.Time
}

type stubSession struct {
	chipUID   string
	tokenHash []byte
	expiresAt time.Time
}

// OtpStub is an in-memory TapAuthority for development and tests. References are
// single use; tokens are derived deterministically from the salt, the reference and a
// sequence number, and only their hashes are kept.
type OtpStub struct {
	salt    string
	ttl     time.Duration
	devMode bool
	now     func() time.Time

	mu       sync.Mutex
	refs     map[string]string // ref -> chip UID, removed when consumed
	used     map[string]bool
	sessions map[string]*stubSession // keyed by hex token hash
	seq      uint64
}

// NewOtpStub creates a stub authority
func NewOtpStub(cfg StubConfig) *OtpStub {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultSessionTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &OtpStub{
		salt:     cfg.Salt,
		ttl:      cfg.TTL,
		devMode:  cfg.DevMode,
		now:      cfg.Now,
		refs:     make(map[string]string),
		used:     make(map[string]bool),
		sessions: make(map[string]*stubSession),
	}
}

// Register makes ref a valid, unused reference for chipUID.
func (p *OtpStub) Register(ref, chipUID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refs[ref] = chipUID
	delete(p.used, ref)
}

// IssueFromReference consumes ref and issues a token valid for the configured TTL.
func (p *OtpStub) IssueFromReference(ctx context.Context, ref string) (model.TapSession, error) {
	if err := ctx.Err(); err != nil {
		return model.TapSession{}, fmt.Errorf("%w: %w: %w", ErrInvalidReference, ErrUpstreamUnavailable, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.used[ref] {
		return model.TapSession{}, fmt.Errorf("%w: reference already used", ErrInvalidReference)
	}
	uid, ok := p.refs[ref]
	if !ok && p.devMode {
		uid, ok = strings.CutPrefix(ref, devRefPrefix)
		ok = ok && uid != ""
	}
	if !ok {
		return model.TapSession{}, ErrInvalidReference
	}
	delete(p.refs, ref)
	p.used[ref] = true

	p.seq++
	token := deriveToken(p.salt, ref, p.seq)
	hash := hashToken(token, p.salt)
	p.sessions[hex.EncodeToString(hash)] = &stubSession{
		chipUID:   uid,
		tokenHash: hash,
		expiresAt: p.now().Add(p.ttl),
	}
	return model.TapSession{ChipUID: uid, Token: token}, nil
}

// Validate returns the chip UID of a live token.
func (p *OtpStub) Validate(ctx context.Context, token string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w: %w", ErrExpiredOrUnknownToken, ErrUpstreamUnavailable, err)
	}
	hash := hashToken(token, p.salt)

	p.mu.Lock()
	defer p.mu.Unlock()

	session, ok := p.sessions[hex.EncodeToString(hash)]
	if !ok || !constantTimeCompare(hash, session.tokenHash) {
		return "", ErrExpiredOrUnknownToken
	}
	if !p.now().Before(session.expiresAt) {
		delete(p.sessions, hex.EncodeToString(hash))
		return "", ErrExpiredOrUnknownToken
	}
	return session.chipUID, nil
}

// Revoke invalidates token as if it expired upstream.
func (p *OtpStub) Revoke(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, hex.EncodeToString(hashToken(token, p.salt)))
}

// deriveToken returns SHA-256(salt:ref:seq) truncated to 16 bytes, hex encoded.
func deriveToken(salt, ref string, seq uint64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d", salt, ref, seq)))
	return hex.EncodeToString(sum[:16])
}

func hashToken(token, salt string) []byte {
	sum := sha256.Sum256([]byte(token + ":" + salt))
	return sum[:]
}

func constantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
