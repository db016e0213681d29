// Package replay remembers consumed sign-in nonces until the message carrying them
// expires, so a signed wallet proof is accepted once.
package replay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var ErrReplayed = errors.New("nonce already used")

// Guard consumes a nonce for an address on behalf of holder. Consuming the same pair
// again before expiresAt fails with ErrReplayed, unless it is the same holder asking,
// so a retried request passes through.
type Guard interface {
	Consume(ctx context.Context, address, nonce, holder string, expiresAt time.Time) error
}

func key(address, nonce string) string {
	return strings.ToLower(address) + ":" + nonce
}

// MemoryGuard is a process-local Guard. Expired entries are pruned on use.
type MemoryGuard struct {
	now func() time.Time

	mu      sync.Mutex
	entries map[string]entry
}

type entry struct {
	holder    string
	expiresAt time.Time
}

func NewMemoryGuard(now func() time.Time) *MemoryGuard {
	if now == nil {
		now = time.Now
	}
	return &MemoryGuard{now: now, entries: make(map[string]entry)}
}

func (g *MemoryGuard) Consume(_ context.Context, address, nonce, holder string, expiresAt time.Time) error {
	now := g.now()
	k := key(address, nonce)

	g.mu.Lock()
	defer g.mu.Unlock()

	for other, e := range g.entries {
		if now.After(e.expiresAt) {
			delete(g.entries, other)
		}
	}
	if e, seen := g.entries[k]; seen {
		if e.holder == holder {
			return nil
		}
		return ErrReplayed
	}
	g.entries[k] = entry{holder: holder, expiresAt: expiresAt}
	return nil
}

// Len reports how many nonces are currently remembered.
func (g *MemoryGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}
