// Package dedup guards against duplicate meeting dispatches: double-clicks
// and client retries that would trigger a second expensive engine run.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"
)

// Guard decides whether a dispatch request is a duplicate of one seen
// recently. Check records the fingerprint as a side effect when it is new.
type Guard interface {
	// Check returns true when the fingerprint was seen within the reject
	// window. A duplicate does not refresh the window.
	Check(ctx context.Context, fingerprint string) (duplicate bool, err error)
}

// Fingerprint derives the dedup key from the dispatch identity: same task
// text, same persona set (order-insensitive), same dialogue kind.
func Fingerprint(task string, personas []string, dialogueKind string) string {
	sorted := append([]string(nil), personas...)
	sort.Strings(sorted)
	h := sha256.New()
	h.Write([]byte(task))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(sorted, ",")))
	h.Write([]byte{0})
	h.Write([]byte(dialogueKind))
	return hex.EncodeToString(h.Sum(nil))
}

// LocalGuard keeps fingerprints in process memory. The clock is injected so
// the window boundaries are testable without sleeping.
type LocalGuard struct {
	mu       sync.Mutex
	seen     map[string]time.Time
	window   time.Duration
	eviction time.Duration
	now      func() time.Time
}

func NewLocalGuard(window, eviction time.Duration, now func() time.Time) *LocalGuard {
	if now == nil {
		now = time.Now
	}
	return &LocalGuard{
		seen:     make(map[string]time.Time),
		window:   window,
		eviction: eviction,
		now:      now,
	}
}

func (g *LocalGuard) Check(_ context.Context, fingerprint string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	g.evict(now)
	if at, ok := g.seen[fingerprint]; ok && now.Sub(at) < g.window {
		return true, nil
	}
	g.seen[fingerprint] = now
	return false, nil
}

// evict drops entries past the eviction horizon. Entries between the reject
// window and the horizon linger but no longer reject; they are swept here.
func (g *LocalGuard) evict(now time.Time) {
	for fp, at := range g.seen {
		if now.Sub(at) >= g.eviction {
			delete(g.seen, fp)
		}
	}
}
