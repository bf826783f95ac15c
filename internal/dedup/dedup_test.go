package dedup

import (
	"context"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestLocalGuardRejectsWithinWindow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	g := NewLocalGuard(2*time.Second, 5*time.Second, clock.now)
	fp := Fingerprint("should we raise?", []string{"Sam_Altman"}, "board")

	if dup, _ := g.Check(context.Background(), fp); dup {
		t.Fatal("first check must not be a duplicate")
	}
	clock.advance(1500 * time.Millisecond)
	if dup, _ := g.Check(context.Background(), fp); !dup {
		t.Fatal("second check inside the window must be a duplicate")
	}
}

func TestLocalGuardAllowsAfterWindow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	g := NewLocalGuard(2*time.Second, 5*time.Second, clock.now)
	fp := Fingerprint("hire a CTO?", []string{"Jensen_Huang"}, "board")

	g.Check(context.Background(), fp)
	clock.advance(2 * time.Second)
	if dup, _ := g.Check(context.Background(), fp); dup {
		t.Fatal("check at window boundary must be allowed")
	}
}

func TestLocalGuardDuplicateDoesNotRefreshWindow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	g := NewLocalGuard(2*time.Second, 5*time.Second, clock.now)
	fp := Fingerprint("pivot to enterprise?", []string{"Andrew_Ng"}, "email")

	g.Check(context.Background(), fp)
	clock.advance(1900 * time.Millisecond)
	if dup, _ := g.Check(context.Background(), fp); !dup {
		t.Fatal("expected duplicate")
	}
	// The rejected call must not have bumped the timestamp: 200ms later the
	// original entry is past the window.
	clock.advance(200 * time.Millisecond)
	if dup, _ := g.Check(context.Background(), fp); dup {
		t.Fatal("rejection must not extend the window")
	}
}

func TestLocalGuardEviction(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	g := NewLocalGuard(2*time.Second, 5*time.Second, clock.now)
	fp := Fingerprint("open a london office?", []string{"Demis_Hassabis"}, "board")

	g.Check(context.Background(), fp)
	clock.advance(5 * time.Second)
	g.Check(context.Background(), Fingerprint("other", nil, "board"))
	g.mu.Lock()
	_, present := g.seen[fp]
	g.mu.Unlock()
	if present {
		t.Fatal("entry past the eviction horizon must be swept")
	}
}

func TestFingerprintPersonaOrderInsensitive(t *testing.T) {
	a := Fingerprint("task", []string{"Sam_Altman", "Fei_Fei_Li"}, "board")
	b := Fingerprint("task", []string{"Fei_Fei_Li", "Sam_Altman"}, "board")
	if a != b {
		t.Fatal("persona order must not change the fingerprint")
	}
}

func TestFingerprintDistinguishesDialogueKind(t *testing.T) {
	a := Fingerprint("task", []string{"Sam_Altman"}, "board")
	b := Fingerprint("task", []string{"Sam_Altman"}, "chat")
	if a == b {
		t.Fatal("different dialogue kinds must not collide")
	}
}
