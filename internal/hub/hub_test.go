package hub

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/mpreston/matchpoint/internal/engine"
	"github.com/mpreston/matchpoint/internal/session"
	"github.com/mpreston/matchpoint/internal/store"
)

func recvSession(t *testing.T, ch <-chan *session.Session) *session.Session {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for session reply")
		return nil // unreachable
	}
}

func TestHub_EnsureLoadsFromStore(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := store.NewMemory()
	series := engine.NewSeries("s1", 3,
		engine.Player{UserID: "u1", Username: "alice"},
		engine.Player{UserID: "u2", Username: "bob"},
		time.Now())
	series.Status = engine.StatusActive
	if err := repo.CreateSeries(ctx, series); err != nil {
		t.Fatalf("seed series: %v", err)
	}

	h := NewHub(ctx, repo, clockwork.NewFakeClock(), zap.NewNop())

	reply := make(chan *session.Session, 1)
	h.Inbox() <- EnsureSession{ID: "s1", Reply: reply}
	first := recvSession(t, reply)
	if first == nil {
		t.Fatalf("expected a session for a stored series")
	}

	// Same actor on repeat lookups.
	h.Inbox() <- EnsureSession{ID: "s1", Reply: reply}
	if second := recvSession(t, reply); second != first {
		t.Fatalf("ensure must be idempotent per session id")
	}

	h.Inbox() <- GetSession{ID: "s1", Reply: reply}
	if got := recvSession(t, reply); got != first {
		t.Fatalf("get returned a different session")
	}
}

func TestHub_ConcurrentEnsureSharesOneActor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := store.NewMemory()
	series := engine.NewSeries("s1", 3,
		engine.Player{UserID: "u1", Username: "alice"},
		engine.Player{UserID: "u2", Username: "bob"},
		time.Now())
	series.Status = engine.StatusActive
	if err := repo.CreateSeries(ctx, series); err != nil {
		t.Fatalf("seed series: %v", err)
	}

	h := NewHub(ctx, repo, clockwork.NewFakeClock(), zap.NewNop())

	// Two lookups land before the load finishes; both must get the same actor.
	reply1 := make(chan *session.Session, 1)
	reply2 := make(chan *session.Session, 1)
	h.Inbox() <- EnsureSession{ID: "s1", Reply: reply1}
	h.Inbox() <- EnsureSession{ID: "s1", Reply: reply2}

	first := recvSession(t, reply1)
	second := recvSession(t, reply2)
	if first == nil || first != second {
		t.Fatalf("concurrent lookups must share one actor: %p vs %p", first, second)
	}
}

func TestHub_EnsureUnknownSeries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHub(ctx, store.NewMemory(), clockwork.NewFakeClock(), zap.NewNop())

	reply := make(chan *session.Session, 1)
	h.Inbox() <- EnsureSession{ID: "missing", Reply: reply}
	if s := recvSession(t, reply); s != nil {
		t.Fatalf("unknown series must not spawn a session")
	}
}
