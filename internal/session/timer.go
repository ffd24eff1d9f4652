package session

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mpreston/matchpoint/internal/engine"
)

// TurnSeconds is the fixed per-turn time limit, counted down one tick per
// second.
const TurnSeconds = 15

// turnTimer runs the countdown for one session. Ticks and the expiry are
// delivered into the session inbox, so they pass through the same per-session
// serialization as moves. Every Arm or Stop bumps the generation; an expiry
// whose generation no longer matches is stale and must be dropped. That guards
// the race where a move lands in the same tick window the timeout fires.
type turnTimer struct {
	clock  clockwork.Clock
	inbox  chan<- Msg
	gen    int
	cancel context.CancelFunc
}

type timerTick struct {
	Gen       int
	Symbol    engine.Symbol
	Remaining int
}

type timerExpired struct {
	Gen    int
	Symbol engine.Symbol
}

func (timerTick) isSessionMsg()    {}
func (timerExpired) isSessionMsg() {}

// Arm replaces any running countdown with a fresh one for symbol.
func (t *turnTimer) Arm(parent context.Context, symbol engine.Symbol) {
	t.Stop()
	ctx, cancel := context.WithCancel(parent)
	t.cancel = cancel
	go t.countdown(ctx, t.gen, symbol)
}

// Stop cancels the active schedule and invalidates in-flight expiries for it.
func (t *turnTimer) Stop() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.gen++
}

func (t *turnTimer) countdown(ctx context.Context, gen int, symbol engine.Symbol) {
	remaining := TurnSeconds
	// The initial value counts as a tick.
	t.send(ctx, timerTick{Gen: gen, Symbol: symbol, Remaining: remaining})

	ticker := t.clock.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			remaining--
			t.send(ctx, timerTick{Gen: gen, Symbol: symbol, Remaining: remaining})
			if remaining <= 0 {
				t.send(ctx, timerExpired{Gen: gen, Symbol: symbol})
				return
			}
		}
	}
}

func (t *turnTimer) send(ctx context.Context, m Msg) {
	select {
	case t.inbox <- m:
	case <-ctx.Done():
	}
}
