package session

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/mpreston/matchpoint/internal/engine"
	"github.com/mpreston/matchpoint/internal/store"
	"github.com/mpreston/matchpoint/internal/types"
)

// helper: receive one message with a timeout so tests never hang
func recvMsg(t *testing.T, ch <-chan types.ServerMessage, within time.Duration) types.ServerMessage {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatalf("client outbox closed unexpectedly")
		}
		return msg
	case <-time.After(within):
		t.Fatalf("timed out waiting for message")
		return types.ServerMessage{} // unreachable
	}
}

// helper: receive messages until one of the wanted type arrives
func recvType(t *testing.T, ch <-chan types.ServerMessage, want string) types.ServerMessage {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				t.Fatalf("outbox closed while waiting for %q", want)
			}
			if msg.Type == want {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func recvNoType(t *testing.T, ch <-chan types.ServerMessage, unwanted string, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if msg.Type == unwanted {
				t.Fatalf("expected no %q message, got: %+v", unwanted, msg)
			}
		case <-deadline:
			return
		}
	}
}

func recvView(t *testing.T, s *Session) View {
	t.Helper()
	reply := make(chan View, 1)
	s.Inbox() <- GetState{Reply: reply}
	select {
	case v := <-reply:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for view")
		return View{} // unreachable
	}
}

func activeSeries(id string) engine.Series {
	s := engine.NewSeries(id, 3,
		engine.Player{UserID: "u1", Username: "alice"},
		engine.Player{UserID: "u2", Username: "bob"},
		time.Now())
	s.Status = engine.StatusActive
	return s
}

func startSession(t *testing.T, clk clockwork.Clock) (*Session, *store.Memory, chan types.ServerMessage) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	repo := store.NewMemory()
	series := activeSeries("s1")
	if err := repo.CreateSeries(ctx, series); err != nil {
		t.Fatalf("seed series: %v", err)
	}

	s := New(ctx, series, repo, clk, zap.NewNop())
	out := make(chan types.ServerMessage, 64)
	s.Inbox() <- Join{ClientID: "c1", UserID: "u1", Username: "alice", Outbox: out}
	recvType(t, out, types.MsgParticipantJoined)
	return s, repo, out
}

func TestSession_JoinNonParticipantRejected(t *testing.T) {
	s, _, _ := startSession(t, clockwork.NewFakeClock())

	out := make(chan types.ServerMessage, 8)
	s.Inbox() <- Join{ClientID: "intruder", UserID: "u9", Username: "mallory", Outbox: out}
	msg := recvMsg(t, out, 2*time.Second)
	if msg.Type != types.MsgRejected || msg.Reason != types.ReasonForbidden {
		t.Fatalf("want rejected/forbidden, got %+v", msg)
	}

	// and commands from that connection are rejected too
	s.Inbox() <- FromClient{ClientID: "intruder", Msg: types.ClientMessage{Type: "move", Position: 0}}
	msg = recvMsg(t, out, 2*time.Second)
	if msg.Type != types.MsgRejected || msg.Reason != types.ReasonForbidden {
		t.Fatalf("want rejected/forbidden, got %+v", msg)
	}
}

func TestSession_StartBroadcastsRoundAndInitialTick(t *testing.T) {
	s, _, out := startSession(t, clockwork.NewFakeClock())

	s.Inbox() <- FromClient{ClientID: "c1", Msg: types.ClientMessage{Type: "start"}}

	started := recvType(t, out, types.MsgRoundStarted)
	if started.Round == nil || started.Round.Index != 1 || started.Round.StartedBy != engine.SymbolX {
		t.Fatalf("unexpected round-started payload: %+v", started)
	}
	tick := recvType(t, out, types.MsgTick)
	if tick.TimeLeft == nil || *tick.TimeLeft != TurnSeconds {
		t.Fatalf("want initial tick of %d, got %+v", TurnSeconds, tick)
	}

	// Starting twice is an InvalidState rejection to the sender only.
	s.Inbox() <- FromClient{ClientID: "c1", Msg: types.ClientMessage{Type: "start"}}
	rej := recvType(t, out, types.MsgRejected)
	if rej.Reason != types.ReasonInvalidState {
		t.Fatalf("want invalid_state, got %+v", rej)
	}
}

func TestSession_StartAfterInviteAccepted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	// The actor spawns while the series is still pending (creator opens the
	// socket before the invite is answered).
	repo := store.NewMemory()
	series := engine.NewSeries("s1", 3,
		engine.Player{UserID: "u1", Username: "alice"},
		engine.Player{UserID: "u2", Username: "bob"},
		time.Now())
	if err := repo.CreateSeries(ctx, series); err != nil {
		t.Fatalf("seed series: %v", err)
	}
	s := New(ctx, series, repo, clockwork.NewFakeClock(), zap.NewNop())
	out := make(chan types.ServerMessage, 64)
	s.Inbox() <- Join{ClientID: "c1", UserID: "u1", Username: "alice", Outbox: out}
	recvType(t, out, types.MsgParticipantJoined)

	// The invite is accepted over REST, writing straight to the store.
	accepted := series
	accepted.Status = engine.StatusActive
	if err := repo.SaveSeries(ctx, accepted); err != nil {
		t.Fatalf("accept invite: %v", err)
	}

	// Start must pick up the accepted document instead of rejecting on the
	// cached pending one.
	s.Inbox() <- FromClient{ClientID: "c1", Msg: types.ClientMessage{Type: "start"}}
	started := recvType(t, out, types.MsgRoundStarted)
	if started.Round == nil || started.Round.Index != 1 {
		t.Fatalf("start on an accepted series must open round 1, got %+v", started)
	}
}

func TestSession_JoinMidRoundReceivesState(t *testing.T) {
	s, _, out := startSession(t, clockwork.NewFakeClock())
	s.Inbox() <- FromClient{ClientID: "c1", Msg: types.ClientMessage{Type: "start"}}
	recvType(t, out, types.MsgRoundStarted)
	s.Inbox() <- FromClient{ClientID: "c1", Msg: types.ClientMessage{Type: "move", Position: 4}}
	recvType(t, out, types.MsgMoveApplied)

	out2 := make(chan types.ServerMessage, 64)
	s.Inbox() <- Join{ClientID: "c2", UserID: "u2", Username: "bob", Outbox: out2}
	recvType(t, out2, types.MsgParticipantJoined)

	snap := recvType(t, out2, types.MsgRoundStarted)
	if snap.Round == nil || snap.Round.Index != 1 {
		t.Fatalf("joiner should be sent the open round, got %+v", snap)
	}
	if snap.Round.Board[4] != engine.SymbolX || snap.Round.CurrentTurn != engine.SymbolO {
		t.Fatalf("joiner should see the in-progress board: %+v", snap.Round)
	}
}

func TestSession_MoveAppliedAndPersisted(t *testing.T) {
	s, repo, out := startSession(t, clockwork.NewFakeClock())
	s.Inbox() <- FromClient{ClientID: "c1", Msg: types.ClientMessage{Type: "start"}}
	recvType(t, out, types.MsgRoundStarted)

	s.Inbox() <- FromClient{ClientID: "c1", Msg: types.ClientMessage{Type: "move", Position: 4}}
	applied := recvType(t, out, types.MsgMoveApplied)
	if applied.Position == nil || *applied.Position != 4 || applied.Symbol != engine.SymbolX {
		t.Fatalf("unexpected move-applied payload: %+v", applied)
	}
	if applied.CurrentTurn != engine.SymbolO {
		t.Fatalf("turn should flip to O, got %q", applied.CurrentTurn)
	}

	persisted, err := repo.GetSeries(context.Background(), "s1")
	if err != nil {
		t.Fatalf("get series: %v", err)
	}
	if persisted.Rounds[0].Board[4] != engine.SymbolX {
		t.Fatalf("move not persisted: %+v", persisted.Rounds[0].Board)
	}
}

func TestSession_MoveRejectionsGoToSenderOnly(t *testing.T) {
	s, _, out := startSession(t, clockwork.NewFakeClock())
	s.Inbox() <- FromClient{ClientID: "c1", Msg: types.ClientMessage{Type: "start"}}
	recvType(t, out, types.MsgRoundStarted)

	out2 := make(chan types.ServerMessage, 64)
	s.Inbox() <- Join{ClientID: "c2", UserID: "u2", Username: "bob", Outbox: out2}
	recvType(t, out2, types.MsgParticipantJoined)

	// O moving out of turn
	s.Inbox() <- FromClient{ClientID: "c2", Msg: types.ClientMessage{Type: "move", Position: 0}}
	rej := recvType(t, out2, types.MsgRejected)
	if rej.Reason != types.ReasonNotYourTurn {
		t.Fatalf("want not_your_turn, got %+v", rej)
	}
	recvNoType(t, out, types.MsgRejected, 100*time.Millisecond)
}

func TestSession_TimerExpiresIntoTimeoutLoss(t *testing.T) {
	clk := clockwork.NewFakeClock()
	s, repo, out := startSession(t, clk)
	s.Inbox() <- FromClient{ClientID: "c1", Msg: types.ClientMessage{Type: "start"}}
	recvType(t, out, types.MsgRoundStarted)
	recvType(t, out, types.MsgTick) // initial value, then the ticker exists
	clk.BlockUntil(1)

	for i := 0; i < TurnSeconds; i++ {
		clk.Advance(time.Second)
		recvType(t, out, types.MsgTick)
	}

	expired := recvType(t, out, types.MsgTimerExpired)
	if expired.Symbol != engine.SymbolX {
		t.Fatalf("X was on the clock, got %+v", expired)
	}
	ended := recvType(t, out, types.MsgRoundEnded)
	if ended.Outcome != engine.OutcomeTimeout || ended.TimedOut != engine.SymbolX || ended.Symbol != engine.SymbolO {
		t.Fatalf("unexpected round-ended payload: %+v", ended)
	}

	persisted, _ := repo.GetSeries(context.Background(), "s1")
	if persisted.Rounds[0].Outcome != engine.OutcomeTimeout {
		t.Fatalf("timeout not persisted: %+v", persisted.Rounds[0])
	}
	if persisted.Score.Player2Wins != 1 {
		t.Fatalf("O should be credited the win: %+v", persisted.Score)
	}
}

func TestSession_StaleExpiryIsIgnored(t *testing.T) {
	s, repo, out := startSession(t, clockwork.NewFakeClock())
	s.Inbox() <- FromClient{ClientID: "c1", Msg: types.ClientMessage{Type: "start"}}
	recvType(t, out, types.MsgRoundStarted)
	genAtStart := recvView(t, s).TimerGen

	// A move re-arms the timer; the start-generation expiry is now stale.
	s.Inbox() <- FromClient{ClientID: "c1", Msg: types.ClientMessage{Type: "move", Position: 0}}
	recvType(t, out, types.MsgMoveApplied)

	s.Inbox() <- timerExpired{Gen: genAtStart, Symbol: engine.SymbolX}
	recvNoType(t, out, types.MsgRoundEnded, 100*time.Millisecond)

	persisted, _ := repo.GetSeries(context.Background(), "s1")
	if persisted.Rounds[0].Outcome != engine.OutcomeNone {
		t.Fatalf("stale expiry mutated the round: %+v", persisted.Rounds[0])
	}
}

func TestSession_DuplicateExpiryResolvesOnce(t *testing.T) {
	s, repo, out := startSession(t, clockwork.NewFakeClock())
	s.Inbox() <- FromClient{ClientID: "c1", Msg: types.ClientMessage{Type: "start"}}
	recvType(t, out, types.MsgRoundStarted)
	gen := recvView(t, s).TimerGen

	s.Inbox() <- timerExpired{Gen: gen, Symbol: engine.SymbolX}
	recvType(t, out, types.MsgRoundEnded)

	// A second delivery for the same generation must be a no-op (the round is
	// resolved and the generation moved on when the timer stopped).
	s.Inbox() <- timerExpired{Gen: gen, Symbol: engine.SymbolX}
	recvNoType(t, out, types.MsgRoundEnded, 100*time.Millisecond)

	persisted, _ := repo.GetSeries(context.Background(), "s1")
	if got := persisted.Score.Player2Wins; got != 1 {
		t.Fatalf("win must be credited exactly once, got %d", got)
	}
}

func TestSession_AdvanceIsIdempotent(t *testing.T) {
	s, repo, out := startSession(t, clockwork.NewFakeClock())
	s.Inbox() <- FromClient{ClientID: "c1", Msg: types.ClientMessage{Type: "start"}}
	recvType(t, out, types.MsgRoundStarted)
	gen := recvView(t, s).TimerGen
	s.Inbox() <- timerExpired{Gen: gen, Symbol: engine.SymbolX}
	recvType(t, out, types.MsgRoundEnded)

	// Both participants request the next round.
	s.Inbox() <- FromClient{ClientID: "c1", Msg: types.ClientMessage{Type: "advance"}}
	s.Inbox() <- FromClient{ClientID: "c1", Msg: types.ClientMessage{Type: "advance"}}

	first := recvType(t, out, types.MsgRoundStarted)
	second := recvType(t, out, types.MsgRoundStarted)
	if first.Round.Index != 2 || second.Round.Index != 2 {
		t.Fatalf("both requesters must converge on round 2: %d, %d", first.Round.Index, second.Round.Index)
	}
	if first.Round.StartedBy != engine.SymbolO {
		t.Fatalf("timeout winner O should start round 2, got %q", first.Round.StartedBy)
	}

	persisted, _ := repo.GetSeries(context.Background(), "s1")
	if len(persisted.Rounds) != 2 {
		t.Fatalf("exactly one round 2 must exist, have %d rounds", len(persisted.Rounds))
	}
	view := recvView(t, s)
	if len(view.Series.Rounds) != 2 {
		t.Fatalf("actor state diverged: %d rounds", len(view.Series.Rounds))
	}
}

func TestSession_AdvanceConflictConvergesOnStoredRound(t *testing.T) {
	s, repo, out := startSession(t, clockwork.NewFakeClock())
	s.Inbox() <- FromClient{ClientID: "c1", Msg: types.ClientMessage{Type: "start"}}
	recvType(t, out, types.MsgRoundStarted)
	gen := recvView(t, s).TimerGen
	s.Inbox() <- timerExpired{Gen: gen, Symbol: engine.SymbolX}
	recvType(t, out, types.MsgRoundEnded)

	// Another instance wins the append race before our advance lands.
	ctx := context.Background()
	stored, err := repo.GetSeries(ctx, "s1")
	if err != nil {
		t.Fatalf("get series: %v", err)
	}
	theirs := engine.Round{Index: 2, CurrentTurn: engine.SymbolO, StartedBy: engine.SymbolO, StartedAt: time.Now()}
	if _, err := repo.CompareAndAppendRound(ctx, "s1", len(stored.Rounds), theirs); err != nil {
		t.Fatalf("seed competing round: %v", err)
	}

	s.Inbox() <- FromClient{ClientID: "c1", Msg: types.ClientMessage{Type: "advance"}}
	msg := recvType(t, out, types.MsgRoundStarted)
	if msg.Round.Index != 2 {
		t.Fatalf("should converge on the stored round 2, got %+v", msg.Round)
	}

	// The adopted round must also be put on the clock here, not only on the
	// instance that won the append.
	tick := recvType(t, out, types.MsgTick)
	if tick.TimeLeft == nil || *tick.TimeLeft != TurnSeconds {
		t.Fatalf("conflict recovery must restart the countdown, got %+v", tick)
	}

	persisted, _ := repo.GetSeries(ctx, "s1")
	if len(persisted.Rounds) != 2 {
		t.Fatalf("conflict must not create a second round 2: %d rounds", len(persisted.Rounds))
	}
}

func TestSession_AdvanceAfterCompletionRejected(t *testing.T) {
	s, _, out := startSession(t, clockwork.NewFakeClock())
	s.Inbox() <- FromClient{ClientID: "c1", Msg: types.ClientMessage{Type: "start"}}
	recvType(t, out, types.MsgRoundStarted)

	// Burn through the whole best-of-3 with timeouts.
	for i := 0; i < 3; i++ {
		gen := recvView(t, s).TimerGen
		s.Inbox() <- timerExpired{Gen: gen, Symbol: engine.SymbolX}
		recvType(t, out, types.MsgRoundEnded)
		if i < 2 {
			s.Inbox() <- FromClient{ClientID: "c1", Msg: types.ClientMessage{Type: "advance"}}
			recvType(t, out, types.MsgRoundStarted)
		}
	}
	completed := recvType(t, out, types.MsgSeriesCompleted)
	if completed.Score == nil {
		t.Fatalf("series-completed must carry the final score")
	}

	s.Inbox() <- FromClient{ClientID: "c1", Msg: types.ClientMessage{Type: "advance"}}
	rej := recvType(t, out, types.MsgRejected)
	if rej.Reason != types.ReasonSeriesAlreadyCompleted {
		t.Fatalf("want series_already_completed, got %+v", rej)
	}
}

func TestSession_DropSlowClient(t *testing.T) {
	s, _, out := startSession(t, clockwork.NewFakeClock())

	slow := make(chan types.ServerMessage) // unbuffered, never read
	s.Inbox() <- Join{ClientID: "slow", UserID: "u2", Username: "bob", Outbox: slow}

	s.Inbox() <- FromClient{ClientID: "c1", Msg: types.ClientMessage{Type: "start"}}
	recvType(t, out, types.MsgRoundStarted)

	view := recvView(t, s)
	if view.NumClients != 1 {
		t.Fatalf("expected slow client to be dropped; NumClients=%d", view.NumClients)
	}
}
