// Package session runs one actor goroutine per series. Moves, timer expiries
// and advance requests for a session all pass through its inbox, which is the
// session's single mutual-exclusion domain: nothing mutates series state
// outside the loop.
package session

import (
	"context"
	"errors"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/mpreston/matchpoint/internal/engine"
	"github.com/mpreston/matchpoint/internal/store"
	"github.com/mpreston/matchpoint/internal/types"
)

// Repository is the persistence surface the session needs. Implemented by
// store.Gorm and store.Memory.
type Repository interface {
	GetSeries(ctx context.Context, id string) (engine.Series, error)
	SaveSeries(ctx context.Context, s engine.Series) error
	CompareAndAppendRound(ctx context.Context, id string, expectedRounds int, r engine.Round) (engine.Series, error)
	SaveResolved(ctx context.Context, s engine.Series, deltas []engine.StatDelta) error
}

type Msg interface{ isSessionMsg() }

// Join registers a connection. Participants get the participant-joined
// broadcast; anyone else only ever receives a rejection.
type Join struct {
	ClientID string
	UserID   string
	Username string
	Outbox   chan types.ServerMessage
}

type Leave struct{ ClientID string }

// FromClient carries one parsed command from a registered connection.
type FromClient struct {
	ClientID string
	Msg      types.ClientMessage
}

type Shutdown struct{}

type GetState struct{ Reply chan View }

func (Join) isSessionMsg()       {}
func (Leave) isSessionMsg()      {}
func (FromClient) isSessionMsg() {}
func (Shutdown) isSessionMsg()   {}
func (GetState) isSessionMsg()   {}

// View reflects internal state for tests without data races.
type View struct {
	Series     engine.Series
	NumClients int
	TimerGen   int
}

type conn struct {
	userID      string
	username    string
	participant bool
	outbox      chan types.ServerMessage
}

type Session struct {
	id     string
	inbox  chan Msg
	series engine.Series
	conns  map[string]*conn
	timer  *turnTimer
	repo   Repository
	clock  clockwork.Clock
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func New(parent context.Context, series engine.Series, repo Repository, clock clockwork.Clock, log *zap.Logger) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		id:     series.ID,
		inbox:  make(chan Msg, 64),
		series: series,
		conns:  make(map[string]*conn),
		repo:   repo,
		clock:  clock,
		log:    log.With(zap.String("session_id", series.ID)),
		ctx:    ctx,
		cancel: cancel,
	}
	s.timer = &turnTimer{clock: clock, inbox: s.inbox}
	go s.loop()
	return s
}

func (s *Session) Inbox() chan<- Msg { return s.inbox }

func (s *Session) loop() {
	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case Join:
				s.handleJoin(msg)
			case Leave:
				if c, ok := s.conns[msg.ClientID]; ok {
					close(c.outbox)
					delete(s.conns, msg.ClientID)
				}
			case FromClient:
				s.handleCommand(msg)
			case timerTick:
				if msg.Gen == s.timer.gen {
					left := msg.Remaining
					s.broadcast(types.ServerMessage{
						Type:      types.MsgTick,
						SessionID: s.id,
						Symbol:    msg.Symbol,
						TimeLeft:  &left,
					})
				}
			case timerExpired:
				s.handleExpiry(msg)
			case GetState:
				msg.Reply <- View{Series: s.series, NumClients: len(s.conns), TimerGen: s.timer.gen}
			case Shutdown:
				s.shutdown()
				return
			}
		}
	}
}

func (s *Session) handleJoin(msg Join) {
	c := &conn{
		userID:      msg.UserID,
		username:    msg.Username,
		participant: engine.IsParticipant(s.series, msg.UserID),
		outbox:      msg.Outbox,
	}
	if old, ok := s.conns[msg.ClientID]; ok && old.outbox != msg.Outbox {
		close(old.outbox)
	}
	s.conns[msg.ClientID] = c

	if !c.participant {
		s.sendTo(msg.ClientID, types.ServerMessage{
			Type:      types.MsgRejected,
			SessionID: s.id,
			Reason:    types.ReasonForbidden,
			Error:     "you are not a player in this session",
		})
		return
	}
	s.broadcast(types.ServerMessage{
		Type:      types.MsgParticipantJoined,
		SessionID: s.id,
		Player:    msg.Username,
	})

	// Catch a mid-round joiner up on the board they missed.
	if r, ok := engine.CurrentRound(s.series); ok && r.Outcome == engine.OutcomeNone {
		s.sendTo(msg.ClientID, s.roundStartedMsg(r, s.series.Score))
	}
}

func (s *Session) handleCommand(msg FromClient) {
	c, ok := s.conns[msg.ClientID]
	if !ok {
		return
	}
	if !c.participant {
		s.reject(msg.ClientID, types.ReasonForbidden, errors.New("not a participant"))
		return
	}

	switch msg.Msg.Type {
	case "join":
		// Idempotent re-announce for clients that joined explicitly.
		s.broadcast(types.ServerMessage{
			Type:      types.MsgParticipantJoined,
			SessionID: s.id,
			Player:    c.username,
		})
	case "start":
		s.handleStart(msg.ClientID)
	case "move":
		s.handleMove(msg.ClientID, c, msg.Msg.Position)
	case "advance":
		s.handleAdvance(msg.ClientID)
	default:
		s.reject(msg.ClientID, types.ReasonInvalidState, errors.New("unknown command"))
	}
}

func (s *Session) handleStart(clientID string) {
	if s.series.Status == engine.StatusPending {
		// Invitations are accepted over REST, so an actor spawned while the
		// series was still pending may hold a stale document. Refresh before
		// deciding the start is invalid.
		current, err := s.repo.GetSeries(s.ctx, s.id)
		if err != nil {
			s.log.Error("refresh before start failed", zap.Error(err))
			s.reject(clientID, types.ReasonInternal, err)
			return
		}
		s.series = current
	}
	events, next, err := engine.Apply(s.series, engine.Command{Type: engine.CmdStart, Now: s.clock.Now()})
	if err != nil {
		s.reject(clientID, reasonFor(err), err)
		return
	}
	if err := s.repo.SaveSeries(s.ctx, next); err != nil {
		s.log.Error("persist start failed", zap.Error(err))
		s.reject(clientID, types.ReasonInternal, err)
		return
	}
	s.commit(next, events)
}

func (s *Session) handleMove(clientID string, c *conn, position int) {
	symbol, _ := engine.SymbolOf(s.series, c.userID)
	events, next, err := engine.Apply(s.series, engine.Command{
		Type:     engine.CmdMove,
		Symbol:   symbol,
		Position: position,
		Now:      s.clock.Now(),
	})
	if err != nil {
		s.reject(clientID, reasonFor(err), err)
		return
	}
	if err := s.persist(next, events); err != nil {
		s.log.Error("persist move failed", zap.Error(err))
		s.reject(clientID, types.ReasonInternal, err)
		return
	}
	s.commit(next, events)
}

// handleExpiry settles a timeout. The generation gate drops schedules that a
// move or re-arm has already replaced; the engine's resolved-round check
// additionally swallows duplicate deliveries for the live generation.
func (s *Session) handleExpiry(msg timerExpired) {
	if msg.Gen != s.timer.gen {
		return
	}
	events, next, err := engine.Apply(s.series, engine.Command{Type: engine.CmdTimeout, Now: s.clock.Now()})
	if errors.Is(err, engine.ErrRoundResolved) || errors.Is(err, engine.ErrNoActiveRound) {
		return
	}
	if err != nil {
		s.log.Error("timeout transition failed", zap.Error(err))
		return
	}
	if err := s.persist(next, events); err != nil {
		s.log.Error("persist timeout failed", zap.Error(err))
		return
	}
	s.broadcast(types.ServerMessage{
		Type:      types.MsgTimerExpired,
		SessionID: s.id,
		Symbol:    msg.Symbol,
	})
	s.commit(next, events)
}

func (s *Session) handleAdvance(clientID string) {
	events, next, err := engine.Apply(s.series, engine.Command{Type: engine.CmdAdvance, Now: s.clock.Now()})
	switch {
	case errors.Is(err, engine.ErrSeriesCompleted):
		s.reject(clientID, types.ReasonSeriesAlreadyCompleted, err)
		return
	case errors.Is(err, engine.ErrRoundInProgress):
		// The round is already open: a duplicate trigger through this actor.
		// Re-broadcast it so the requester converges; the countdown keeps
		// running untouched.
		if r, ok := engine.CurrentRound(s.series); ok {
			s.broadcast(s.roundStartedMsg(r, s.series.Score))
		}
		return
	case err != nil:
		s.reject(clientID, reasonFor(err), err)
		return
	}

	round := events[0].Round
	stored, err := s.repo.CompareAndAppendRound(s.ctx, s.id, len(s.series.Rounds), round)
	if errors.Is(err, store.ErrConflict) {
		// Lost the append race to another actor. Converge on the round that
		// won: exactly one round N+1 may ever exist.
		current, gerr := s.repo.GetSeries(s.ctx, s.id)
		if gerr != nil {
			s.log.Error("re-read after advance conflict failed", zap.Error(gerr))
			s.reject(clientID, types.ReasonInternal, gerr)
			return
		}
		s.series = current
		// This instance never armed a countdown for the round that won, so the
		// re-read must both announce it and put its player on the clock.
		if r, ok := engine.CurrentRound(current); ok && r.Outcome == engine.OutcomeNone {
			s.broadcast(s.roundStartedMsg(r, current.Score))
			s.timer.Arm(s.ctx, r.CurrentTurn)
		}
		return
	}
	if err != nil {
		s.log.Error("persist advance failed", zap.Error(err))
		s.reject(clientID, types.ReasonInternal, err)
		return
	}
	next.UpdatedAt = stored.UpdatedAt
	s.commit(next, events)
}

// persist writes the transition: a round close goes through the atomic
// resolved-round path so score and stat updates land exactly once.
func (s *Session) persist(next engine.Series, events []engine.Event) error {
	for _, ev := range events {
		if ev.Type == engine.EvtRoundEnded {
			return s.repo.SaveResolved(s.ctx, next, engine.ResolvedStats(next, ev.Round))
		}
	}
	return s.repo.SaveSeries(s.ctx, next)
}

// commit applies the new state and emits events in production order.
func (s *Session) commit(next engine.Series, events []engine.Event) {
	s.series = next
	for _, ev := range events {
		switch ev.Type {
		case engine.EvtRoundStarted:
			s.broadcast(s.roundStartedMsg(ev.Round, ev.Score))
			s.timer.Arm(s.ctx, ev.Round.CurrentTurn)

		case engine.EvtMoveApplied:
			pos := ev.Position
			board := ev.Round.Board
			s.broadcast(types.ServerMessage{
				Type:        types.MsgMoveApplied,
				SessionID:   s.id,
				Position:    &pos,
				Symbol:      ev.Symbol,
				Board:       &board,
				CurrentTurn: ev.Round.CurrentTurn,
			})
			s.timer.Arm(s.ctx, ev.Round.CurrentTurn)

		case engine.EvtRoundEnded:
			s.timer.Stop()
			board := ev.Round.Board
			score := ev.Score
			s.broadcast(types.ServerMessage{
				Type:         types.MsgRoundEnded,
				SessionID:    s.id,
				Outcome:      ev.Round.Outcome,
				Symbol:       ev.Symbol,
				WinningLine:  ev.WinningLine,
				TimedOut:     ev.TimedOut,
				Board:        &board,
				Score:        &score,
				SeriesLength: s.series.SeriesLength,
			})

		case engine.EvtSeriesCompleted:
			s.timer.Stop()
			score := ev.Score
			s.broadcast(types.ServerMessage{
				Type:      types.MsgSeriesCompleted,
				SessionID: s.id,
				Winner:    ev.Winner,
				Score:     &score,
			})
		}
	}
}

func (s *Session) roundStartedMsg(r engine.Round, score engine.Score) types.ServerMessage {
	sc := score
	return types.ServerMessage{
		Type:      types.MsgRoundStarted,
		SessionID: s.id,
		Round: &types.RoundInfo{
			Index:       r.Index,
			Board:       r.Board,
			CurrentTurn: r.CurrentTurn,
			StartedBy:   r.StartedBy,
		},
		Score:        &sc,
		SeriesLength: s.series.SeriesLength,
		Players:      s.series.Players[:],
	}
}

// reject reports a failure to the originating connection only.
func (s *Session) reject(clientID, reason string, err error) {
	s.sendTo(clientID, types.ServerMessage{
		Type:      types.MsgRejected,
		SessionID: s.id,
		Reason:    reason,
		Error:     err.Error(),
	})
}

func (s *Session) broadcast(msg types.ServerMessage) {
	for id, c := range s.conns {
		if !c.participant {
			continue
		}
		select {
		case c.outbox <- msg:
		default:
			// Client is too slow to keep up - drop it.
			s.log.Warn("dropping slow client", zap.String("client_id", id))
			close(c.outbox)
			delete(s.conns, id)
		}
	}
}

func (s *Session) sendTo(clientID string, msg types.ServerMessage) {
	c, ok := s.conns[clientID]
	if !ok {
		return
	}
	select {
	case c.outbox <- msg:
	default:
		close(c.outbox)
		delete(s.conns, clientID)
	}
}

func (s *Session) shutdown() {
	s.timer.Stop()
	for id, c := range s.conns {
		close(c.outbox)
		delete(s.conns, id)
	}
	s.cancel()
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, engine.ErrOutOfRange):
		return types.ReasonOutOfRange
	case errors.Is(err, engine.ErrOccupied):
		return types.ReasonOccupied
	case errors.Is(err, engine.ErrNotYourTurn):
		return types.ReasonNotYourTurn
	case errors.Is(err, engine.ErrSeriesCompleted):
		return types.ReasonSeriesAlreadyCompleted
	case errors.Is(err, engine.ErrInvalidState),
		errors.Is(err, engine.ErrNoActiveRound),
		errors.Is(err, engine.ErrRoundInProgress),
		errors.Is(err, engine.ErrRoundResolved):
		return types.ReasonInvalidState
	case errors.Is(err, store.ErrNotFound):
		return types.ReasonNotFound
	}
	return types.ReasonInternal
}
