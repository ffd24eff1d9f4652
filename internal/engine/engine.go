package engine

import (
	"errors"
	"time"
)

var ErrInvalidState = errors.New("action not valid in current state")
var ErrNoActiveRound = errors.New("no round in progress")
var ErrRoundInProgress = errors.New("round already in progress")
var ErrRoundResolved = errors.New("round already resolved")
var ErrSeriesCompleted = errors.New("series already completed")

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

type Outcome string

const (
	OutcomeNone    Outcome = ""
	OutcomeWin     Outcome = "win"
	OutcomeTie     Outcome = "tie"
	OutcomeTimeout Outcome = "timeout"
)

type Player struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Symbol   Symbol `json:"symbol"`
}

type Move struct {
	Symbol   Symbol    `json:"symbol"`
	Position int       `json:"position"`
	PlayedAt time.Time `json:"played_at"`
}

type Round struct {
	Index        int       `json:"index"` // 1-based
	Board        Board     `json:"board"`
	CurrentTurn  Symbol    `json:"current_turn"`
	StartedBy    Symbol    `json:"started_by"`
	Outcome      Outcome   `json:"outcome"`
	WinnerSymbol Symbol    `json:"winner_symbol,omitempty"` // set for win and timeout
	WinningLine  []int     `json:"winning_line,omitempty"`
	Moves        []Move    `json:"moves"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at,omitzero"`
}

type Score struct {
	Player1Wins int `json:"player1_wins"`
	Player2Wins int `json:"player2_wins"`
	Ties        int `json:"ties"`
}

// Series is the root entity: a best-of-N match between two players. Rounds are
// append-only and exclusively owned by their series.
type Series struct {
	ID                string
	SeriesLength      int // 3, 5 or 7
	Players           [2]Player
	CurrentRoundIndex int
	Rounds            []Round
	Score             Score
	Status            Status
	Winner            string // username, "" until completed (and on an equal-wins series)
	InvitedUserID     string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       time.Time
}

type CommandType string

const (
	CmdStart   CommandType = "Start"
	CmdMove    CommandType = "Move"
	CmdTimeout CommandType = "Timeout"
	CmdAdvance CommandType = "Advance"
)

type Command struct {
	Type     CommandType
	Symbol   Symbol // the mover, for CmdMove
	Position int
	Now      time.Time
}

type EventType string

const (
	EvtRoundStarted    EventType = "RoundStarted"
	EvtMoveApplied     EventType = "MoveApplied"
	EvtRoundEnded      EventType = "RoundEnded"
	EvtSeriesCompleted EventType = "SeriesCompleted"
)

type Event struct {
	Type        EventType
	Round       Round // snapshot of the affected round
	Symbol      Symbol
	Position    int
	Score       Score
	Winner      string // series winner, EvtSeriesCompleted only
	TimedOut    Symbol // EvtRoundEnded with OutcomeTimeout only
	WinningLine []int  // EvtRoundEnded with OutcomeWin only
}

// StatDelta is the aggregate counter update owed to one player for a resolved
// round. Deltas for both players must persist atomically with the round close.
type StatDelta struct {
	UserID string
	Played int
	Won    int
	Lost   int
}

// Apply resolves a command against the series and returns the events to emit,
// in emission order, plus the updated series. The input series is not mutated:
// callers commit the returned value only after persistence succeeds.
func Apply(s Series, cmd Command) ([]Event, Series, error) {
	switch cmd.Type {
	case CmdStart:
		return applyStart(s, cmd)
	case CmdMove:
		return applyMove(s, cmd)
	case CmdTimeout:
		return applyTimeout(s, cmd)
	case CmdAdvance:
		return applyAdvance(s, cmd)
	default:
		return nil, s, ErrInvalidState
	}
}

func applyStart(s Series, cmd Command) ([]Event, Series, error) {
	if s.Status != StatusActive || len(s.Rounds) != 0 {
		return nil, s, ErrInvalidState
	}

	next := cloneSeries(s)
	round := newRound(1, SymbolX, cmd.Now)
	next.Rounds = append(next.Rounds, round)
	next.CurrentRoundIndex = 1
	next.UpdatedAt = cmd.Now

	return []Event{{Type: EvtRoundStarted, Round: round, Score: next.Score}}, next, nil
}

func applyMove(s Series, cmd Command) ([]Event, Series, error) {
	if s.Status != StatusActive {
		return nil, s, ErrInvalidState
	}
	open, ok := currentRound(s)
	if !ok || open.Outcome != OutcomeNone {
		return nil, s, ErrNoActiveRound
	}

	if err := ValidateMove(open.Board, cmd.Position, cmd.Symbol, open.CurrentTurn); err != nil {
		return nil, s, err
	}

	next := cloneSeries(s)
	round := &next.Rounds[len(next.Rounds)-1]
	round.Board = ApplyMove(round.Board, cmd.Position, cmd.Symbol)
	round.Moves = append(round.Moves, Move{Symbol: cmd.Symbol, Position: cmd.Position, PlayedAt: cmd.Now})
	next.UpdatedAt = cmd.Now

	if line, won := DetectWinner(round.Board); won {
		closeRound(round, OutcomeWin, line.Symbol, cmd.Now)
		round.WinningLine = line.Positions[:]
		creditWin(&next.Score, line.Symbol)
		events := []Event{{
			Type:        EvtRoundEnded,
			Round:       *round,
			Symbol:      line.Symbol,
			WinningLine: round.WinningLine,
			Score:       next.Score,
		}}
		return appendCompletion(events, &next, cmd.Now), next, nil
	}

	if DetectTie(round.Board) {
		closeRound(round, OutcomeTie, "", cmd.Now)
		next.Score.Ties++
		events := []Event{{Type: EvtRoundEnded, Round: *round, Score: next.Score}}
		return appendCompletion(events, &next, cmd.Now), next, nil
	}

	round.CurrentTurn = round.CurrentTurn.Opponent()
	return []Event{{
		Type:     EvtMoveApplied,
		Round:    *round,
		Symbol:   cmd.Symbol,
		Position: cmd.Position,
		Score:    next.Score,
	}}, next, nil
}

func applyTimeout(s Series, cmd Command) ([]Event, Series, error) {
	open, ok := currentRound(s)
	if !ok {
		return nil, s, ErrNoActiveRound
	}
	if open.Outcome != OutcomeNone {
		// Duplicate or late expiry delivery. The round is already settled.
		return nil, s, ErrRoundResolved
	}

	next := cloneSeries(s)
	round := &next.Rounds[len(next.Rounds)-1]
	timedOut := round.CurrentTurn
	winner := timedOut.Opponent()
	closeRound(round, OutcomeTimeout, winner, cmd.Now)
	creditWin(&next.Score, winner)
	next.UpdatedAt = cmd.Now

	events := []Event{{
		Type:     EvtRoundEnded,
		Round:    *round,
		Symbol:   winner,
		TimedOut: timedOut,
		Score:    next.Score,
	}}
	return appendCompletion(events, &next, cmd.Now), next, nil
}

func applyAdvance(s Series, cmd Command) ([]Event, Series, error) {
	if s.Status == StatusCompleted || s.CurrentRoundIndex >= s.SeriesLength {
		return nil, s, ErrSeriesCompleted
	}
	last, ok := currentRound(s)
	if !ok {
		return nil, s, ErrInvalidState
	}
	if last.Outcome == OutcomeNone {
		// Another trigger already opened the next round (or the current one is
		// still being played). Callers re-broadcast the open round instead.
		return nil, s, ErrRoundInProgress
	}

	starter := DetermineNextStarter(last.Outcome, last.WinnerSymbol, last.StartedBy)
	next := cloneSeries(s)
	round := newRound(last.Index+1, starter, cmd.Now)
	next.Rounds = append(next.Rounds, round)
	next.CurrentRoundIndex = round.Index
	next.UpdatedAt = cmd.Now

	return []Event{{Type: EvtRoundStarted, Round: round, Score: next.Score}}, next, nil
}

// appendCompletion closes the series once the final round resolves. Completion
// takes priority over offering another advance.
func appendCompletion(events []Event, s *Series, now time.Time) []Event {
	if s.CurrentRoundIndex < s.SeriesLength {
		return events
	}
	s.Status = StatusCompleted
	s.Winner = SeriesWinner(s.Score.Player1Wins, s.Score.Player2Wins,
		s.Players[0].Username, s.Players[1].Username)
	s.CompletedAt = now
	return append(events, Event{Type: EvtSeriesCompleted, Winner: s.Winner, Score: s.Score})
}

func closeRound(r *Round, outcome Outcome, winner Symbol, now time.Time) {
	r.Outcome = outcome
	r.WinnerSymbol = winner
	r.EndedAt = now
}

func creditWin(score *Score, winner Symbol) {
	if winner == SymbolX {
		score.Player1Wins++
	} else {
		score.Player2Wins++
	}
}

// ResolvedStats maps a closed round onto the per-player aggregate counters.
func ResolvedStats(s Series, r Round) []StatDelta {
	p1, p2 := s.Players[0], s.Players[1]
	switch r.Outcome {
	case OutcomeWin, OutcomeTimeout:
		winner, loser := p1, p2
		if r.WinnerSymbol == p2.Symbol {
			winner, loser = p2, p1
		}
		return []StatDelta{
			{UserID: winner.UserID, Played: 1, Won: 1},
			{UserID: loser.UserID, Played: 1, Lost: 1},
		}
	case OutcomeTie:
		return []StatDelta{
			{UserID: p1.UserID, Played: 1},
			{UserID: p2.UserID, Played: 1},
		}
	}
	return nil
}
