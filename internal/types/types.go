package types

import "github.com/mpreston/matchpoint/internal/engine"

// Client -> Server. One command per message, always scoped to the session the
// connection attached to.
type ClientMessage struct {
	Type     string `json:"type"` // "join" | "start" | "move" | "advance"
	Position int    `json:"position"`
}

// Server -> Client message kinds.
const (
	MsgParticipantJoined = "participant-joined"
	MsgRoundStarted      = "round-started"
	MsgMoveApplied       = "move-applied"
	MsgTick              = "tick"
	MsgTimerExpired      = "timer-expired"
	MsgRoundEnded        = "round-ended"
	MsgSeriesCompleted   = "series-completed"
	MsgRejected          = "rejected"
)

// Rejection reasons. Delivered only to the originating connection.
const (
	ReasonNotFound               = "not_found"
	ReasonForbidden              = "forbidden"
	ReasonOutOfRange             = "out_of_range"
	ReasonOccupied               = "occupied"
	ReasonNotYourTurn            = "not_your_turn"
	ReasonInvalidState           = "invalid_state"
	ReasonSeriesAlreadyCompleted = "series_already_completed"
	ReasonInternal               = "internal"
)

type RoundInfo struct {
	Index       int           `json:"index"`
	Board       engine.Board  `json:"board"`
	CurrentTurn engine.Symbol `json:"current_turn"`
	StartedBy   engine.Symbol `json:"started_by"`
}

// ServerMessage is the single broadcast envelope; fields are populated per
// Type and omitted otherwise.
type ServerMessage struct {
	Type         string          `json:"type"`
	SessionID    string          `json:"session_id,omitempty"`
	Player       string          `json:"player,omitempty"` // participant-joined
	Round        *RoundInfo      `json:"round,omitempty"`
	Position     *int            `json:"position,omitempty"`
	Symbol       engine.Symbol   `json:"symbol,omitempty"`
	CurrentTurn  engine.Symbol   `json:"current_turn,omitempty"`
	Board        *engine.Board   `json:"board,omitempty"`
	TimeLeft     *int            `json:"time_left,omitempty"`
	TimedOut     engine.Symbol   `json:"timed_out,omitempty"`
	Outcome      engine.Outcome  `json:"outcome,omitempty"`
	WinningLine  []int           `json:"winning_line,omitempty"`
	Winner       string          `json:"winner,omitempty"`
	Score        *engine.Score   `json:"score,omitempty"`
	SeriesLength int             `json:"series_length,omitempty"`
	Players      []engine.Player `json:"players,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	Error        string          `json:"error,omitempty"`
}
