package engine

import "time"

// NewSeries builds a pending series with fixed symbols: the creating player is
// X, the invited player is O.
func NewSeries(id string, length int, creator, invited Player, now time.Time) Series {
	creator.Symbol = SymbolX
	invited.Symbol = SymbolO
	return Series{
		ID:            id,
		SeriesLength:  length,
		Players:       [2]Player{creator, invited},
		Status:        StatusPending,
		InvitedUserID: invited.UserID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// ValidSeriesLength reports whether n is one of the supported best-of lengths.
func ValidSeriesLength(n int) bool {
	return n == 3 || n == 5 || n == 7
}

func newRound(index int, starter Symbol, now time.Time) Round {
	return Round{
		Index:       index,
		CurrentTurn: starter,
		StartedBy:   starter,
		Moves:       []Move{},
		StartedAt:   now,
	}
}

func currentRound(s Series) (Round, bool) {
	if len(s.Rounds) == 0 {
		return Round{}, false
	}
	return s.Rounds[len(s.Rounds)-1], true
}

// CurrentRound exposes the most recent round for callers outside the package.
func CurrentRound(s Series) (Round, bool) { return currentRound(s) }

// SymbolOf returns the symbol held by userID, or false for non-participants.
func SymbolOf(s Series, userID string) (Symbol, bool) {
	for _, p := range s.Players {
		if p.UserID == userID {
			return p.Symbol, true
		}
	}
	return "", false
}

// IsParticipant reports whether userID is one of the two players.
func IsParticipant(s Series, userID string) bool {
	_, ok := SymbolOf(s, userID)
	return ok
}

// cloneSeries copies the series deeply enough that appending moves or rounds
// to the copy cannot alias the caller's slices.
func cloneSeries(s Series) Series {
	next := s
	next.Rounds = make([]Round, len(s.Rounds))
	copy(next.Rounds, s.Rounds)
	for i := range next.Rounds {
		moves := make([]Move, len(next.Rounds[i].Moves))
		copy(moves, next.Rounds[i].Moves)
		next.Rounds[i].Moves = moves
	}
	return next
}
