package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectWinner_AllLines(t *testing.T) {
	lines := [][3]int{
		{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
		{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
		{0, 4, 8}, {2, 4, 6},
	}
	for _, line := range lines {
		var b Board
		for _, pos := range line {
			b[pos] = SymbolX
		}
		got, ok := DetectWinner(b)
		require.True(t, ok, "line %v should win", line)
		assert.Equal(t, SymbolX, got.Symbol)
		assert.Equal(t, line, got.Positions)
	}
}

func TestDetectWinner_Empty(t *testing.T) {
	_, ok := DetectWinner(Board{})
	assert.False(t, ok)
}

func TestDetectTie_FullBoardNoLine(t *testing.T) {
	// X O X / X O O / O X X - full, no three in a row
	b := Board{SymbolX, SymbolO, SymbolX, SymbolX, SymbolO, SymbolO, SymbolO, SymbolX, SymbolX}
	_, won := DetectWinner(b)
	require.False(t, won)
	assert.True(t, DetectTie(b))
}

func TestDetectTie_FullBoardWithLine_IsWinNotTie(t *testing.T) {
	// Full board where X holds the top row: win takes priority over tie.
	b := Board{SymbolX, SymbolX, SymbolX, SymbolO, SymbolO, SymbolX, SymbolX, SymbolO, SymbolO}
	line, won := DetectWinner(b)
	require.True(t, won)
	assert.Equal(t, SymbolX, line.Symbol)
	assert.False(t, DetectTie(b))
}

func TestDetectTie_IncompleteBoard(t *testing.T) {
	b := Board{SymbolX, SymbolO}
	assert.False(t, DetectTie(b))
}

func TestValidateMove(t *testing.T) {
	occupied := Board{}
	occupied[4] = SymbolX

	tests := []struct {
		name       string
		board      Board
		position   int
		requesting Symbol
		expected   Symbol
		wantErr    error
	}{
		{"ok", Board{}, 0, SymbolX, SymbolX, nil},
		{"negative position", Board{}, -1, SymbolX, SymbolX, ErrOutOfRange},
		{"position too large", Board{}, 9, SymbolX, SymbolX, ErrOutOfRange},
		{"occupied by self", occupied, 4, SymbolX, SymbolX, ErrOccupied},
		{"occupied by opponent", occupied, 4, SymbolO, SymbolO, ErrOccupied},
		{"not your turn", Board{}, 0, SymbolO, SymbolX, ErrNotYourTurn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMove(tt.board, tt.position, tt.requesting, tt.expected)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDetermineNextStarter(t *testing.T) {
	tests := []struct {
		name     string
		outcome  Outcome
		winner   Symbol
		starter  Symbol
		want     Symbol
	}{
		{"win by O, X started", OutcomeWin, SymbolO, SymbolX, SymbolO},
		{"win by X, X started", OutcomeWin, SymbolX, SymbolX, SymbolX},
		{"timeout win by O", OutcomeTimeout, SymbolO, SymbolX, SymbolO},
		{"tie alternates from X", OutcomeTie, "", SymbolX, SymbolO},
		{"tie alternates from O", OutcomeTie, "", SymbolO, SymbolX},
		{"unresolved falls back to X", OutcomeNone, "", SymbolO, SymbolX},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetermineNextStarter(tt.outcome, tt.winner, tt.starter))
		})
	}
}

func TestSeriesWinner(t *testing.T) {
	assert.Equal(t, "alice", SeriesWinner(2, 1, "alice", "bob"))
	assert.Equal(t, "bob", SeriesWinner(0, 1, "alice", "bob"))
	assert.Equal(t, "", SeriesWinner(1, 1, "alice", "bob"))
}
