package engine

import "errors"

var ErrOutOfRange = errors.New("position out of range")
var ErrOccupied = errors.New("position already occupied")
var ErrNotYourTurn = errors.New("not your turn")

type Symbol string

const (
	SymbolX Symbol = "X"
	SymbolO Symbol = "O"
)

func (s Symbol) Opponent() Symbol {
	if s == SymbolX {
		return SymbolO
	}
	return SymbolX
}

// Board is the 9-cell grid in row-major order. An empty cell holds "".
type Board [9]Symbol

// winLines enumerates the 8 winning lines in a fixed order (rows, columns,
// diagonals) so the reported line is deterministic. At most one line can
// match under alternating play.
var winLines = [8][3]int{
	{0, 1, 2},
	{3, 4, 5},
	{6, 7, 8},
	{0, 3, 6},
	{1, 4, 7},
	{2, 5, 8},
	{0, 4, 8},
	{2, 4, 6},
}

type WinningLine struct {
	Positions [3]int
	Symbol    Symbol
}

// ValidateMove checks a candidate move without applying it.
func ValidateMove(b Board, position int, requesting, expected Symbol) error {
	if position < 0 || position > 8 {
		return ErrOutOfRange
	}
	if b[position] != "" {
		return ErrOccupied
	}
	if requesting != expected {
		return ErrNotYourTurn
	}
	return nil
}

// ApplyMove sets the cell. Callers must have validated the move first.
func ApplyMove(b Board, position int, symbol Symbol) Board {
	b[position] = symbol
	return b
}

// DetectWinner returns the first winning line, if any.
func DetectWinner(b Board) (WinningLine, bool) {
	for _, line := range winLines {
		a := b[line[0]]
		if a != "" && a == b[line[1]] && a == b[line[2]] {
			return WinningLine{Positions: line, Symbol: a}, true
		}
	}
	return WinningLine{}, false
}

// DetectTie reports a full board with no winner. The winner check has
// priority: a full board containing a line is a win, never a tie.
func DetectTie(b Board) bool {
	for _, cell := range b {
		if cell == "" {
			return false
		}
	}
	_, won := DetectWinner(b)
	return !won
}

// DetermineNextStarter picks who opens the next round: the winner after a win
// or timeout, the previous starter's opponent after a tie.
func DetermineNextStarter(previous Outcome, winner, previousStarter Symbol) Symbol {
	switch {
	case previous == OutcomeWin && winner != "":
		return winner
	case previous == OutcomeTimeout && winner != "":
		return winner
	case previous == OutcomeTie:
		return previousStarter.Opponent()
	}
	// Unreachable for a resolved round, kept as a fixed fallback.
	return SymbolX
}

// SeriesWinner compares win counts only; ties in the series score yield "".
// Equal wins cannot happen with an odd series length but must not error.
func SeriesWinner(player1Wins, player2Wins int, player1, player2 string) string {
	if player1Wins > player2Wins {
		return player1
	}
	if player2Wins > player1Wins {
		return player2
	}
	return ""
}
