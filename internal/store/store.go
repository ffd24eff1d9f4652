// Package store persists users, auth tokens and series documents. The series
// repository is the only shared mutable resource in the system; every round
// mutation flows through it under per-session serialization, and the advance
// transition uses a conditional update so that concurrent triggers can never
// append two copies of the same round.
package store

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("store: not found")

// ErrConflict reports a lost compare-and-append race. Not a user-facing
// error: callers recover by re-reading the current state.
var ErrConflict = errors.New("store: conflict")

var ErrDuplicateEmail = errors.New("store: email already registered")
var ErrDuplicateUsername = errors.New("store: username already taken")

type UserStats struct {
	GamesPlayed int `json:"games_played"`
	GamesWon    int `json:"games_won"`
	GamesLost   int `json:"games_lost"`
}

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	FullName     string    `json:"full_name"`
	PasswordHash string    `json:"-"`
	Stats        UserStats `json:"stats"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
