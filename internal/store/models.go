package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mpreston/matchpoint/internal/engine"
)

type userModel struct {
	ID           string `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex;not null"`
	Username     string `gorm:"uniqueIndex;not null"`
	FullName     string
	PasswordHash string
	GamesPlayed  int
	GamesWon     int
	GamesLost    int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (userModel) TableName() string { return "users" }

type tokenModel struct {
	Token     string `gorm:"primaryKey"`
	UserID    string `gorm:"index;not null"`
	ExpiresAt time.Time
	CreatedAt time.Time
}

func (tokenModel) TableName() string { return "auth_tokens" }

// seriesModel is the persisted session document. The rounds slice lives in a
// JSONB column: rounds are append-only, exclusively owned by their series and
// never queried individually.
type seriesModel struct {
	ID                string `gorm:"primaryKey"`
	SeriesLength      int
	Player1ID         string `gorm:"index"`
	Player1Name       string
	Player2ID         string `gorm:"index"`
	Player2Name       string
	CurrentRoundIndex int
	Rounds            []byte `gorm:"type:jsonb"`
	Player1Wins       int
	Player2Wins       int
	Ties              int
	Status            string `gorm:"index"`
	Winner            string
	InvitedUserID     string `gorm:"index"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       *time.Time
}

func (seriesModel) TableName() string { return "series" }

func toUser(m userModel) User {
	return User{
		ID:           m.ID,
		Email:        m.Email,
		Username:     m.Username,
		FullName:     m.FullName,
		PasswordHash: m.PasswordHash,
		Stats: UserStats{
			GamesPlayed: m.GamesPlayed,
			GamesWon:    m.GamesWon,
			GamesLost:   m.GamesLost,
		},
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func toSeriesModel(s engine.Series) (seriesModel, error) {
	rounds, err := json.Marshal(s.Rounds)
	if err != nil {
		return seriesModel{}, fmt.Errorf("marshal rounds: %w", err)
	}
	m := seriesModel{
		ID:                s.ID,
		SeriesLength:      s.SeriesLength,
		Player1ID:         s.Players[0].UserID,
		Player1Name:       s.Players[0].Username,
		Player2ID:         s.Players[1].UserID,
		Player2Name:       s.Players[1].Username,
		CurrentRoundIndex: s.CurrentRoundIndex,
		Rounds:            rounds,
		Player1Wins:       s.Score.Player1Wins,
		Player2Wins:       s.Score.Player2Wins,
		Ties:              s.Score.Ties,
		Status:            string(s.Status),
		Winner:            s.Winner,
		InvitedUserID:     s.InvitedUserID,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
	if !s.CompletedAt.IsZero() {
		t := s.CompletedAt
		m.CompletedAt = &t
	}
	return m, nil
}

func toSeries(m seriesModel) (engine.Series, error) {
	var rounds []engine.Round
	if len(m.Rounds) > 0 {
		if err := json.Unmarshal(m.Rounds, &rounds); err != nil {
			return engine.Series{}, fmt.Errorf("unmarshal rounds: %w", err)
		}
	}
	s := engine.Series{
		ID:           m.ID,
		SeriesLength: m.SeriesLength,
		Players: [2]engine.Player{
			{UserID: m.Player1ID, Username: m.Player1Name, Symbol: engine.SymbolX},
			{UserID: m.Player2ID, Username: m.Player2Name, Symbol: engine.SymbolO},
		},
		CurrentRoundIndex: m.CurrentRoundIndex,
		Rounds:            rounds,
		Score: engine.Score{
			Player1Wins: m.Player1Wins,
			Player2Wins: m.Player2Wins,
			Ties:        m.Ties,
		},
		Status:        engine.Status(m.Status),
		Winner:        m.Winner,
		InvitedUserID: m.InvitedUserID,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	if m.CompletedAt != nil {
		s.CompletedAt = *m.CompletedAt
	}
	return s, nil
}
