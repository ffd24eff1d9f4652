package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mpreston/matchpoint/internal/engine"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Gorm is the postgres-backed store.
type Gorm struct {
	db *gorm.DB
}

func Open(dsn string) (*Gorm, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&userModel{}, &tokenModel{}, &seriesModel{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Gorm{db: db}, nil
}

// --- users ---

func (g *Gorm) CreateUser(ctx context.Context, u User) (User, error) {
	var existing userModel
	err := g.db.WithContext(ctx).
		Where("email = ? OR username = ?", u.Email, u.Username).
		First(&existing).Error
	switch {
	case err == nil:
		if existing.Email == u.Email {
			return User{}, ErrDuplicateEmail
		}
		return User{}, ErrDuplicateUsername
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return User{}, err
	}

	m := userModel{
		ID:           u.ID,
		Email:        u.Email,
		Username:     u.Username,
		FullName:     u.FullName,
		PasswordHash: u.PasswordHash,
	}
	if err := g.db.WithContext(ctx).Create(&m).Error; err != nil {
		return User{}, err
	}
	return toUser(m), nil
}

func (g *Gorm) UserByID(ctx context.Context, id string) (User, error) {
	var m userModel
	if err := g.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return toUser(m), nil
}

// UserByIdentifier looks up by email or username, matching the login form.
func (g *Gorm) UserByIdentifier(ctx context.Context, identifier string) (User, error) {
	var m userModel
	err := g.db.WithContext(ctx).
		Where("email = ? OR username = ?", identifier, identifier).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return toUser(m), nil
}

func (g *Gorm) UserByUsername(ctx context.Context, username string) (User, error) {
	var m userModel
	if err := g.db.WithContext(ctx).First(&m, "username = ?", username).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return toUser(m), nil
}

// --- auth tokens ---

func (g *Gorm) CreateToken(ctx context.Context, token, userID string, expiresAt time.Time) error {
	return g.db.WithContext(ctx).Create(&tokenModel{
		Token:     token,
		UserID:    userID,
		ExpiresAt: expiresAt,
	}).Error
}

func (g *Gorm) UserForToken(ctx context.Context, token string) (User, error) {
	var t tokenModel
	err := g.db.WithContext(ctx).First(&t, "token = ?", token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	if time.Now().After(t.ExpiresAt) {
		_ = g.db.WithContext(ctx).Delete(&tokenModel{}, "token = ?", token).Error
		return User{}, ErrNotFound
	}
	return g.UserByID(ctx, t.UserID)
}

func (g *Gorm) DeleteToken(ctx context.Context, token string) error {
	return g.db.WithContext(ctx).Delete(&tokenModel{}, "token = ?", token).Error
}

// --- series ---

func (g *Gorm) CreateSeries(ctx context.Context, s engine.Series) error {
	m, err := toSeriesModel(s)
	if err != nil {
		return err
	}
	return g.db.WithContext(ctx).Create(&m).Error
}

func (g *Gorm) GetSeries(ctx context.Context, id string) (engine.Series, error) {
	var m seriesModel
	if err := g.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return engine.Series{}, ErrNotFound
		}
		return engine.Series{}, err
	}
	return toSeries(m)
}

func (g *Gorm) SaveSeries(ctx context.Context, s engine.Series) error {
	m, err := toSeriesModel(s)
	if err != nil {
		return err
	}
	return g.db.WithContext(ctx).Save(&m).Error
}

// CompareAndAppendRound appends round r only if the series still holds exactly
// expectedRounds rounds. A single conditional UPDATE keyed on the round
// counter makes the advance transition safe under concurrent duplicate
// triggers: the loser of the race gets ErrConflict and re-reads.
func (g *Gorm) CompareAndAppendRound(ctx context.Context, id string, expectedRounds int, r engine.Round) (engine.Series, error) {
	current, err := g.GetSeries(ctx, id)
	if err != nil {
		return engine.Series{}, err
	}
	if len(current.Rounds) != expectedRounds {
		return engine.Series{}, ErrConflict
	}

	next := current
	next.Rounds = append(append([]engine.Round{}, current.Rounds...), r)
	next.CurrentRoundIndex = r.Index
	next.UpdatedAt = time.Now().UTC()

	rounds, err := json.Marshal(next.Rounds)
	if err != nil {
		return engine.Series{}, fmt.Errorf("marshal rounds: %w", err)
	}
	res := g.db.WithContext(ctx).Model(&seriesModel{}).
		Where("id = ? AND current_round_index = ?", id, expectedRounds).
		Updates(map[string]any{
			"rounds":              rounds,
			"current_round_index": next.CurrentRoundIndex,
			"updated_at":          next.UpdatedAt,
		})
	if res.Error != nil {
		return engine.Series{}, res.Error
	}
	if res.RowsAffected == 0 {
		return engine.Series{}, ErrConflict
	}
	return next, nil
}

// SaveResolved persists a round close together with both players' aggregate
// stat updates in one transaction, so an outcome can never land without its
// counters (and counters can never double-apply on retry of a failed write).
func (g *Gorm) SaveResolved(ctx context.Context, s engine.Series, deltas []engine.StatDelta) error {
	m, err := toSeriesModel(s)
	if err != nil {
		return err
	}
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&m).Error; err != nil {
			return err
		}
		for _, d := range deltas {
			err := tx.Model(&userModel{}).Where("id = ?", d.UserID).
				Updates(map[string]any{
					"games_played": gorm.Expr("games_played + ?", d.Played),
					"games_won":    gorm.Expr("games_won + ?", d.Won),
					"games_lost":   gorm.Expr("games_lost + ?", d.Lost),
				}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (g *Gorm) DeleteSeries(ctx context.Context, id string) error {
	return g.db.WithContext(ctx).Delete(&seriesModel{}, "id = ?", id).Error
}

// ListActiveFor returns the caller's pending and active series, newest first.
func (g *Gorm) ListActiveFor(ctx context.Context, userID string) ([]engine.Series, error) {
	return g.listFor(ctx, userID, []string{string(engine.StatusPending), string(engine.StatusActive)})
}

// ListCompletedFor returns the caller's finished series, newest first.
func (g *Gorm) ListCompletedFor(ctx context.Context, userID string) ([]engine.Series, error) {
	return g.listFor(ctx, userID, []string{string(engine.StatusCompleted)})
}

func (g *Gorm) listFor(ctx context.Context, userID string, statuses []string) ([]engine.Series, error) {
	var models []seriesModel
	err := g.db.WithContext(ctx).
		Where("(player1_id = ? OR player2_id = ?) AND status IN ?", userID, userID, statuses).
		Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]engine.Series, 0, len(models))
	for _, m := range models {
		s, err := toSeries(m)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// PendingInvitationsFor returns series awaiting this user's accept/decline.
func (g *Gorm) PendingInvitationsFor(ctx context.Context, userID string) ([]engine.Series, error) {
	var models []seriesModel
	err := g.db.WithContext(ctx).
		Where("invited_user_id = ? AND status = ?", userID, string(engine.StatusPending)).
		Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]engine.Series, 0, len(models))
	for _, m := range models {
		s, err := toSeries(m)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
