package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mpreston/matchpoint/internal/auth"
	"github.com/mpreston/matchpoint/internal/engine"
	"github.com/mpreston/matchpoint/internal/store"
)

// Store is the persistence surface the HTTP layer needs.
type Store interface {
	UserByUsername(ctx context.Context, username string) (store.User, error)
	CreateSeries(ctx context.Context, s engine.Series) error
	GetSeries(ctx context.Context, id string) (engine.Series, error)
	SaveSeries(ctx context.Context, s engine.Series) error
	DeleteSeries(ctx context.Context, id string) error
	ListActiveFor(ctx context.Context, userID string) ([]engine.Series, error)
	ListCompletedFor(ctx context.Context, userID string) ([]engine.Series, error)
	PendingInvitationsFor(ctx context.Context, userID string) ([]engine.Series, error)
}

type API struct {
	store Store
	auth  *auth.Service
	log   *zap.Logger
}

func NewAPI(st Store, authSvc *auth.Service, log *zap.Logger) *API {
	return &API{store: st, auth: authSvc, log: log}
}

type seriesJSON struct {
	ID                string          `json:"id"`
	SeriesLength      int             `json:"series_length"`
	Players           []engine.Player `json:"players"`
	CurrentRoundIndex int             `json:"current_round_index"`
	Rounds            []engine.Round  `json:"rounds"`
	Score             engine.Score    `json:"score"`
	Status            engine.Status   `json:"status"`
	Winner            string          `json:"winner,omitempty"`
	InvitedUserID     string          `json:"invited_user_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
}

func toSeriesJSON(s engine.Series) seriesJSON {
	out := seriesJSON{
		ID:                s.ID,
		SeriesLength:      s.SeriesLength,
		Players:           s.Players[:],
		CurrentRoundIndex: s.CurrentRoundIndex,
		Rounds:            s.Rounds,
		Score:             s.Score,
		Status:            s.Status,
		Winner:            s.Winner,
		InvitedUserID:     s.InvitedUserID,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
	if out.Rounds == nil {
		out.Rounds = []engine.Round{}
	}
	if !s.CompletedAt.IsZero() {
		t := s.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

func toSeriesListJSON(list []engine.Series) []seriesJSON {
	out := make([]seriesJSON, 0, len(list))
	for _, s := range list {
		out = append(out, toSeriesJSON(s))
	}
	return out
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func (a *API) internalError(w http.ResponseWriter, action string, err error) {
	a.log.Error(action, zap.Error(err))
	respondError(w, http.StatusInternalServerError, "server error")
}

func setTokenCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int((7 * 24 * time.Hour).Seconds()),
	})
}

// --- auth ---

func (a *API) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Username string `json:"username"`
		FullName string `json:"full_name"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json")
		return
	}

	user, token, err := a.auth.Register(r.Context(), req.Email, req.Username, req.FullName, req.Password)
	switch {
	case errors.Is(err, auth.ErrValidation):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, store.ErrDuplicateEmail):
		respondError(w, http.StatusBadRequest, "email already registered")
		return
	case errors.Is(err, store.ErrDuplicateUsername):
		respondError(w, http.StatusBadRequest, "username already taken")
		return
	case err != nil:
		a.internalError(w, "register failed", err)
		return
	}

	setTokenCookie(w, token)
	respondJSON(w, http.StatusCreated, map[string]any{"user": user, "token": token})
}

func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identifier string `json:"identifier"`
		Password   string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json")
		return
	}

	user, token, err := a.auth.Login(r.Context(), req.Identifier, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		a.internalError(w, "login failed", err)
		return
	}

	setTokenCookie(w, token)
	respondJSON(w, http.StatusOK, map[string]any{"user": user, "token": token})
}

func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	if err := a.auth.Logout(r.Context(), auth.TokenFromRequest(r)); err != nil {
		a.internalError(w, "logout failed", err)
		return
	}
	setTokenCookie(w, "")
	respondJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (a *API) Me(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.FromContext(r.Context())
	respondJSON(w, http.StatusOK, map[string]any{"user": user})
}

// --- games ---

// CreateGame creates a pending series and invites the opponent. The creator
// always plays X, the invited player O.
func (a *API) CreateGame(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.FromContext(r.Context())

	var req struct {
		SeriesLength     int    `json:"series_length"`
		OpponentUsername string `json:"opponent_username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if !engine.ValidSeriesLength(req.SeriesLength) {
		respondError(w, http.StatusBadRequest, "series length must be 3, 5 or 7")
		return
	}

	opponent, err := a.store.UserByUsername(r.Context(), req.OpponentUsername)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "opponent not found")
		return
	}
	if err != nil {
		a.internalError(w, "opponent lookup failed", err)
		return
	}
	if opponent.ID == user.ID {
		respondError(w, http.StatusBadRequest, "cannot play against yourself")
		return
	}

	series := engine.NewSeries(uuid.NewString(), req.SeriesLength,
		engine.Player{UserID: user.ID, Username: user.Username},
		engine.Player{UserID: opponent.ID, Username: opponent.Username},
		time.Now().UTC())
	if err := a.store.CreateSeries(r.Context(), series); err != nil {
		a.internalError(w, "create series failed", err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{"game": toSeriesJSON(series)})
}

// AcceptInvitation flips a pending series to active. Only the invited player
// may accept.
func (a *API) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.FromContext(r.Context())

	series, ok := a.loadInvitation(w, r, user.ID)
	if !ok {
		return
	}

	series.Status = engine.StatusActive
	series.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveSeries(r.Context(), series); err != nil {
		a.internalError(w, "accept invitation failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"game": toSeriesJSON(series)})
}

func (a *API) DeclineInvitation(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.FromContext(r.Context())

	series, ok := a.loadInvitation(w, r, user.ID)
	if !ok {
		return
	}

	if err := a.store.DeleteSeries(r.Context(), series.ID); err != nil {
		a.internalError(w, "decline invitation failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "invitation declined"})
}

func (a *API) loadInvitation(w http.ResponseWriter, r *http.Request, userID string) (engine.Series, bool) {
	series, err := a.store.GetSeries(r.Context(), chi.URLParam(r, "gameID"))
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "game not found")
		return engine.Series{}, false
	}
	if err != nil {
		a.internalError(w, "load series failed", err)
		return engine.Series{}, false
	}
	if series.InvitedUserID != userID {
		respondError(w, http.StatusForbidden, "you are not invited to this game")
		return engine.Series{}, false
	}
	if series.Status != engine.StatusPending {
		respondError(w, http.StatusBadRequest, "game already started or completed")
		return engine.Series{}, false
	}
	return series, true
}

func (a *API) ListGames(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.FromContext(r.Context())
	games, err := a.store.ListActiveFor(r.Context(), user.ID)
	if err != nil {
		a.internalError(w, "list games failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"games": toSeriesListJSON(games)})
}

func (a *API) GetGame(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.FromContext(r.Context())

	series, err := a.store.GetSeries(r.Context(), chi.URLParam(r, "gameID"))
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "game not found")
		return
	}
	if err != nil {
		a.internalError(w, "load series failed", err)
		return
	}
	if !engine.IsParticipant(series, user.ID) {
		respondError(w, http.StatusForbidden, "you are not a player in this game")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"game": toSeriesJSON(series)})
}

func (a *API) ListInvitations(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.FromContext(r.Context())
	invitations, err := a.store.PendingInvitationsFor(r.Context(), user.ID)
	if err != nil {
		a.internalError(w, "list invitations failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"invitations": toSeriesListJSON(invitations)})
}

// --- history ---

func (a *API) ListHistory(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.FromContext(r.Context())
	completed, err := a.store.ListCompletedFor(r.Context(), user.ID)
	if err != nil {
		a.internalError(w, "list history failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"games": toSeriesListJSON(completed)})
}

func (a *API) GetHistory(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.FromContext(r.Context())

	series, err := a.store.GetSeries(r.Context(), chi.URLParam(r, "gameID"))
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "game not found")
		return
	}
	if err != nil {
		a.internalError(w, "load series failed", err)
		return
	}
	if !engine.IsParticipant(series, user.ID) {
		respondError(w, http.StatusForbidden, "you are not a player in this game")
		return
	}
	if series.Status != engine.StatusCompleted {
		respondError(w, http.StatusBadRequest, "game is not completed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"game": toSeriesJSON(series)})
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
