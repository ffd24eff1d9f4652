// Package hub owns the registry of live session actors, keyed by series id.
// Sessions are loaded lazily from the store on first access, so a restart (or
// a session that went idle) picks up where the persisted document left off.
package hub

import (
	"context"
	"errors"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/mpreston/matchpoint/internal/engine"
	"github.com/mpreston/matchpoint/internal/session"
	"github.com/mpreston/matchpoint/internal/store"
)

type HubMsg interface{ isHubMsg() }

type GetSession struct {
	ID    string
	Reply chan *session.Session
}

// EnsureSession returns the live actor for a series, spawning it from the
// persisted document if needed. Reply is nil when the series does not exist.
type EnsureSession struct {
	ID    string
	Reply chan *session.Session
}

type ShutdownHub struct{}

// sessionLoaded carries a finished repository read back into the loop. Loads
// run on their own goroutines so a slow one cannot stall lookups for every
// other session.
type sessionLoaded struct {
	id     string
	series engine.Series
	err    error
}

func (GetSession) isHubMsg()    {}
func (EnsureSession) isHubMsg() {}
func (ShutdownHub) isHubMsg()   {}
func (sessionLoaded) isHubMsg() {}

type Hub struct {
	inbox    chan HubMsg
	sessions map[string]*session.Session
	loading  map[string][]chan *session.Session
	repo     session.Repository
	clock    clockwork.Clock
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewHub(parent context.Context, repo session.Repository, clock clockwork.Clock, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		sessions: make(map[string]*session.Session),
		loading:  make(map[string][]chan *session.Session),
		repo:     repo,
		clock:    clock,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case GetSession:
				msg.Reply <- h.sessions[msg.ID] // may be nil

			case EnsureSession:
				if s := h.sessions[msg.ID]; s != nil {
					msg.Reply <- s
					break
				}
				if waiters, inflight := h.loading[msg.ID]; inflight {
					h.loading[msg.ID] = append(waiters, msg.Reply)
					break
				}
				h.loading[msg.ID] = []chan *session.Session{msg.Reply}
				go h.load(msg.ID)

			case sessionLoaded:
				waiters := h.loading[msg.id]
				delete(h.loading, msg.id)

				var s *session.Session
				switch {
				case msg.err == nil:
					s = session.New(h.ctx, msg.series, h.repo, h.clock, h.log)
					h.sessions[msg.id] = s
				case !errors.Is(msg.err, store.ErrNotFound):
					h.log.Error("load session failed",
						zap.String("session_id", msg.id), zap.Error(msg.err))
				}
				for _, w := range waiters {
					w <- s
				}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) load(id string) {
	series, err := h.repo.GetSeries(h.ctx, id)
	select {
	case h.inbox <- sessionLoaded{id: id, series: series, err: err}:
	case <-h.ctx.Done():
	}
}

func (h *Hub) shutdown() {
	for id, waiters := range h.loading {
		for _, w := range waiters {
			w <- nil
		}
		delete(h.loading, id)
	}
	for id, s := range h.sessions {
		s.Inbox() <- session.Shutdown{}
		delete(h.sessions, id)
	}
	h.cancel()
}
