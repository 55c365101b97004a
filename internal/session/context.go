// Package session tracks the signed-in admin for one browser.
//
// A Context reads the identity cached in browser storage first (phase one,
// "cached") and then asks the auth provider (phase two, which either
// "confirmed" or "rejected" it). Only a confirmed identity is trusted for
// admin writes.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/inkblog/internal/auth"
)

// State is the coarse login state.
type State string

const (
	StateLoading         State = "loading"
	StateAuthenticated   State = "authenticated"
	StateUnauthenticated State = "unauthenticated"
)

// Phase records how the current state was reached.
type Phase string

const (
	PhaseNone      Phase = ""
	PhaseCached    Phase = "cached"
	PhaseConfirmed Phase = "confirmed"
	PhaseRejected  Phase = "rejected"
)

// Storage keys mirrored from the browser's local storage.
const (
	KeyLoggedIn = "admin-logged-in"
	KeyUser     = "admin-user"
)

// Snapshot is an immutable view of a Context.
type Snapshot struct {
	State State          `json:"state"`
	Phase Phase          `json:"phase"`
	User  *auth.Identity `json:"user,omitempty"`
}

// Confirmed reports whether the provider vouched for the identity.
func (s Snapshot) Confirmed() bool {
	return s.State == StateAuthenticated && s.Phase == PhaseConfirmed && s.User != nil
}

// Source is the provider-facing half of auth.Client.
type Source interface {
	GetSession(ctx context.Context) (*auth.Session, error)
	SignOut(ctx context.Context) error
	OnAuthStateChange(fn auth.Listener) func()
}

// Context is the admin session state machine. It is the single writer of
// the storage keys; readers observe it through Snapshot and Subscribe.
type Context struct {
	source  Source
	storage Storage
	logger  *slog.Logger

	mu          sync.Mutex
	snap        Snapshot
	subs        map[int]func(Snapshot)
	nextID      int
	unsubscribe func()
}

// New creates a Context in the loading state and subscribes it to the
// source's session changes until Close.
func New(source Source, storage Storage, logger *slog.Logger) *Context {
	c := &Context{
		source:  source,
		storage: storage,
		logger:  logger.With("component", "admin_session"),
		snap:    Snapshot{State: StateLoading},
		subs:    make(map[int]func(Snapshot)),
	}
	c.unsubscribe = source.OnAuthStateChange(c.handleEvent)
	return c
}

// Start runs both phases. Token-shaped errors end in a rejected,
// unauthenticated state with storage purged and are not returned. Any other
// provider error is returned; a cached identity then stays unconfirmed.
func (c *Context) Start(ctx context.Context) error {
	if user := c.readCache(); user != nil {
		c.transition(Snapshot{State: StateAuthenticated, Phase: PhaseCached, User: user}, false, false)
	}

	session, err := c.source.GetSession(ctx)
	if err != nil {
		if auth.IsTokenError(err) {
			c.logger.Info("stored admin session rejected", "error", err)
			c.reject()
			return nil
		}

		c.logger.Warn("admin session check failed", "error", err)
		c.mu.Lock()
		loading := c.snap.State == StateLoading
		c.mu.Unlock()
		if loading {
			c.transition(Snapshot{State: StateUnauthenticated, Phase: PhaseRejected}, false, false)
		}
		return err
	}

	if session == nil {
		c.reject()
		return nil
	}

	c.confirm(session.User)
	return nil
}

// SignOut always ends unauthenticated with empty storage; the provider
// error, if any, is returned afterwards.
func (c *Context) SignOut(ctx context.Context) error {
	err := c.source.SignOut(ctx)
	if err != nil {
		c.logger.Warn("remote sign-out failed", "error", err)
	}
	c.reject()
	return err
}

// Snapshot returns the current state.
func (c *Context) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Subscribe registers fn for every state change and returns a function
// that removes it.
func (c *Context) Subscribe(fn func(Snapshot)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Close detaches the Context from the source.
func (c *Context) Close() {
	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (c *Context) handleEvent(event auth.Event, session *auth.Session) {
	switch event {
	case auth.EventSignedIn, auth.EventTokenRefreshed:
		if session != nil {
			c.confirm(session.User)
		}
	case auth.EventSignedOut:
		c.reject()
	}
}

func (c *Context) confirm(user auth.Identity) {
	c.transition(Snapshot{State: StateAuthenticated, Phase: PhaseConfirmed, User: &user}, true, false)
}

func (c *Context) reject() {
	c.transition(Snapshot{State: StateUnauthenticated, Phase: PhaseRejected}, false, true)
}

func (c *Context) transition(next Snapshot, persist, purge bool) {
	c.mu.Lock()
	if persist && next.User != nil {
		if raw, err := json.Marshal(next.User); err == nil {
			c.storage.Set(KeyLoggedIn, "true")
			c.storage.Set(KeyUser, string(raw))
		} else {
			c.logger.Error("encode admin identity", "error", err)
		}
	}
	if purge {
		c.storage.Remove(KeyLoggedIn)
		c.storage.Remove(KeyUser)
	}

	changed := !sameSnapshot(c.snap, next)
	c.snap = next

	subs := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range subs {
		fn(next)
	}
}

func (c *Context) readCache() *auth.Identity {
	loggedIn, ok := c.storage.Get(KeyLoggedIn)
	if !ok || loggedIn != "true" {
		return nil
	}
	raw, ok := c.storage.Get(KeyUser)
	if !ok || raw == "" {
		return nil
	}

	var user auth.Identity
	if err := json.Unmarshal([]byte(raw), &user); err != nil || user.ID == "" {
		c.logger.Warn("discarding unreadable cached admin identity")
		return nil
	}
	return &user
}

func sameSnapshot(a, b Snapshot) bool {
	if a.State != b.State || a.Phase != b.Phase {
		return false
	}
	if a.User == nil || b.User == nil {
		return a.User == b.User
	}
	return *a.User == *b.User
}
