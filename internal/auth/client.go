package auth

import (
	"context"
	"errors"
	"sync"
)

// Event names mirror the hosted identity SDK.
type Event string

const (
	EventSignedIn       Event = "SIGNED_IN"
	EventSignedOut      Event = "SIGNED_OUT"
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
)

// Listener receives session changes. The session is nil for EventSignedOut.
type Listener func(event Event, session *Session)

// Authenticator is the part of Provider a Client needs.
type Authenticator interface {
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	VerifyAccessToken(token string) (*Identity, error)
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
	Revoke(ctx context.Context, refreshToken string) error
}

// SessionStore keeps one browser's tokens between requests.
type SessionStore interface {
	LoadSession() (*Session, error)
	SaveSession(session *Session) error
	ClearSession() error
}

// Client is one browser's view of the provider.
type Client struct {
	provider Authenticator
	store    SessionStore

	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int
}

// NewClient creates a Client over store.
func NewClient(provider Authenticator, store SessionStore) *Client {
	return &Client{
		provider:  provider,
		store:     store,
		listeners: make(map[int]Listener),
	}
}

// SignInWithPassword opens a session and stores its tokens.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	session, err := c.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if err := c.store.SaveSession(session); err != nil {
		return nil, err
	}
	c.emit(EventSignedIn, session)
	return session, nil
}

// GetSession returns the stored session, refreshing it when the access
// token has expired. (nil, nil) means nobody is signed in. A token-shaped
// error clears the stored session before it is returned.
func (c *Client) GetSession(ctx context.Context) (*Session, error) {
	session, err := c.store.LoadSession()
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, nil
	}

	if _, err := c.provider.VerifyAccessToken(session.AccessToken); err == nil {
		return session, nil
	} else if !errors.Is(err, ErrSessionExpired) {
		c.drop()
		return nil, err
	}

	refreshed, err := c.provider.Refresh(ctx, session.RefreshToken)
	if err != nil {
		if IsTokenError(err) {
			c.drop()
		}
		return nil, err
	}
	if err := c.store.SaveSession(refreshed); err != nil {
		return nil, err
	}
	c.emit(EventTokenRefreshed, refreshed)
	return refreshed, nil
}

// SignOut revokes the refresh token and always clears the stored session.
// The revoke error, if any, is returned after the local state is gone.
func (c *Client) SignOut(ctx context.Context) error {
	var revokeErr error
	if session, err := c.store.LoadSession(); err == nil && session != nil {
		revokeErr = c.provider.Revoke(ctx, session.RefreshToken)
	}
	c.drop()
	return revokeErr
}

// OnAuthStateChange registers fn and returns a function that removes it.
func (c *Client) OnAuthStateChange(fn Listener) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

func (c *Client) drop() {
	_ = c.store.ClearSession()
	c.emit(EventSignedOut, nil)
}

func (c *Client) emit(event Event, session *Session) {
	c.mu.Lock()
	listeners := make([]Listener, 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(event, session)
	}
}

// MemorySessionStore is a SessionStore held in memory.
type MemorySessionStore struct {
	mu      sync.Mutex
	session *Session
}

func (m *MemorySessionStore) LoadSession() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, nil
	}
	copied := *m.session
	return &copied, nil
}

func (m *MemorySessionStore) SaveSession(session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *session
	m.session = &copied
	return nil
}

func (m *MemorySessionStore) ClearSession() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}
