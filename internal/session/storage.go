package session

import (
	"encoding/json"
	"sync"

	"github.com/gin-contrib/sessions"
	"github.com/inkblog/internal/auth"
)

// Storage is the browser-local key/value store the Context mirrors into.
type Storage interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Remove(key string)
}

// MemoryStorage is a Storage held in memory.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string)}
}

func (m *MemoryStorage) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.values[key]
	return value, ok
}

func (m *MemoryStorage) Set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}

func (m *MemoryStorage) Remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
}

// Len returns the number of stored keys.
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

const keyAuthSession = "auth-session"

// CookieStorage adapts a gin cookie session. It serves both as the
// Context's Storage and as the auth client's token store, so one signed
// cookie carries everything the browser keeps. Callers must Save the
// underlying session before the response is written.
type CookieStorage struct {
	session sessions.Session
}

// NewCookieStorage wraps s.
func NewCookieStorage(s sessions.Session) *CookieStorage {
	return &CookieStorage{session: s}
}

func (c *CookieStorage) Get(key string) (string, bool) {
	value, ok := c.session.Get(key).(string)
	return value, ok
}

func (c *CookieStorage) Set(key, value string) {
	c.session.Set(key, value)
}

func (c *CookieStorage) Remove(key string) {
	c.session.Delete(key)
}

func (c *CookieStorage) LoadSession() (*auth.Session, error) {
	raw, ok := c.Get(keyAuthSession)
	if !ok || raw == "" {
		return nil, nil
	}
	var stored auth.Session
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		// 无法解析的 cookie 视为未登录
		c.Remove(keyAuthSession)
		return nil, nil
	}
	return &stored, nil
}

func (c *CookieStorage) SaveSession(s *auth.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	c.Set(keyAuthSession, string(raw))
	return nil
}

func (c *CookieStorage) ClearSession() error {
	c.Remove(keyAuthSession)
	return nil
}

// Save flushes pending changes to the response cookie.
func (c *CookieStorage) Save() error {
	return c.session.Save()
}
