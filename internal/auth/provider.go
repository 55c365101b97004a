// Package auth is the admin identity provider: password sign-in, signed
// access tokens, rotating refresh tokens and a per-browser client.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/inkblog/internal/db"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const defaultIssuer = "inkblog"

// Identity is the admin as seen by the rest of the application.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is what a successful sign-in or refresh hands back.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         Identity  `json:"user"`
}

// ProviderOptions configures token issuance.
type ProviderOptions struct {
	Secret     []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Now        func() time.Time
}

// Provider issues and verifies admin sessions.
type Provider struct {
	db         *gorm.DB
	tokens     TokenStore
	logger     *slog.Logger
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time

	// refreshMu 串行化刷新，rotated 记录最近轮换出的会话
	refreshMu sync.Mutex
	rotated   map[string]rotatedSession
}

type rotatedSession struct {
	session *Session
	until   time.Time
}

type accessClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// NewProvider creates a Provider. Zero TTLs default to one hour for access
// tokens and thirty days for refresh tokens.
func NewProvider(gdb *gorm.DB, tokens TokenStore, opts ProviderOptions, logger *slog.Logger) *Provider {
	if opts.Issuer == "" {
		opts.Issuer = defaultIssuer
	}
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = time.Hour
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = 30 * 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Provider{
		db:         gdb,
		tokens:     tokens,
		logger:     logger.With("component", "auth_provider"),
		secret:     opts.Secret,
		issuer:     opts.Issuer,
		accessTTL:  opts.AccessTTL,
		refreshTTL: opts.RefreshTTL,
		now:        opts.Now,
		rotated:    make(map[string]rotatedSession),
	}
}

// SignInWithPassword checks the admin credentials and opens a session.
func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	var user db.AdminUser
	if err := p.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return p.issue(ctx, Identity{ID: user.ID, Email: user.Email})
}

// VerifyAccessToken validates signature, issuer and expiry.
func (p *Provider) VerifyAccessToken(token string) (*Identity, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrInvalidToken
	}

	claims := &accessClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return p.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrSessionExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return &Identity{ID: claims.Subject, Email: claims.Email}, nil
}

// Refresh exchanges a refresh token for a new session. The old refresh
// token stays redeemable for RefreshReuseInterval; within that window it
// returns the session it was already rotated into.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, ErrInvalidRefreshToken
	}
	hash := hashToken(refreshToken)

	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	now := p.now()
	for key, r := range p.rotated {
		if now.After(r.until) {
			delete(p.rotated, key)
		}
	}
	if r, ok := p.rotated[hash]; ok {
		session := *r.session
		return &session, nil
	}

	userID, expiresAt, err := p.tokens.Consume(ctx, hash, now)
	if err != nil {
		return nil, err
	}
	if !now.Before(expiresAt) {
		return nil, ErrInvalidRefreshToken
	}

	var user db.AdminUser
	if err := p.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}

	session, err := p.issue(ctx, Identity{ID: user.ID, Email: user.Email})
	if err != nil {
		return nil, err
	}
	// 另一个实例已轮换过时这里签发的是兄弟会话，同样有效
	p.rotated[hash] = rotatedSession{session: session, until: now.Add(RefreshReuseInterval)}

	result := *session
	return &result, nil
}

// Revoke invalidates a refresh token. Unknown tokens are ignored.
func (p *Provider) Revoke(ctx context.Context, refreshToken string) error {
	if strings.TrimSpace(refreshToken) == "" {
		return nil
	}

	p.refreshMu.Lock()
	for key, r := range p.rotated {
		if r.session.RefreshToken == refreshToken {
			delete(p.rotated, key)
		}
	}
	p.refreshMu.Unlock()

	return p.tokens.Delete(ctx, hashToken(refreshToken))
}

// CreateUser registers a new admin account.
func (p *Provider) CreateUser(ctx context.Context, email, password string) (*db.AdminUser, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, errors.New("email and password are required")
	}

	var count int64
	if err := p.db.WithContext(ctx).Model(&db.AdminUser{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := db.AdminUser{Email: email, PasswordHash: string(hash)}
	if err := p.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}

	p.logger.Info("admin user created", "user_id", user.ID, "email", user.Email)
	return &user, nil
}

// EnsureUser creates the admin account if it does not exist yet. An
// existing account keeps its password.
func (p *Provider) EnsureUser(ctx context.Context, email, password string) (*db.AdminUser, bool, error) {
	user, err := p.CreateUser(ctx, email, password)
	if err == nil {
		return user, true, nil
	}
	if !errors.Is(err, ErrUserExists) {
		return nil, false, err
	}

	var existing db.AdminUser
	if err := p.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&existing).Error; err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

// SetPassword replaces the password of an existing admin.
func (p *Provider) SetPassword(ctx context.Context, email, password string) error {
	if password == "" {
		return errors.New("password is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	result := p.db.WithContext(ctx).Model(&db.AdminUser{}).
		Where("email = ?", normalizeEmail(email)).
		Update("password_hash", string(hash))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (p *Provider) issue(ctx context.Context, user Identity) (*Session, error) {
	now := p.now()
	expiresAt := now.Add(p.accessTTL)

	claims := accessClaims{
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return nil, err
	}

	refreshToken, err := randomToken()
	if err != nil {
		return nil, err
	}
	if err := p.tokens.Save(ctx, hashToken(refreshToken), user.ID, now.Add(p.refreshTTL)); err != nil {
		return nil, err
	}

	return &Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
		User:         user,
	}, nil
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
