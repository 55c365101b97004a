package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/inkblog/internal/auth"
	"github.com/inkblog/internal/metrics"
	"github.com/inkblog/internal/session"
)

const adminIdentityKey = "admin_identity"

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// adminSession builds the per-request auth client and session context over
// the signed cookie. The caller must Close the context and Save the storage.
func (a *API) adminSession(c *gin.Context) (*auth.Client, *session.Context, *session.CookieStorage) {
	storage := session.NewCookieStorage(sessions.Default(c))
	client := auth.NewClient(a.auth, storage)
	return client, session.New(client, storage, a.logger), storage
}

func (a *API) saveCookie(c *gin.Context, storage *session.CookieStorage) bool {
	if err := storage.Save(); err != nil {
		a.logger.Error("save session cookie", "error", err)
		respondError(c, http.StatusInternalServerError, "failed to save the session")
		return false
	}
	return true
}

// Login 处理管理员登录
func (a *API) Login(c *gin.Context) {
	if !a.limiter.Allow(c.ClientIP()) {
		metrics.LoginAttempts.WithLabelValues("limited").Inc()
		respondError(c, http.StatusTooManyRequests, "too many login attempts, please wait")
		return
	}

	var req loginRequest
	if !bindJSON(c, &req, "email and password are required") {
		return
	}

	client, sc, storage := a.adminSession(c)
	defer sc.Close()

	signedIn, err := client.SignInWithPassword(c.Request.Context(), strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			metrics.LoginAttempts.WithLabelValues("rejected").Inc()
			respondError(c, http.StatusUnauthorized, "invalid email or password")
			return
		}
		metrics.LoginAttempts.WithLabelValues("error").Inc()
		a.logger.Error("admin sign-in failed", "error", err)
		respondError(c, http.StatusInternalServerError, "sign-in failed, please try again")
		return
	}

	if !a.saveCookie(c, storage) {
		return
	}
	metrics.LoginAttempts.WithLabelValues("ok").Inc()
	a.logger.Info("admin signed in", "user_id", signedIn.User.ID)

	c.JSON(http.StatusOK, gin.H{"user": signedIn.User, "session": sc.Snapshot()})
}

// Logout 总是清除本地会话；远端撤销失败只记录日志
func (a *API) Logout(c *gin.Context) {
	_, sc, storage := a.adminSession(c)
	defer sc.Close()

	if err := sc.SignOut(c.Request.Context()); err != nil {
		a.logger.Warn("refresh token revoke failed during sign-out", "error", err)
	}
	if !a.saveCookie(c, storage) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sc.Snapshot()})
}

// SessionStatus reports the current admin session without requiring one.
func (a *API) SessionStatus(c *gin.Context) {
	_, sc, storage := a.adminSession(c)
	defer sc.Close()

	err := sc.Start(c.Request.Context())
	if !a.saveCookie(c, storage) {
		return
	}

	status := http.StatusOK
	if err != nil {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"session": sc.Snapshot()})
}

// AuthRequired only lets requests through when the auth provider has
// confirmed the admin session during this request.
func (a *API) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, sc, storage := a.adminSession(c)
		defer sc.Close()

		err := sc.Start(c.Request.Context())
		if !a.saveCookie(c, storage) {
			c.Abort()
			return
		}
		if err != nil {
			respondError(c, http.StatusServiceUnavailable, "unable to verify the admin session")
			c.Abort()
			return
		}

		snap := sc.Snapshot()
		if !snap.Confirmed() {
			respondError(c, http.StatusUnauthorized, "unauthorized")
			c.Abort()
			return
		}

		c.Set(adminIdentityKey, *snap.User)
		c.Next()
	}
}

func adminIdentity(c *gin.Context) (auth.Identity, bool) {
	value, ok := c.Get(adminIdentityKey)
	if !ok {
		return auth.Identity{}, false
	}
	identity, ok := value.(auth.Identity)
	return identity, ok
}

// Stats returns dashboard counters and the per-category breakdown.
func (a *API) Stats(c *gin.Context) {
	ctx := c.Request.Context()
	stats, err := a.stats.BlogStats(ctx)
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"stats":      stats,
		"categories": a.stats.CategoryStats(ctx),
	})
}
