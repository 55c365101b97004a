package router

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/inkblog/internal/handler"
	"github.com/inkblog/internal/logging"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const sessionCookieName = "inkblog_session"

// Options 控制路由层的外围配置
type Options struct {
	SessionSecret string
	SessionMaxAge time.Duration
	SecureCookie  bool
	UploadDir     string
	UploadURL     string
	Logger        *slog.Logger
}

// SetupRouter 配置 Gin 引擎和路由
func SetupRouter(api *handler.API, opts Options) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	// 配置会话中间件
	store := cookie.NewStore([]byte(opts.SessionSecret))
	maxAge := int(opts.SessionMaxAge / time.Second)
	if maxAge <= 0 {
		maxAge = int((30 * 24 * time.Hour) / time.Second)
	}
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   opts.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions(sessionCookieName, store))

	if opts.UploadDir != "" && opts.UploadURL != "" {
		r.Static(opts.UploadURL, opts.UploadDir)
	}

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/sitemap.xml", api.Sitemap)

	// 公开接口，只读且仅限已发布文章
	public := r.Group("/api")
	public.Use(api.RequireAnonKey())
	{
		public.GET("/articles", api.ListArticles)
		public.GET("/articles/:slug", api.GetArticle)
		public.GET("/categories", api.ListPublicCategories)
	}

	// 后台管理路由
	admin := r.Group("/admin")
	{
		admin.POST("/login", api.Login)
		admin.POST("/logout", api.Logout)
		admin.GET("/api/session", api.SessionStatus)

		// 需要已确认会话的后台接口
		protected := admin.Group("/api")
		protected.Use(api.AuthRequired())
		{
			protected.GET("/posts", api.ListPosts)
			protected.GET("/posts/:id", api.GetPost)
			protected.POST("/posts", api.CreatePost)
			protected.PUT("/posts/:id", api.UpdatePost)
			protected.DELETE("/posts/:id", api.DeletePost)
			protected.POST("/posts/:id/publish", api.PublishPost)
			protected.POST("/posts/:id/unpublish", api.UnpublishPost)
			protected.POST("/slug", api.PreviewSlug)

			protected.GET("/categories", api.ListCategories)
			protected.POST("/categories", api.CreateCategory)
			protected.PUT("/categories/:id", api.UpdateCategory)
			protected.DELETE("/categories/:id", api.DeleteCategory)

			protected.GET("/stats", api.Stats)
			protected.POST("/uploads", api.UploadImage)
		}
	}

	return r
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}
