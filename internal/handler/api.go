package handler

import (
	"log/slog"
	"strings"
	"time"

	"github.com/inkblog/internal/auth"
	"github.com/inkblog/internal/logging"
	"github.com/inkblog/internal/ratelimit"
	"github.com/inkblog/internal/service"
	"gorm.io/gorm"
)

// ViewRecorder queues a best-effort view count increment.
type ViewRecorder interface {
	Record(postID string) bool
}

// Options carries the non-store dependencies of the handlers.
type Options struct {
	Auth         auth.Authenticator
	Views        ViewRecorder
	LoginLimiter *ratelimit.KeyedRateLimiter
	Logger       *slog.Logger
	AnonKey      string
	SiteBaseURL  string
	UploadDir    string
	UploadURL    string
}

// API bundles shared dependencies for HTTP handlers.
type API struct {
	posts      *service.PostService
	public     *service.PostService
	categories *service.CategoryService
	stats      *service.StatsService
	auth       auth.Authenticator
	views      ViewRecorder
	limiter    *ratelimit.KeyedRateLimiter
	logger     *slog.Logger
	anonKey    string
	baseURL    string
	uploadDir  string
	uploadURL  string
	now        func() time.Time
}

// NewAPI constructs a handler set with shared services. Public routes read
// through the restricted post service, admin routes through the privileged one.
func NewAPI(gdb *gorm.DB, opts Options) *API {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	limiter := opts.LoginLimiter
	if limiter == nil {
		limiter = ratelimit.New(time.Minute/5, 5)
	}
	uploadURL := strings.TrimRight(opts.UploadURL, "/")
	if uploadURL == "" {
		uploadURL = "/uploads"
	}

	return &API{
		posts:      service.NewPostService(gdb, logger),
		public:     service.NewRestrictedPostService(gdb, logger),
		categories: service.NewCategoryService(gdb, logger),
		stats:      service.NewStatsService(gdb, logger),
		auth:       opts.Auth,
		views:      opts.Views,
		limiter:    limiter,
		logger:     logger.With("component", "http"),
		anonKey:    opts.AnonKey,
		baseURL:    strings.TrimRight(opts.SiteBaseURL, "/"),
		uploadDir:  opts.UploadDir,
		uploadURL:  uploadURL,
		now:        time.Now,
	}
}

// Posts exposes the privileged post service, e.g. for the view recorder.
func (a *API) Posts() *service.PostService {
	return a.posts
}
