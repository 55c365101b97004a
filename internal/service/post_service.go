package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/inkblog/internal/db"
	"github.com/inkblog/internal/metrics"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultListLimit   = 10
	maxListLimit       = 100
	defaultRecentLimit = 5
)

var sortColumns = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"view_count": "view_count",
	"title":      "title",
}

// PostService wraps post related store operations.
//
// The privileged variant is used by the admin API. The restricted variant
// serves anonymous readers: every read is constrained to published posts,
// search ignores the excerpt and all writes fail with ErrReadOnly.
type PostService struct {
	db         *gorm.DB
	logger     *slog.Logger
	restricted bool
}

// ListOptions describes filters for listing posts.
type ListOptions struct {
	Category  string
	Tag       string
	Offset    int
	Limit     int
	Published *bool
	SortBy    string
	SortOrder string
}

// PostsResponse is one page of posts.
type PostsResponse struct {
	Posts      []db.Post `json:"posts"`
	TotalCount int64     `json:"totalCount"`
	HasMore    bool      `json:"hasMore"`
}

// SearchOptions narrows a free-text search.
type SearchOptions struct {
	Query    string
	Category string
	Tags     []string
	Limit    int
}

// PostInput represents fields accepted when creating a post.
type PostInput struct {
	Title           string
	Slug            string
	Content         string
	Excerpt         *string
	AuthorID        *string
	Category        *string
	Tags            []string
	FeaturedImage   *string
	MetaDescription *string
	Published       bool
}

// PostUpdate is a partial update. Nil fields are left untouched; for the
// optional text fields a pointer to "" clears the stored value.
type PostUpdate struct {
	Title           *string
	Slug            *string
	Content         *string
	Excerpt         *string
	Category        *string
	Tags            *[]string
	FeaturedImage   *string
	MetaDescription *string
	Published       *bool
}

// NewPostService creates the privileged PostService.
func NewPostService(gdb *gorm.DB, logger *slog.Logger) *PostService {
	return &PostService{db: gdb, logger: logger.With("component", "post_service")}
}

// NewRestrictedPostService creates the read-only PostService for public readers.
func NewRestrictedPostService(gdb *gorm.DB, logger *slog.Logger) *PostService {
	return &PostService{
		db:         gdb,
		logger:     logger.With("component", "post_service", "variant", "restricted"),
		restricted: true,
	}
}

// Restricted reports whether this is the public variant.
func (s *PostService) Restricted() bool {
	return s.restricted
}

// ListPosts returns a page of posts plus the total number of matches.
func (s *PostService) ListPosts(ctx context.Context, opts ListOptions) (*PostsResponse, error) {
	if s.restricted {
		published := true
		opts.Published = &published
	}
	opts = normalizeListOptions(opts)

	var total int64
	if err := s.applyListFilters(s.db.WithContext(ctx).Model(&db.Post{}), opts).
		Count(&total).Error; err != nil {
		return nil, storeError(s.logger, "list_posts", "failed to load posts", err)
	}

	var posts []db.Post
	dataQuery := s.applyListFilters(s.db.WithContext(ctx).Model(&db.Post{}), opts)
	if err := dataQuery.
		Order(clause.OrderByColumn{Column: clause.Column{Name: opts.SortBy}, Desc: opts.SortOrder == "desc"}).
		Order("id").
		Limit(opts.Limit).
		Offset(opts.Offset).
		Find(&posts).Error; err != nil {
		return nil, storeError(s.logger, "list_posts", "failed to load posts", err)
	}

	if posts == nil {
		posts = []db.Post{}
	}

	return &PostsResponse{
		Posts:      posts,
		TotalCount: total,
		HasMore:    total > int64(opts.Offset+opts.Limit),
	}, nil
}

// ListPublished is ListPosts constrained to published posts.
func (s *PostService) ListPublished(ctx context.Context, opts ListOptions) (*PostsResponse, error) {
	published := true
	opts.Published = &published
	return s.ListPosts(ctx, opts)
}

// RecentPosts returns the newest published posts.
func (s *PostService) RecentPosts(ctx context.Context, limit int) ([]db.Post, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	var posts []db.Post
	if err := s.db.WithContext(ctx).
		Where("published = ?", true).
		Order("created_at desc").
		Order("id").
		Limit(limit).
		Find(&posts).Error; err != nil {
		return nil, storeError(s.logger, "recent_posts", "failed to load recent posts", err)
	}
	return posts, nil
}

// GetBySlug returns (nil, nil) when no post matches.
// Unpublished posts are only visible through the privileged variant with
// includeUnpublished set.
func (s *PostService) GetBySlug(ctx context.Context, slug string, includeUnpublished bool) (*db.Post, error) {
	query := s.db.WithContext(ctx).Where("slug = ?", slug)
	if s.restricted || !includeUnpublished {
		query = query.Where("published = ?", true)
	}
	return s.first(query, "get_post_by_slug")
}

// GetByID returns (nil, nil) when no post matches.
func (s *PostService) GetByID(ctx context.Context, id string) (*db.Post, error) {
	query := s.db.WithContext(ctx).Where("id = ?", id)
	if s.restricted {
		query = query.Where("published = ?", true)
	}
	return s.first(query, "get_post_by_id")
}

// CreatePost inserts a post and returns the stored row.
func (s *PostService) CreatePost(ctx context.Context, input PostInput) (*db.Post, error) {
	if s.restricted {
		return nil, ErrReadOnly
	}

	post := db.Post{
		Title:           input.Title,
		Slug:            input.Slug,
		Content:         input.Content,
		Excerpt:         nullable(input.Excerpt),
		AuthorID:        nullable(input.AuthorID),
		Category:        nullable(input.Category),
		FeaturedImage:   nullable(input.FeaturedImage),
		MetaDescription: nullable(input.MetaDescription),
		Published:       input.Published,
	}
	if input.Tags != nil {
		post.Tags = datatypes.JSONSlice[string](input.Tags)
	}

	if err := s.db.WithContext(ctx).Create(&post).Error; err != nil {
		return nil, storeError(s.logger, "create_post", "failed to create the post", err)
	}

	metrics.PostMutations.WithLabelValues("create").Inc()
	s.logger.Info("post created", "post_id", post.ID, "slug", post.Slug, "published", post.Published)
	return &post, nil
}

// UpdatePost applies a partial update and returns the stored row.
// A missing post yields ErrPostNotFound.
func (s *PostService) UpdatePost(ctx context.Context, id string, update PostUpdate) (*db.Post, error) {
	if s.restricted {
		return nil, ErrReadOnly
	}

	values := update.values()
	if len(values) > 0 {
		result := s.db.WithContext(ctx).Model(&db.Post{}).Where("id = ?", id).Updates(values)
		if result.Error != nil {
			return nil, storeError(s.logger, "update_post", "failed to update the post", result.Error)
		}
		if result.RowsAffected == 0 {
			return nil, ErrPostNotFound
		}
	}

	post, err := s.first(s.db.WithContext(ctx).Where("id = ?", id), "update_post")
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, ErrPostNotFound
	}

	metrics.PostMutations.WithLabelValues("update").Inc()
	s.logger.Info("post updated", "post_id", post.ID, "fields", len(values))
	return post, nil
}

// SetPublished flips the publish flag of a single post.
func (s *PostService) SetPublished(ctx context.Context, id string, published bool) (*db.Post, error) {
	return s.UpdatePost(ctx, id, PostUpdate{Published: &published})
}

// DeletePost removes a post by id. Deleting a missing post is not an error.
func (s *PostService) DeletePost(ctx context.Context, id string) error {
	if s.restricted {
		return ErrReadOnly
	}

	if err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&db.Post{}).Error; err != nil {
		return storeError(s.logger, "delete_post", "failed to delete the post", err)
	}

	metrics.PostMutations.WithLabelValues("delete").Inc()
	s.logger.Info("post deleted", "post_id", id)
	return nil
}

// likeEscaper 让 % 和 _ 按字面匹配
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// Search matches Query case-insensitively against title and content (and
// excerpt in the privileged variant). Only published posts are returned,
// newest first. LIKE wildcards in Query match literally.
func (s *PostService) Search(ctx context.Context, opts SearchOptions) ([]db.Post, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	pattern := "%" + likeEscaper.Replace(strings.ToLower(strings.TrimSpace(opts.Query))) + "%"

	query := s.db.WithContext(ctx).Where("published = ?", true)
	if s.restricted {
		query = query.Where(`(LOWER(title) LIKE ? ESCAPE '\' OR LOWER(content) LIKE ? ESCAPE '\')`, pattern, pattern)
	} else {
		query = query.Where(`(LOWER(title) LIKE ? ESCAPE '\' OR LOWER(content) LIKE ? ESCAPE '\' OR LOWER(COALESCE(excerpt, '')) LIKE ? ESCAPE '\')`,
			pattern, pattern, pattern)
	}

	if category := strings.TrimSpace(opts.Category); category != "" {
		query = query.Where("category = ?", category)
	}
	if overlap := tagOverlap(opts.Tags); overlap != nil {
		query = query.Where(overlap)
	}

	var posts []db.Post
	if err := query.Order("created_at desc").Order("id").Limit(limit).Find(&posts).Error; err != nil {
		return nil, storeError(s.logger, "search_posts", "failed to search posts", err)
	}
	return posts, nil
}

// IncrementViewCount bumps the view counter. Failures are logged and
// reported through the return value only.
func (s *PostService) IncrementViewCount(ctx context.Context, id string) bool {
	if err := db.IncrementViewCount(s.db.WithContext(ctx), id); err != nil {
		s.logger.Warn("increment view count failed", "post_id", id, "error", err)
		return false
	}
	return true
}

// IsSlugUnique reports whether no post other than excludeID uses slug.
// Any store failure counts as "not unique".
func (s *PostService) IsSlugUnique(ctx context.Context, slug, excludeID string) bool {
	query := s.db.WithContext(ctx).Model(&db.Post{}).Where("slug = ?", slug)
	if excludeID != "" {
		query = query.Where("id <> ?", excludeID)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		s.logger.Error("slug uniqueness check failed", "slug", slug, "error", err)
		return false
	}
	return count == 0
}

func (s *PostService) first(query *gorm.DB, op string) (*db.Post, error) {
	var post db.Post
	if err := query.First(&post).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, storeError(s.logger, op, "failed to load the post", err)
	}
	return &post, nil
}

func (s *PostService) applyListFilters(query *gorm.DB, opts ListOptions) *gorm.DB {
	if opts.Published != nil {
		query = query.Where("published = ?", *opts.Published)
	}
	if opts.Category != "" {
		query = query.Where("category = ?", opts.Category)
	}
	if opts.Tag != "" {
		query = query.Where(datatypes.JSONArrayQuery("tags").Contains(opts.Tag))
	}
	return query
}

func normalizeListOptions(opts ListOptions) ListOptions {
	opts.Category = strings.TrimSpace(opts.Category)
	opts.Tag = strings.TrimSpace(opts.Tag)

	if opts.Limit <= 0 {
		opts.Limit = defaultListLimit
	}
	if opts.Limit > maxListLimit {
		opts.Limit = maxListLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	column, ok := sortColumns[strings.ToLower(strings.TrimSpace(opts.SortBy))]
	if !ok {
		column = "created_at"
	}
	opts.SortBy = column

	if strings.EqualFold(strings.TrimSpace(opts.SortOrder), "asc") {
		opts.SortOrder = "asc"
	} else {
		opts.SortOrder = "desc"
	}
	return opts
}

func tagOverlap(tags []string) clause.Expression {
	exprs := make([]clause.Expression, 0, len(tags))
	for _, tag := range tags {
		trimmed := strings.TrimSpace(tag)
		if trimmed == "" {
			continue
		}
		exprs = append(exprs, datatypes.JSONArrayQuery("tags").Contains(trimmed))
	}
	if len(exprs) == 0 {
		return nil
	}
	return clause.Or(exprs...)
}

func (u PostUpdate) values() map[string]interface{} {
	values := make(map[string]interface{})
	if u.Title != nil {
		values["title"] = *u.Title
	}
	if u.Slug != nil {
		values["slug"] = *u.Slug
	}
	if u.Content != nil {
		values["content"] = *u.Content
	}
	if u.Excerpt != nil {
		values["excerpt"] = nullable(u.Excerpt)
	}
	if u.Category != nil {
		values["category"] = nullable(u.Category)
	}
	if u.FeaturedImage != nil {
		values["featured_image"] = nullable(u.FeaturedImage)
	}
	if u.MetaDescription != nil {
		values["meta_description"] = nullable(u.MetaDescription)
	}
	if u.Tags != nil {
		values["tags"] = datatypes.JSONSlice[string](*u.Tags)
	}
	if u.Published != nil {
		values["published"] = *u.Published
	}
	return values
}

// nullable maps blank optional text to NULL.
func nullable(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
