package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/inkblog/internal/form"
	"github.com/inkblog/internal/service"
	"github.com/inkblog/internal/slug"
)

// postRequest 是后台编辑器提交的文章数据
type postRequest struct {
	form.Fields
	RegenerateSlug bool `json:"regenerate_slug"`
}

// postPatch 是更新请求，缺省字段保留原值
type postPatch struct {
	Title           *string `json:"title"`
	Slug            *string `json:"slug"`
	Content         *string `json:"content"`
	Excerpt         *string `json:"excerpt"`
	Category        *string `json:"category"`
	Tags            *string `json:"tags"`
	FeaturedImage   *string `json:"featured_image"`
	MetaDescription *string `json:"meta_description"`
	Published       *bool   `json:"published"`
	RegenerateSlug  bool    `json:"regenerate_slug"`
}

func (p postPatch) apply(f *form.PostForm) {
	if p.Title != nil {
		f.SetTitle(*p.Title)
	}
	if p.Slug != nil {
		f.SetSlug(*p.Slug)
	}
	if p.Content != nil {
		f.SetContent(*p.Content)
	}
	if p.Excerpt != nil {
		f.SetExcerpt(*p.Excerpt)
	}
	if p.Category != nil {
		f.SetCategory(*p.Category)
	}
	if p.Tags != nil {
		f.SetTags(*p.Tags)
	}
	if p.FeaturedImage != nil {
		f.SetFeaturedImage(*p.FeaturedImage)
	}
	if p.MetaDescription != nil {
		f.SetMetaDescription(*p.MetaDescription)
	}
	if p.Published != nil {
		f.SetPublished(*p.Published)
	}
	if p.RegenerateSlug {
		f.RegenerateSlug()
	}
}

type slugRequest struct {
	Title     string `json:"title"`
	Slug      string `json:"slug"`
	ExcludeID string `json:"exclude_id"`
}

// ListPosts 获取后台文章列表，包括草稿
func (a *API) ListPosts(c *gin.Context) {
	limit := parsePositiveInt(c.Query("limit"), articlesPageSize)
	if limit > 100 {
		limit = 100
	}
	page := parsePositiveInt(c.Query("page"), 1)

	result, err := a.posts.ListPosts(c.Request.Context(), service.ListOptions{
		Category:  strings.TrimSpace(c.Query("category")),
		Tag:       strings.TrimSpace(c.Query("tag")),
		Published: parseOptionalBool(c.Query("published")),
		SortBy:    c.Query("sort"),
		SortOrder: c.Query("order"),
		Offset:    (page - 1) * limit,
		Limit:     limit,
	})
	if err != nil {
		a.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"posts":      result.Posts,
		"totalCount": result.TotalCount,
		"hasMore":    result.HasMore,
		"page":       page,
	})
}

// GetPost 获取单篇文章
func (a *API) GetPost(c *gin.Context) {
	post, err := a.posts.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	if post == nil {
		respondError(c, http.StatusNotFound, "post not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"post": post})
}

// CreatePost 创建新文章
func (a *API) CreatePost(c *gin.Context) {
	var req postRequest
	if !bindJSON(c, &req, "invalid post payload") {
		return
	}

	f := form.NewPostForm(a.posts, nil)
	f.Fill(req.Fields)
	if req.RegenerateSlug {
		f.RegenerateSlug()
	}
	if identity, ok := adminIdentity(c); ok {
		f.SetAuthorID(identity.ID)
	}

	post, err := f.Submit(c.Request.Context())
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "post created", "post": post})
}

// UpdatePost 更新文章。只修改请求里出现的字段，其余沿用已保存的值
func (a *API) UpdatePost(c *gin.Context) {
	ctx := c.Request.Context()

	existing, err := a.posts.GetByID(ctx, c.Param("id"))
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	if existing == nil {
		respondError(c, http.StatusNotFound, "post not found")
		return
	}

	var req postPatch
	if !bindJSON(c, &req, "invalid post payload") {
		return
	}

	f := form.NewPostForm(a.posts, existing)
	req.apply(f)

	post, err := f.Submit(ctx)
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "post updated", "post": post})
}

// DeletePost 删除文章
func (a *API) DeletePost(c *gin.Context) {
	if err := a.posts.DeletePost(c.Request.Context(), c.Param("id")); err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "post deleted"})
}

// PublishPost makes a post visible to readers.
func (a *API) PublishPost(c *gin.Context) {
	a.setPublished(c, true)
}

// UnpublishPost hides a post from readers again.
func (a *API) UnpublishPost(c *gin.Context) {
	a.setPublished(c, false)
}

func (a *API) setPublished(c *gin.Context, published bool) {
	post, err := a.posts.SetPublished(c.Request.Context(), c.Param("id"), published)
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"post": post})
}

// PreviewSlug derives a slug from a title (or normalises a typed slug)
// and reports whether it is free.
func (a *API) PreviewSlug(c *gin.Context) {
	var req slugRequest
	if !bindJSON(c, &req, "invalid slug payload") {
		return
	}

	source := req.Slug
	if strings.TrimSpace(source) == "" {
		source = req.Title
	}
	candidate := slug.Generate(source)
	if candidate == "" {
		c.JSON(http.StatusOK, gin.H{"slug": "", "unique": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"slug":   candidate,
		"unique": a.posts.IsSlugUnique(c.Request.Context(), candidate, strings.TrimSpace(req.ExcludeID)),
	})
}
