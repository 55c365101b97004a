package handler

import (
	"bytes"
	"crypto/subtle"
	"math"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/inkblog/internal/db"
	"github.com/inkblog/internal/service"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var (
	markdownEngine = goldmark.New(
		goldmark.WithExtensions(extension.GFM, extension.Linkify, extension.Table),
		goldmark.WithRendererOptions(html.WithHardWraps(), html.WithXHTML()),
	)
	sanitizer = bluemonday.UGCPolicy()
)

const (
	articlesPageSize  = 10
	wordsPerMinute    = 200
	relatedCandidates = 4
	relatedShown      = 2
	descriptionLength = 160
)

// RequireAnonKey rejects public API calls that do not present the
// configured anon key in the apikey header or as a bearer token.
// With no key configured the public API is open.
func (a *API) RequireAnonKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.anonKey == "" {
			c.Next()
			return
		}

		presented := strings.TrimSpace(c.GetHeader("apikey"))
		if presented == "" {
			presented = strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(a.anonKey)) != 1 {
			respondError(c, http.StatusUnauthorized, "invalid api key")
			c.Abort()
			return
		}
		c.Next()
	}
}

// ListArticles serves the public article listing. A non-empty search
// switches to full-text matching, which ignores pagination.
func (a *API) ListArticles(c *gin.Context) {
	ctx := c.Request.Context()
	category := strings.TrimSpace(c.Query("category"))
	tag := strings.TrimSpace(c.Query("tag"))
	search := strings.TrimSpace(c.Query("search"))
	page := parsePositiveInt(c.Query("page"), 1)

	if search != "" {
		var tags []string
		if tag != "" {
			tags = []string{tag}
		}
		posts, err := a.public.Search(ctx, service.SearchOptions{Query: search, Category: category, Tags: tags})
		if err != nil {
			a.respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"posts":      posts,
			"totalCount": len(posts),
			"hasMore":    false,
			"page":       1,
			"search":     search,
		})
		return
	}

	result, err := a.public.ListPublished(ctx, service.ListOptions{
		Category: category,
		Tag:      tag,
		Offset:   (page - 1) * articlesPageSize,
		Limit:    articlesPageSize,
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

// GetArticle serves one published article with its rendered body.
func (a *API) GetArticle(c *gin.Context) {
	ctx := c.Request.Context()

	post, err := a.public.GetBySlug(ctx, c.Param("slug"), false)
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	if post == nil {
		respondError(c, http.StatusNotFound, "article not found")
		return
	}

	htmlContent, err := renderMarkdown(post.Content)
	if err != nil {
		a.logger.Error("render markdown", "post_id", post.ID, "error", err)
		respondError(c, http.StatusInternalServerError, "failed to render the article")
		return
	}

	if a.views != nil {
		a.views.Record(post.ID)
	}

	// 相关文章读取失败不影响正文
	recent, err := a.public.RecentPosts(ctx, relatedCandidates)
	if err != nil {
		recent = nil
	}

	c.JSON(http.StatusOK, gin.H{
		"post":        post,
		"html":        htmlContent,
		"readingTime": readingTime(post.Content),
		"description": describe(post),
		"images":      socialImages(post),
		"related":     relatedPosts(post, recent),
	})
}

// ListPublicCategories returns every category for the article filter bar.
func (a *API) ListPublicCategories(c *gin.Context) {
	categories, err := a.categories.ListCategories(c.Request.Context())
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

// Sitemap renders sitemap.xml for the static pages and every published article.
func (a *API) Sitemap(c *gin.Context) {
	sitemap, err := a.public.BuildSitemap(c.Request.Context(), a.baseURL, a.now())
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	body, err := sitemap.Encode()
	if err != nil {
		a.logger.Error("encode sitemap", "error", err)
		respondError(c, http.StatusInternalServerError, "failed to build the sitemap")
		return
	}
	c.Data(http.StatusOK, "application/xml; charset=utf-8", body)
}

func renderMarkdown(content string) (string, error) {
	var buf bytes.Buffer
	if err := markdownEngine.Convert([]byte(content), &buf); err != nil {
		return "", err
	}
	return string(sanitizer.SanitizeBytes(buf.Bytes())), nil
}

// readingTime 按每分钟 200 词估算，最少 1 分钟
func readingTime(content string) int {
	words := len(strings.Fields(content))
	minutes := int(math.Ceil(float64(words) / wordsPerMinute))
	if minutes < 1 {
		return 1
	}
	return minutes
}

func describe(post *db.Post) string {
	if post.MetaDescription != nil && *post.MetaDescription != "" {
		return *post.MetaDescription
	}
	if post.Excerpt != nil && *post.Excerpt != "" {
		return *post.Excerpt
	}
	runes := []rune(stripMarkdownImages(post.Content))
	if len(runes) > descriptionLength {
		runes = runes[:descriptionLength]
	}
	return string(runes)
}

// relatedPosts keeps recent posts other than current, restricted to its
// category when it has one.
func relatedPosts(current *db.Post, recent []db.Post) []db.Post {
	related := make([]db.Post, 0, relatedShown)
	for _, p := range recent {
		if p.ID == current.ID {
			continue
		}
		if current.Category != nil && (p.Category == nil || *p.Category != *current.Category) {
			continue
		}
		related = append(related, p)
		if len(related) == relatedShown {
			break
		}
	}
	return related
}
