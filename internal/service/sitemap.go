package service

import (
	"context"
	"encoding/xml"
	"strings"
	"time"

	"github.com/inkblog/internal/db"
)

const sitemapNamespace = "http://www.sitemaps.org/schemas/sitemap/0.9"

// SitemapURL is one <url> entry.
type SitemapURL struct {
	Loc        string  `xml:"loc"`
	LastMod    string  `xml:"lastmod,omitempty"`
	ChangeFreq string  `xml:"changefreq,omitempty"`
	Priority   float64 `xml:"priority"`
}

// Sitemap is the sitemaps.org urlset document.
type Sitemap struct {
	XMLName xml.Name     `xml:"urlset"`
	XMLNS   string       `xml:"xmlns,attr"`
	URLs    []SitemapURL `xml:"url"`
}

type staticPage struct {
	path       string
	changeFreq string
	priority   float64
}

var staticPages = []staticPage{
	{path: "/", changeFreq: "daily", priority: 1.0},
	{path: "/about", changeFreq: "monthly", priority: 0.5},
	{path: "/articles", changeFreq: "daily", priority: 0.9},
	{path: "/contact", changeFreq: "monthly", priority: 0.5},
}

// BuildSitemap lists the static pages followed by every published article.
func (s *PostService) BuildSitemap(ctx context.Context, baseURL string, now time.Time) (*Sitemap, error) {
	base := strings.TrimRight(baseURL, "/")

	var posts []db.Post
	if err := s.db.WithContext(ctx).
		Select("slug", "updated_at").
		Where("published = ?", true).
		Order("created_at desc").
		Find(&posts).Error; err != nil {
		return nil, storeError(s.logger, "build_sitemap", "failed to build the sitemap", err)
	}

	sitemap := &Sitemap{
		XMLNS: sitemapNamespace,
		URLs:  make([]SitemapURL, 0, len(staticPages)+len(posts)),
	}

	stamp := now.UTC().Format(time.RFC3339)
	for _, page := range staticPages {
		sitemap.URLs = append(sitemap.URLs, SitemapURL{
			Loc:        base + page.path,
			LastMod:    stamp,
			ChangeFreq: page.changeFreq,
			Priority:   page.priority,
		})
	}

	for _, post := range posts {
		sitemap.URLs = append(sitemap.URLs, SitemapURL{
			Loc:        base + "/articles/" + post.Slug,
			LastMod:    post.UpdatedAt.UTC().Format(time.RFC3339),
			ChangeFreq: "weekly",
			Priority:   0.8,
		})
	}

	return sitemap, nil
}

// Encode renders the sitemap with the XML declaration.
func (m *Sitemap) Encode() ([]byte, error) {
	body, err := xml.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}
