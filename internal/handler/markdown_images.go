package handler

import (
	"regexp"
	"strings"

	"github.com/inkblog/internal/db"
)

var markdownImagePattern = regexp.MustCompile(`!\[[^\]]*]\((<[^>]+>|[^)\s]+)([^)]*)\)`)

// markdownImageURLs 按出现顺序返回正文中的图片链接，尖括号写法会被去掉。
func markdownImageURLs(content string) []string {
	matches := markdownImagePattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	urls := make([]string, 0, len(matches))
	for _, groups := range matches {
		if len(groups) < 2 {
			continue
		}
		url := strings.TrimSuffix(strings.TrimPrefix(groups[1], "<"), ">")
		if url != "" {
			urls = append(urls, url)
		}
	}
	return urls
}

// stripMarkdownImages 删除图片语法，描述文本里不应出现链接。
func stripMarkdownImages(content string) string {
	if !markdownImagePattern.MatchString(content) {
		return content
	}
	return strings.Join(strings.Fields(markdownImagePattern.ReplaceAllString(content, " ")), " ")
}

// socialImages picks the share images for an article: the featured image,
// otherwise the first inline image.
func socialImages(post *db.Post) []string {
	if post.FeaturedImage != nil && *post.FeaturedImage != "" {
		return []string{*post.FeaturedImage}
	}
	if urls := markdownImageURLs(post.Content); len(urls) > 0 {
		return urls[:1]
	}
	return nil
}
