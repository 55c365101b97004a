// Package seed fills a development store with demo categories and posts.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/inkblog/internal/db"
	"github.com/inkblog/internal/form"
	"github.com/inkblog/internal/service"
	"github.com/inkblog/internal/slug"
)

// DefaultCategories are created when the store has none.
var DefaultCategories = []string{"Web Development", "Go", "TypeScript", "CSS", "Accessibility"}

// Options controls a seeding run.
type Options struct {
	Posts     int
	Seed      int64
	Published float64 // share of posts that are published, 0..1
	AuthorID  string
}

// Result summarises what was written.
type Result struct {
	Categories int
	Posts      int
	Published  int
}

// Seeder writes demo content through the same services the admin uses, so
// every post passes form validation and slug uniqueness.
type Seeder struct {
	posts      *service.PostService
	categories *service.CategoryService
	logger     *slog.Logger
}

// New creates a Seeder.
func New(posts *service.PostService, categories *service.CategoryService, logger *slog.Logger) *Seeder {
	return &Seeder{posts: posts, categories: categories, logger: logger.With("component", "seed")}
}

// Run creates the default categories if missing and then opts.Posts posts.
func (s *Seeder) Run(ctx context.Context, opts Options) (Result, error) {
	var result Result
	faker := gofakeit.New(opts.Seed)

	names, created, err := s.ensureCategories(ctx)
	if err != nil {
		return result, err
	}
	result.Categories = created

	for i := 0; i < opts.Posts; i++ {
		post, err := s.createPost(ctx, faker, names, opts)
		if err != nil {
			return result, fmt.Errorf("seed post %d: %w", i+1, err)
		}
		result.Posts++
		if post.Published {
			result.Published++
		}
	}

	s.logger.Info("seed finished", "categories", result.Categories, "posts", result.Posts, "published", result.Published)
	return result, nil
}

func (s *Seeder) ensureCategories(ctx context.Context) ([]string, int, error) {
	existing, err := s.categories.ListCategories(ctx)
	if err != nil {
		return nil, 0, err
	}
	if len(existing) > 0 {
		names := make([]string, 0, len(existing))
		for _, c := range existing {
			names = append(names, c.Name)
		}
		return names, 0, nil
	}

	for _, name := range DefaultCategories {
		if _, err := s.categories.CreateCategory(ctx, service.CategoryInput{
			Name: name,
			Slug: slug.Generate(name),
		}); err != nil {
			return nil, 0, err
		}
	}
	return DefaultCategories, len(DefaultCategories), nil
}

func (s *Seeder) createPost(ctx context.Context, faker *gofakeit.Faker, categories []string, opts Options) (*db.Post, error) {
	f := form.NewPostForm(s.posts, nil)
	f.SetTitle(strings.TrimSuffix(faker.Sentence(faker.Number(3, 7)), "."))
	f.SetContent(fakeMarkdown(faker))
	f.SetExcerpt(faker.Sentence(12))
	f.SetCategory(categories[faker.Number(0, len(categories)-1)])
	f.SetTags(strings.Join([]string{faker.BuzzWord(), faker.HackerNoun()}, ", "))
	f.SetFeaturedImage(fmt.Sprintf("https://picsum.photos/seed/%s/1200/630", faker.UUID()))
	f.SetPublished(faker.Float64Range(0, 1) < opts.Published)
	f.SetAuthorID(opts.AuthorID)

	// 随机标题可能撞上已有 slug，追加后缀重试
	for attempt := 0; attempt < 5; attempt++ {
		post, err := f.Submit(ctx)
		if err == nil {
			return post, nil
		}
		var verr *form.ValidationError
		if !errors.As(err, &verr) || verr.Fields["slug"] != form.MsgSlugTaken {
			return nil, err
		}
		f.SetSlug(fmt.Sprintf("%s-%d", f.Fields().Slug, faker.Number(2, 9999)))
	}
	return nil, errors.New("could not find a free slug")
}

func fakeMarkdown(faker *gofakeit.Faker) string {
	var b strings.Builder
	b.WriteString("## " + faker.HackerPhrase() + "\n\n")
	b.WriteString(faker.Paragraph(2, 4, 12, "\n\n") + "\n\n")
	b.WriteString("- " + faker.HackerVerb() + " " + faker.HackerNoun() + "\n")
	b.WriteString("- " + faker.HackerVerb() + " " + faker.HackerNoun() + "\n\n")
	b.WriteString("```go\nfmt.Println(\"" + faker.Word() + "\")\n```\n")
	return b.String()
}
