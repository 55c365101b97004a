package service

import (
	"context"
	"errors"
	"testing"

	"github.com/inkblog/internal/db"
	"github.com/inkblog/internal/logging"
)

func TestCategoryService_CRUD(t *testing.T) {
	gdb := setupServiceTestDB(t)
	svc := NewCategoryService(gdb, logging.Discard())
	ctx := context.Background()

	travel, err := svc.CreateCategory(ctx, CategoryInput{Name: "Travel", Slug: "travel", Color: strPtr("#ff8800")})
	if err != nil {
		t.Fatalf("create travel: %v", err)
	}
	if _, err := svc.CreateCategory(ctx, CategoryInput{Name: "Development", Slug: "development"}); err != nil {
		t.Fatalf("create development: %v", err)
	}

	categories, err := svc.ListCategories(ctx)
	if err != nil {
		t.Fatalf("list categories: %v", err)
	}
	if len(categories) != 2 || categories[0].Name != "Development" {
		t.Fatalf("expected categories ordered by name, got %+v", categories)
	}

	updated, err := svc.UpdateCategory(ctx, travel.ID, CategoryUpdate{
		Description: strPtr("Trips and notes"),
		Color:       strPtr(""),
	})
	if err != nil {
		t.Fatalf("update category: %v", err)
	}
	if updated.Description == nil || *updated.Description != "Trips and notes" {
		t.Fatalf("expected description set, got %v", updated.Description)
	}
	if updated.Color != nil {
		t.Fatalf("expected color cleared, got %q", *updated.Color)
	}
	if updated.Name != "Travel" {
		t.Fatalf("expected name untouched, got %q", updated.Name)
	}

	if _, err := svc.UpdateCategory(ctx, "missing", CategoryUpdate{Name: strPtr("x")}); !errors.Is(err, ErrCategoryNotFound) {
		t.Fatalf("expected ErrCategoryNotFound, got %v", err)
	}

	if err := svc.DeleteCategory(ctx, travel.ID); err != nil {
		t.Fatalf("delete category: %v", err)
	}
	categories, err = svc.ListCategories(ctx)
	if err != nil {
		t.Fatalf("list categories: %v", err)
	}
	if len(categories) != 1 {
		t.Fatalf("expected 1 category left, got %d", len(categories))
	}
}

func TestCategoryService_ListFailure(t *testing.T) {
	gdb := setupServiceTestDB(t)
	svc := NewCategoryService(gdb, logging.Discard())
	closeDB(t, gdb)

	_, err := svc.ListCategories(context.Background())
	var svcErr *Error
	if !errors.As(err, &svcErr) || svcErr.Message != "failed to load categories" {
		t.Fatalf("expected load categories error, got %v", err)
	}
}

func TestStatsService(t *testing.T) {
	gdb := setupServiceTestDB(t)
	svc := NewStatsService(gdb, logging.Discard())
	ctx := context.Background()

	seedPost(t, gdb, 1, "a", true, func(p *db.Post) { p.Category = strPtr("dev"); p.ViewCount = 10 })
	seedPost(t, gdb, 2, "b", true, func(p *db.Post) { p.Category = strPtr("dev"); p.ViewCount = 5 })
	seedPost(t, gdb, 3, "c", true, func(p *db.Post) { p.Category = strPtr("life"); p.ViewCount = 1 })
	seedPost(t, gdb, 4, "d", false, func(p *db.Post) { p.Category = strPtr("life"); p.ViewCount = 100 })
	if err := gdb.Create(&db.Category{Name: "dev", Slug: "dev"}).Error; err != nil {
		t.Fatalf("seed category: %v", err)
	}

	stats, err := svc.BlogStats(ctx)
	if err != nil {
		t.Fatalf("blog stats: %v", err)
	}
	want := BlogStats{TotalPosts: 4, PublishedPosts: 3, TotalViews: 16, CategoriesCount: 1}
	if *stats != want {
		t.Fatalf("expected %+v, got %+v", want, *stats)
	}

	perCategory := svc.CategoryStats(ctx)
	if len(perCategory) != 2 {
		t.Fatalf("expected 2 categories, got %+v", perCategory)
	}
	if perCategory[0].CategoryName != "dev" || perCategory[0].PostCount != 2 {
		t.Fatalf("unexpected first entry %+v", perCategory[0])
	}
	if perCategory[1].CategoryName != "life" || perCategory[1].PostCount != 1 {
		t.Fatalf("unexpected second entry %+v", perCategory[1])
	}

	closeDB(t, gdb)
	if got := svc.CategoryStats(ctx); got == nil || len(got) != 0 {
		t.Fatalf("expected empty slice on failure, got %v", got)
	}
}
