package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/inkblog/internal/db"
	"github.com/inkblog/internal/logging"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func setupServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:service-%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := db.Open(db.Options{Driver: db.DriverSQLite, URL: dsn, Silent: true})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return gdb
}

func closeDB(t *testing.T, gdb *gorm.DB) {
	t.Helper()
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	if err := sqlDB.Close(); err != nil {
		t.Fatalf("close sql db: %v", err)
	}
}

var seedBase = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// seedPost 直接写入存储，n 决定 created_at 的先后。
func seedPost(t *testing.T, gdb *gorm.DB, n int, slug string, published bool, mutate ...func(*db.Post)) db.Post {
	t.Helper()
	post := db.Post{
		Title:     "Post " + slug,
		Slug:      slug,
		Content:   "content of " + slug,
		Published: published,
		CreatedAt: seedBase.Add(time.Duration(n) * time.Hour),
		UpdatedAt: seedBase.Add(time.Duration(n) * time.Hour),
	}
	for _, fn := range mutate {
		fn(&post)
	}
	if err := gdb.Create(&post).Error; err != nil {
		t.Fatalf("seed post %s: %v", slug, err)
	}
	return post
}

func strPtr(v string) *string { return &v }
func boolPtr(v bool) *bool    { return &v }

func slugsOf(posts []db.Post) []string {
	slugs := make([]string, 0, len(posts))
	for _, p := range posts {
		slugs = append(slugs, p.Slug)
	}
	return slugs
}

func TestPostService_ListPublishedNeverReturnsDrafts(t *testing.T) {
	gdb := setupServiceTestDB(t)
	svc := NewPostService(gdb, logging.Discard())
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		seedPost(t, gdb, i, fmt.Sprintf("post-%d", i), i%2 == 0)
	}

	list, err := svc.ListPosts(ctx, ListOptions{Published: boolPtr(true), Limit: 50})
	if err != nil {
		t.Fatalf("list posts: %v", err)
	}
	if list.TotalCount != 3 || len(list.Posts) != 3 {
		t.Fatalf("expected 3 published posts, got total=%d len=%d", list.TotalCount, len(list.Posts))
	}
	for _, post := range list.Posts {
		if !post.Published {
			t.Fatalf("draft %q leaked into published listing", post.Slug)
		}
	}

	drafts, err := svc.ListPosts(ctx, ListOptions{Published: boolPtr(false)})
	if err != nil {
		t.Fatalf("list drafts: %v", err)
	}
	if drafts.TotalCount != 3 {
		t.Fatalf("expected 3 drafts, got %d", drafts.TotalCount)
	}

	all, err := svc.ListPosts(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if all.TotalCount != 6 {
		t.Fatalf("expected 6 posts without publish filter, got %d", all.TotalCount)
	}
}

func TestPostService_HasMoreMatchesPagination(t *testing.T) {
	gdb := setupServiceTestDB(t)
	svc := NewPostService(gdb, logging.Discard())

	const total = 7
	for i := 0; i < total; i++ {
		seedPost(t, gdb, i, fmt.Sprintf("page-%d", i), true)
	}

	for _, limit := range []int{1, 3, 7, 10} {
		for offset := 0; offset <= total+1; offset++ {
			list, err := svc.ListPosts(context.Background(), ListOptions{Offset: offset, Limit: limit})
			if err != nil {
				t.Fatalf("list offset=%d limit=%d: %v", offset, limit, err)
			}
			want := total > offset+limit
			if list.HasMore != want {
				t.Fatalf("offset=%d limit=%d: expected hasMore=%v, got %v", offset, limit, want, list.HasMore)
			}
			if list.TotalCount != total {
				t.Fatalf("expected total %d, got %d", total, list.TotalCount)
			}
		}
	}
}

func TestPostService_ListDefaultsToNewestFirst(t *testing.T) {
	gdb := setupServiceTestDB(t)
	svc := NewPostService(gdb, logging.Discard())

	seedPost(t, gdb, 1, "oldest", true)
	seedPost(t, gdb, 3, "newest", true)
	seedPost(t, gdb, 2, "middle", true)

	list, err := svc.ListPosts(context.Background(), ListOptions{})
	if err != nil {
		t.Fatalf("list posts: %v", err)
	}
	got := slugsOf(list.Posts)
	want := []string{"newest", "middle", "oldest"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	asc, err := svc.ListPosts(context.Background(), ListOptions{SortBy: "title", SortOrder: "asc"})
	if err != nil {
		t.Fatalf("list by title: %v", err)
	}
	got = slugsOf(asc.Posts)
	want = []string{"middle", "newest", "oldest"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	// unknown sort columns fall back to created_at
	fallback, err := svc.ListPosts(context.Background(), ListOptions{SortBy: "id; drop table posts"})
	if err != nil {
		t.Fatalf("list with bogus sort: %v", err)
	}
	if fallback.Posts[0].Slug != "newest" {
		t.Fatalf("expected fallback ordering, got %v", slugsOf(fallback.Posts))
	}
}

func TestPostService_ListFiltersByCategoryAndTag(t *testing.T) {
	gdb := setupServiceTestDB(t)
	svc := NewPostService(gdb, logging.Discard())

	seedPost(t, gdb, 1, "go-tips", true, func(p *db.Post) {
		p.Category = strPtr("dev")
		p.Tags = datatypes.JSONSlice[string]{"go", "backend"}
	})
	seedPost(t, gdb, 2, "react-hooks", true, func(p *db.Post) {
		p.Category = strPtr("dev")
		p.Tags = datatypes.JSONSlice[string]{"react"}
	})
	seedPost(t, gdb, 3, "travel", true, func(p *db.Post) {
		p.Category = strPtr("life")
	})

	byCategory, err := svc.ListPosts(context.Background(), ListOptions{Category: "dev"})
	if err != nil {
		t.Fatalf("list by category: %v", err)
	}
	if byCategory.TotalCount != 2 {
		t.Fatalf("expected 2 dev posts, got %d", byCategory.TotalCount)
	}

	byTag, err := svc.ListPosts(context.Background(), ListOptions{Tag: "go"})
	if err != nil {
		t.Fatalf("list by tag: %v", err)
	}
	if byTag.TotalCount != 1 || byTag.Posts[0].Slug != "go-tips" {
		t.Fatalf("expected only go-tips, got %v", slugsOf(byTag.Posts))
	}
}

func TestPostService_GetBySlugNotFoundIsNil(t *testing.T) {
	gdb := setupServiceTestDB(t)
	svc := NewPostService(gdb, logging.Discard())
	ctx := context.Background()

	seedPost(t, gdb, 1, "draft", false)

	post, err := svc.GetBySlug(ctx, "missing", true)
	if err != nil || post != nil {
		t.Fatalf("expected (nil, nil) for missing slug, got (%v, %v)", post, err)
	}

	post, err = svc.GetBySlug(ctx, "draft", false)
	if err != nil || post != nil {
		t.Fatalf("expected draft hidden from public read, got (%v, %v)", post, err)
	}

	post, err = svc.GetBySlug(ctx, "draft", true)
	if err != nil || post == nil {
		t.Fatalf("expected draft visible to admin, got (%v, %v)", post, err)
	}

	byID, err := svc.GetByID(ctx, "does-not-exist")
	if err != nil || byID != nil {
		t.Fatalf("expected (nil, nil) for missing id, got (%v, %v)", byID, err)
	}
}

func TestPostService_StoreFailureIsDistinctFromNotFound(t *testing.T) {
	gdb := setupServiceTestDB(t)
	svc := NewPostService(gdb, logging.Discard())
	closeDB(t, gdb)

	post, err := svc.GetBySlug(context.Background(), "anything", true)
	if post != nil {
		t.Fatalf("expected nil post, got %v", post)
	}
	var svcErr *Error
	if !errors.As(err, &svcErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if svcErr.Message != "failed to load the post" {
		t.Fatalf("unexpected message %q", svcErr.Message)
	}
	if svcErr.Unwrap() == nil {
		t.Fatal("expected original error to be kept")
	}

	if _, err := svc.CreatePost(context.Background(), PostInput{Title: "t", Slug: "t", Content: "c"}); !errors.As(err, &svcErr) {
		t.Fatalf("expected *Error from create, got %v", err)
	}
	if svcErr.Error() != "failed to create the post" {
		t.Fatalf("unexpected create message %q", svcErr.Error())
	}
}

func TestPostService_CreateUpdateDelete(t *testing.T) {
	gdb := setupServiceTestDB(t)
	svc := NewPostService(gdb, logging.Discard())
	ctx := context.Background()

	created, err := svc.CreatePost(ctx, PostInput{
		Title:   "First",
		Slug:    "first",
		Content: "body",
		Excerpt: strPtr("short"),
		Tags:    []string{"go", "web"},
	})
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	if created.ID == "" || created.Published {
		t.Fatalf("expected new draft with id, got %+v", created)
	}

	if _, err := svc.CreatePost(ctx, PostInput{Title: "Dup", Slug: "first", Content: "x"}); err == nil {
		t.Fatal("expected duplicate slug to fail")
	}

	updated, err := svc.UpdatePost(ctx, created.ID, PostUpdate{
		Title:   strPtr("First, revised"),
		Excerpt: strPtr(""),
	})
	if err != nil {
		t.Fatalf("update post: %v", err)
	}
	if updated.Title != "First, revised" {
		t.Fatalf("expected updated title, got %q", updated.Title)
	}
	if updated.Excerpt != nil {
		t.Fatalf("expected excerpt cleared, got %q", *updated.Excerpt)
	}
	if updated.Content != "body" || len(updated.TagList()) != 2 {
		t.Fatalf("untouched fields changed: %+v", updated)
	}

	published, err := svc.SetPublished(ctx, created.ID, true)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !published.Published {
		t.Fatal("expected post to be published")
	}

	if _, err := svc.UpdatePost(ctx, "missing", PostUpdate{Title: strPtr("x")}); !errors.Is(err, ErrPostNotFound) {
		t.Fatalf("expected ErrPostNotFound, got %v", err)
	}

	if err := svc.DeletePost(ctx, created.ID); err != nil {
		t.Fatalf("delete post: %v", err)
	}
	if err := svc.DeletePost(ctx, created.ID); err != nil {
		t.Fatalf("deleting twice should not fail: %v", err)
	}
	if post, _ := svc.GetByID(ctx, created.ID); post != nil {
		t.Fatal("expected post to be gone")
	}
}

func TestPostService_SearchIsCaseInsensitive(t *testing.T) {
	gdb := setupServiceTestDB(t)
	svc := NewPostService(gdb, logging.Discard())
	ctx := context.Background()

	seedPost(t, gdb, 1, "gorm", true, func(p *db.Post) {
		p.Title = "Working with GORM"
		p.Tags = datatypes.JSONSlice[string]{"go", "db"}
	})
	seedPost(t, gdb, 2, "excerpt-only", true, func(p *db.Post) {
		p.Title = "Unrelated"
		p.Excerpt = strPtr("mentions gorm in passing")
	})
	seedPost(t, gdb, 3, "draft-gorm", false, func(p *db.Post) {
		p.Title = "gorm draft"
	})

	posts, err := svc.Search(ctx, SearchOptions{Query: "GoRm"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if fmt.Sprint(slugsOf(posts)) != fmt.Sprint([]string{"excerpt-only", "gorm"}) {
		t.Fatalf("unexpected search result %v", slugsOf(posts))
	}

	restricted := NewRestrictedPostService(gdb, logging.Discard())
	posts, err = restricted.Search(ctx, SearchOptions{Query: "gorm"})
	if err != nil {
		t.Fatalf("restricted search: %v", err)
	}
	if fmt.Sprint(slugsOf(posts)) != fmt.Sprint([]string{"gorm"}) {
		t.Fatalf("restricted search should ignore excerpt, got %v", slugsOf(posts))
	}

	posts, err = svc.Search(ctx, SearchOptions{Query: "gorm", Tags: []string{"rust", "db"}})
	if err != nil {
		t.Fatalf("search with tags: %v", err)
	}
	if fmt.Sprint(slugsOf(posts)) != fmt.Sprint([]string{"gorm"}) {
		t.Fatalf("expected tag overlap to keep only gorm, got %v", slugsOf(posts))
	}
}

func TestPostService_SearchTreatsWildcardsLiterally(t *testing.T) {
	gdb := setupServiceTestDB(t)
	svc := NewPostService(gdb, logging.Discard())
	ctx := context.Background()

	seedPost(t, gdb, 1, "snake", true, func(p *db.Post) { p.Title = "snake_case tips" })
	seedPost(t, gdb, 2, "full", true, func(p *db.Post) { p.Title = "100% coverage" })
	seedPost(t, gdb, 3, "many", true, func(p *db.Post) { p.Title = "1000 reasons" })
	seedPost(t, gdb, 4, "windows", true, func(p *db.Post) { p.Title = `C:\path notes` })

	tests := []struct {
		query string
		want  []string
	}{
		{query: "_", want: []string{"snake"}},
		{query: "100%", want: []string{"full"}},
		{query: "%", want: []string{"full"}},
		{query: `\p`, want: []string{"windows"}},
		{query: "100", want: []string{"many", "full"}},
	}
	for _, tt := range tests {
		posts, err := svc.Search(ctx, SearchOptions{Query: tt.query})
		if err != nil {
			t.Fatalf("search %q: %v", tt.query, err)
		}
		if fmt.Sprint(slugsOf(posts)) != fmt.Sprint(tt.want) {
			t.Fatalf("search %q: expected %v, got %v", tt.query, tt.want, slugsOf(posts))
		}
	}
}

func TestRestrictedPostService_IsReadOnlyAndPublishedOnly(t *testing.T) {
	gdb := setupServiceTestDB(t)
	svc := NewRestrictedPostService(gdb, logging.Discard())
	ctx := context.Background()

	draft := seedPost(t, gdb, 1, "hidden", false)
	seedPost(t, gdb, 2, "visible", true)

	list, err := svc.ListPosts(ctx, ListOptions{Published: boolPtr(false)})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if list.TotalCount != 1 || list.Posts[0].Slug != "visible" {
		t.Fatalf("restricted listing must stay published-only, got %v", slugsOf(list.Posts))
	}

	if post, err := svc.GetBySlug(ctx, "hidden", true); err != nil || post != nil {
		t.Fatalf("expected draft hidden, got (%v, %v)", post, err)
	}
	if post, err := svc.GetByID(ctx, draft.ID); err != nil || post != nil {
		t.Fatalf("expected draft hidden by id, got (%v, %v)", post, err)
	}

	if _, err := svc.CreatePost(ctx, PostInput{Title: "x", Slug: "x", Content: "x"}); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly on create, got %v", err)
	}
	if _, err := svc.UpdatePost(ctx, draft.ID, PostUpdate{Published: boolPtr(true)}); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly on update, got %v", err)
	}
	if err := svc.DeletePost(ctx, draft.ID); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly on delete, got %v", err)
	}
}

func TestPostService_IsSlugUnique(t *testing.T) {
	gdb := setupServiceTestDB(t)
	svc := NewPostService(gdb, logging.Discard())
	ctx := context.Background()

	post := seedPost(t, gdb, 1, "taken", false)

	if svc.IsSlugUnique(ctx, "taken", "") {
		t.Fatal("expected taken slug to be reported as not unique")
	}
	if !svc.IsSlugUnique(ctx, "taken", post.ID) {
		t.Fatal("expected slug to be unique when excluding its own post")
	}
	if svc.IsSlugUnique(ctx, "taken", "another-id") {
		t.Fatal("expected slug to stay taken when excluding a different post")
	}
	if !svc.IsSlugUnique(ctx, "free", "") {
		t.Fatal("expected unused slug to be unique")
	}

	closeDB(t, gdb)
	if svc.IsSlugUnique(ctx, "free", "") {
		t.Fatal("store failure must never report a slug as unique")
	}
}

func TestPostService_IncrementViewCount(t *testing.T) {
	gdb := setupServiceTestDB(t)
	svc := NewPostService(gdb, logging.Discard())
	ctx := context.Background()

	post := seedPost(t, gdb, 1, "counted", true)

	if !svc.IncrementViewCount(ctx, post.ID) {
		t.Fatal("expected increment to succeed")
	}
	if svc.IncrementViewCount(ctx, "missing") {
		t.Fatal("expected increment of a missing post to report failure")
	}

	loaded, err := svc.GetByID(ctx, post.ID)
	if err != nil {
		t.Fatalf("load post: %v", err)
	}
	if loaded.ViewCount != 1 {
		t.Fatalf("expected 1 view, got %d", loaded.ViewCount)
	}
}

func TestPostService_RecentPosts(t *testing.T) {
	gdb := setupServiceTestDB(t)
	svc := NewPostService(gdb, logging.Discard())

	seedPost(t, gdb, 1, "a", true)
	seedPost(t, gdb, 2, "b", false)
	seedPost(t, gdb, 3, "c", true)
	seedPost(t, gdb, 4, "d", true)

	posts, err := svc.RecentPosts(context.Background(), 2)
	if err != nil {
		t.Fatalf("recent posts: %v", err)
	}
	if fmt.Sprint(slugsOf(posts)) != fmt.Sprint([]string{"d", "c"}) {
		t.Fatalf("unexpected recent posts %v", slugsOf(posts))
	}
}
