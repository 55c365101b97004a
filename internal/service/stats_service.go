package service

import (
	"context"
	"log/slog"

	"github.com/inkblog/internal/db"
	"gorm.io/gorm"
)

// BlogStats 汇总后台首页展示的计数。
type BlogStats struct {
	TotalPosts      int64 `json:"totalPosts"`
	PublishedPosts  int64 `json:"publishedPosts"`
	TotalViews      int64 `json:"totalViews"`
	CategoriesCount int64 `json:"categoriesCount"`
}

// CategoryStat 为单个分类下已发布文章的数量。
type CategoryStat struct {
	CategoryName string `json:"category_name"`
	PostCount    int64  `json:"post_count"`
}

// StatsService 提供后台统计查询。
type StatsService struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewStatsService creates a StatsService instance.
func NewStatsService(gdb *gorm.DB, logger *slog.Logger) *StatsService {
	return &StatsService{db: gdb, logger: logger.With("component", "stats_service")}
}

// BlogStats 统计文章总数、已发布数、已发布文章的浏览总数与分类数。
func (s *StatsService) BlogStats(ctx context.Context) (*BlogStats, error) {
	var stats BlogStats
	gdb := s.db.WithContext(ctx)

	if err := gdb.Model(&db.Post{}).Count(&stats.TotalPosts).Error; err != nil {
		return nil, storeError(s.logger, "blog_stats", "failed to load statistics", err)
	}
	if err := gdb.Model(&db.Post{}).Where("published = ?", true).Count(&stats.PublishedPosts).Error; err != nil {
		return nil, storeError(s.logger, "blog_stats", "failed to load statistics", err)
	}
	if err := gdb.Model(&db.Post{}).
		Where("published = ?", true).
		Select("COALESCE(SUM(view_count), 0)").
		Scan(&stats.TotalViews).Error; err != nil {
		return nil, storeError(s.logger, "blog_stats", "failed to load statistics", err)
	}
	if err := gdb.Model(&db.Category{}).Count(&stats.CategoriesCount).Error; err != nil {
		return nil, storeError(s.logger, "blog_stats", "failed to load statistics", err)
	}

	return &stats, nil
}

// CategoryStats 按分类统计已发布文章数，失败时返回空切片。
func (s *StatsService) CategoryStats(ctx context.Context) []CategoryStat {
	var stats []CategoryStat
	if err := s.db.WithContext(ctx).Model(&db.Post{}).
		Select("category AS category_name, COUNT(*) AS post_count").
		Where("published = ? AND category IS NOT NULL AND category <> ''", true).
		Group("category").
		Order("post_count desc").
		Order("category_name").
		Scan(&stats).Error; err != nil {
		s.logger.Error("category stats failed", "error", err)
		return []CategoryStat{}
	}
	if stats == nil {
		stats = []CategoryStat{}
	}
	return stats
}
