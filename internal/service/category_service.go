package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/inkblog/internal/db"
	"gorm.io/gorm"
)

// CategoryService 封装分类相关的存储操作。
type CategoryService struct {
	db     *gorm.DB
	logger *slog.Logger
}

// CategoryInput 创建分类时接受的字段。
type CategoryInput struct {
	Name        string
	Slug        string
	Description *string
	Color       *string
}

// CategoryUpdate 为部分更新，nil 字段保持不变。
type CategoryUpdate struct {
	Name        *string
	Slug        *string
	Description *string
	Color       *string
}

// NewCategoryService creates a CategoryService instance.
func NewCategoryService(gdb *gorm.DB, logger *slog.Logger) *CategoryService {
	return &CategoryService{db: gdb, logger: logger.With("component", "category_service")}
}

// ListCategories 按名称返回全部分类。
func (s *CategoryService) ListCategories(ctx context.Context) ([]db.Category, error) {
	var categories []db.Category
	if err := s.db.WithContext(ctx).Order("name").Find(&categories).Error; err != nil {
		return nil, storeError(s.logger, "list_categories", "failed to load categories", err)
	}
	if categories == nil {
		categories = []db.Category{}
	}
	return categories, nil
}

// CreateCategory 新建分类；名称与 slug 的冲突由存储层拒绝。
func (s *CategoryService) CreateCategory(ctx context.Context, input CategoryInput) (*db.Category, error) {
	category := db.Category{
		Name:        strings.TrimSpace(input.Name),
		Slug:        strings.TrimSpace(input.Slug),
		Description: nullable(input.Description),
		Color:       nullable(input.Color),
	}

	if err := s.db.WithContext(ctx).Create(&category).Error; err != nil {
		return nil, storeError(s.logger, "create_category", "failed to create the category", err)
	}
	return &category, nil
}

// UpdateCategory 部分更新分类。
func (s *CategoryService) UpdateCategory(ctx context.Context, id string, update CategoryUpdate) (*db.Category, error) {
	values := map[string]interface{}{}
	if update.Name != nil {
		values["name"] = strings.TrimSpace(*update.Name)
	}
	if update.Slug != nil {
		values["slug"] = strings.TrimSpace(*update.Slug)
	}
	if update.Description != nil {
		values["description"] = nullable(update.Description)
	}
	if update.Color != nil {
		values["color"] = nullable(update.Color)
	}

	if len(values) > 0 {
		result := s.db.WithContext(ctx).Model(&db.Category{}).Where("id = ?", id).Updates(values)
		if result.Error != nil {
			return nil, storeError(s.logger, "update_category", "failed to update the category", result.Error)
		}
		if result.RowsAffected == 0 {
			return nil, ErrCategoryNotFound
		}
	}

	var category db.Category
	if err := s.db.WithContext(ctx).First(&category, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCategoryNotFound
		}
		return nil, storeError(s.logger, "update_category", "failed to update the category", err)
	}
	return &category, nil
}

// DeleteCategory 删除分类；已引用该分类名的文章保持不变。
func (s *CategoryService) DeleteCategory(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&db.Category{}).Error; err != nil {
		return storeError(s.logger, "delete_category", "failed to delete the category", err)
	}
	return nil
}
