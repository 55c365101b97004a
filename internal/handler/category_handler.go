package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/inkblog/internal/service"
	"github.com/inkblog/internal/slug"
)

type categoryRequest struct {
	Name        string  `json:"name" binding:"required"`
	Slug        string  `json:"slug"`
	Description *string `json:"description"`
	Color       *string `json:"color"`
}

type categoryUpdateRequest struct {
	Name        *string `json:"name"`
	Slug        *string `json:"slug"`
	Description *string `json:"description"`
	Color       *string `json:"color"`
}

// ListCategories 获取分类列表
func (a *API) ListCategories(c *gin.Context) {
	categories, err := a.categories.ListCategories(c.Request.Context())
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

// CreateCategory 创建分类，未提供 slug 时由名称生成
func (a *API) CreateCategory(c *gin.Context) {
	var req categoryRequest
	if !bindJSON(c, &req, "category name is required") {
		return
	}

	categorySlug := strings.TrimSpace(req.Slug)
	if categorySlug == "" {
		categorySlug = slug.Generate(req.Name)
	}

	category, err := a.categories.CreateCategory(c.Request.Context(), service.CategoryInput{
		Name:        req.Name,
		Slug:        categorySlug,
		Description: req.Description,
		Color:       req.Color,
	})
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "category created", "category": category})
}

// UpdateCategory 部分更新分类
func (a *API) UpdateCategory(c *gin.Context) {
	var req categoryUpdateRequest
	if !bindJSON(c, &req, "invalid category payload") {
		return
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		respondError(c, http.StatusBadRequest, "category name is required")
		return
	}

	category, err := a.categories.UpdateCategory(c.Request.Context(), c.Param("id"), service.CategoryUpdate{
		Name:        req.Name,
		Slug:        req.Slug,
		Description: req.Description,
		Color:       req.Color,
	})
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "category updated", "category": category})
}

// DeleteCategory 删除分类
func (a *API) DeleteCategory(c *gin.Context) {
	if err := a.categories.DeleteCategory(c.Request.Context(), c.Param("id")); err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "category deleted"})
}
