package handler

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "golang.org/x/image/webp"
)

const maxUploadSize = 10 << 20

var imageExtensions = map[string]string{
	"jpeg": ".jpg",
	"png":  ".png",
	"gif":  ".gif",
	"webp": ".webp",
}

// UploadImage 处理文章封面图上传
func (a *API) UploadImage(c *gin.Context) {
	// 获取上传的文件
	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no image uploaded", "success": 0})
		return
	}
	if file.Size > maxUploadSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image exceeds 10MB", "success": 0})
		return
	}

	// 检查文件类型
	contentType := file.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only image files are allowed", "success": 0})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read the image", "success": 0})
		return
	}
	cfg, format, err := image.DecodeConfig(src)
	src.Close()
	ext, supported := imageExtensions[format]
	if err != nil || !supported {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported image format", "success": 0})
		return
	}

	if err := os.MkdirAll(a.uploadDir, 0o755); err != nil {
		a.logger.Error("create upload dir", "dir", a.uploadDir, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to prepare the upload directory", "success": 0})
		return
	}

	// 生成唯一文件名，扩展名以解码结果为准
	newFilename := fmt.Sprintf("%s-%s%s", a.now().Format("20060102"), uuid.New().String(), ext)
	if err := c.SaveUploadedFile(file, filepath.Join(a.uploadDir, newFilename)); err != nil {
		a.logger.Error("save upload", "file", newFilename, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save the image", "success": 0})
		return
	}

	fileURL := a.uploadURL + "/" + newFilename
	a.logger.Info("image uploaded", "file", newFilename, "format", format, "width", cfg.Width, "height", cfg.Height)
	c.JSON(http.StatusOK, gin.H{
		"success": 1,
		"message": "uploaded",
		"data": gin.H{
			"filePath":   fileURL,
			"url":        fileURL,
			"width":      cfg.Width,
			"height":     cfg.Height,
			"format":     format,
			"uploadedAt": a.now().UTC().Format(time.RFC3339),
		},
	})
}
