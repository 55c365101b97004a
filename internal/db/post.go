package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Post 定义了文章模型
// Slug 全局唯一；Published 为 false 的文章对匿名读者不可见
// Tags 以 JSON 数组保存，保留录入顺序
type Post struct {
	ID              string                      `gorm:"primaryKey;size:36" json:"id"`
	Title           string                      `gorm:"not null" json:"title"`
	Slug            string                      `gorm:"uniqueIndex;not null" json:"slug"`
	Content         string                      `gorm:"type:text" json:"content"`
	Excerpt         *string                     `gorm:"type:text" json:"excerpt"`
	AuthorID        *string                     `gorm:"size:36;index" json:"author_id"`
	Category        *string                     `gorm:"index" json:"category"`
	Tags            datatypes.JSONSlice[string] `json:"tags"`
	FeaturedImage   *string                     `json:"featured_image"`
	MetaDescription *string                     `json:"meta_description"`
	Published       bool                        `gorm:"index;not null;default:false" json:"published"`
	ViewCount       int64                       `gorm:"not null;default:0" json:"view_count"`
	CreatedAt       time.Time                   `gorm:"index" json:"created_at"`
	UpdatedAt       time.Time                   `json:"updated_at"`
}

// BeforeCreate 在写入前补全主键
func (p *Post) BeforeCreate(*gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// TagList 返回普通切片形式的标签，nil 表示未设置。
func (p *Post) TagList() []string {
	if p.Tags == nil {
		return nil
	}
	return []string(p.Tags)
}

// IncrementViewCount 对应内容存储中的 increment_view_count 过程：
// 原子地把浏览数加一，不触碰 updated_at。
func IncrementViewCount(gdb *gorm.DB, postID string) error {
	result := gdb.Model(&Post{}).
		Where("id = ?", postID).
		UpdateColumn("view_count", gorm.Expr("view_count + ?", 1))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
