package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Category 定义文章分类
// 名称与 slug 的唯一性交由存储层约束
type Category struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	Name        string    `gorm:"not null" json:"name"`
	Slug        string    `gorm:"not null" json:"slug"`
	Description *string   `gorm:"type:text" json:"description"`
	Color       *string   `gorm:"size:32" json:"color"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName 指定自定义表名。
func (Category) TableName() string {
	return "categories"
}

// BeforeCreate 在写入前补全主键
func (c *Category) BeforeCreate(*gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}
