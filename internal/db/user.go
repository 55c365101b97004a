package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AdminUser 定义了管理员账号模型，密码以 bcrypt 哈希保存
type AdminUser struct {
	ID           string    `gorm:"primaryKey;size:36"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TableName 指定自定义表名。
func (AdminUser) TableName() string {
	return "admin_users"
}

// BeforeCreate 在写入前补全主键
func (u *AdminUser) BeforeCreate(*gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// RefreshToken 记录已签发的刷新令牌（仅保存哈希）。
// ConsumedAt 非空表示已被轮换，短时间内仍可重放。
type RefreshToken struct {
	ID         uint      `gorm:"primaryKey"`
	TokenHash  string    `gorm:"size:64;uniqueIndex;not null"`
	UserID     string    `gorm:"size:36;index;not null"`
	ExpiresAt  time.Time `gorm:"index"`
	ConsumedAt *time.Time
	CreatedAt  time.Time
}

// TableName 指定自定义表名。
func (RefreshToken) TableName() string {
	return "refresh_tokens"
}
