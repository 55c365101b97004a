package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	// DriverSQLite 使用本地 SQLite 文件作为内容存储。
	DriverSQLite = "sqlite"
	// DriverPostgres 连接托管的 PostgreSQL 内容存储。
	DriverPostgres = "postgres"
)

// Options 控制数据库连接行为。
type Options struct {
	Driver string
	URL    string
	Silent bool
}

// Open 打开内容存储连接并执行自动迁移。
// Driver 为空时回退到 sqlite，URL 为空时回退到 inkblog.db。
func Open(opts Options) (*gorm.DB, error) {
	driver := strings.ToLower(strings.TrimSpace(opts.Driver))
	if driver == "" {
		driver = DriverSQLite
	}

	url := strings.TrimSpace(opts.URL)

	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite:
		if url == "" {
			url = "inkblog.db"
		}
		if err := ensureParentDir(url); err != nil {
			return nil, err
		}
		dialector = sqlite.Open(url)
	case DriverPostgres:
		if url == "" {
			return nil, errors.New("postgres store url is required")
		}
		dialector = postgres.Open(url)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", opts.Driver)
	}

	cfg := &gorm.Config{}
	if opts.Silent {
		cfg.Logger = logger.Default.LogMode(logger.Silent)
	}

	gdb, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, err
	}

	if err := Migrate(gdb); err != nil {
		return nil, err
	}

	return gdb, nil
}

// Migrate 为核心模型创建或更新表结构。
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&AdminUser{},
		&Post{},
		&Category{},
		&RefreshToken{},
	)
}

func ensureParentDir(path string) error {
	if strings.HasPrefix(path, "file:") {
		return nil
	}

	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}

	info, err := os.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return errors.New("database path parent is not a directory")
		}
		return nil
	}

	if os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}

	return err
}
