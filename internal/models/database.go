package models

import (
	"fmt"
	"time"

	"github.com/feedrelay/feedrelay/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func InitDB(cfg *config.DatabaseConfig) error {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}

	DB = db
	return nil
}

func AutoMigrate() error {
	return DB.AutoMigrate(
		&User{},
		&FeedSource{},
		&Automation{},
		&Destination{},
		&ContentItem{},
		&DispatchEntry{},
		&SessionLease{},
	)
}

func GetDB() *gorm.DB {
	return DB
}

// SeedDefaultData ensures the singleton lease row exists. The lease is
// created unowned and already expired so the first instance to poll wins it.
func SeedDefaultData() error {
	var count int64
	DB.Model(&SessionLease{}).Where("name = ?", SessionLeaseName).Count(&count)
	if count == 0 {
		lease := SessionLease{
			Name:      SessionLeaseName,
			OwnerID:   "",
			Status:    LeaseStatusDisconnected,
			ExpiresAt: time.Unix(0, 0),
		}
		if err := DB.Create(&lease).Error; err != nil {
			return err
		}
	}
	return nil
}
