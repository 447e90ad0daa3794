package services

import (
	"testing"
	"time"

	"github.com/feedrelay/feedrelay/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// setupTestDB opens a fresh in-memory database with the full schema.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("opening test database failed: %v", err)
	}
	err = db.AutoMigrate(
		&models.User{},
		&models.FeedSource{},
		&models.Automation{},
		&models.Destination{},
		&models.ContentItem{},
		&models.DispatchEntry{},
		&models.SessionLease{},
	)
	if err != nil {
		t.Fatalf("migrating test database failed: %v", err)
	}
	return db
}

// seedLeaseRow creates the singleton lease row, unowned and expired.
func seedLeaseRow(t *testing.T, db *gorm.DB) {
	t.Helper()
	lease := models.SessionLease{
		Name:      models.SessionLeaseName,
		OwnerID:   "",
		Status:    models.LeaseStatusDisconnected,
		ExpiresAt: time.Unix(0, 0),
	}
	if err := db.Create(&lease).Error; err != nil {
		t.Fatalf("seeding lease row failed: %v", err)
	}
}

// seedSource creates a healthy feed source.
func seedSource(t *testing.T, db *gorm.DB) *models.FeedSource {
	t.Helper()
	source := models.FeedSource{Name: "test feed", URL: "https://feed.example.com/items", IsActive: true}
	if err := db.Create(&source).Error; err != nil {
		t.Fatalf("seeding source failed: %v", err)
	}
	return &source
}

// seedDestination creates an active destination.
func seedDestination(t *testing.T, db *gorm.DB, name string) *models.Destination {
	t.Helper()
	dest := models.Destination{Name: name, Kind: "group", Address: "https://hook.example.com/" + name, IsActive: true}
	if err := db.Create(&dest).Error; err != nil {
		t.Fatalf("seeding destination failed: %v", err)
	}
	return &dest
}

// seedItem creates a content item with a fixed creation time.
func seedItem(t *testing.T, db *gorm.DB, sourceID uint, title string, createdAt time.Time) *models.ContentItem {
	t.Helper()
	item := models.ContentItem{
		SourceID:      sourceID,
		Title:         title,
		RawURL:        "https://news.example.com/" + title,
		NormalizedURL: NormalizeURL("https://news.example.com/" + title),
		ContentHash:   ContentHash(title, "https://news.example.com/"+title),
		CreatedAt:     createdAt,
	}
	if err := db.Create(&item).Error; err != nil {
		t.Fatalf("seeding content item failed: %v", err)
	}
	return &item
}
