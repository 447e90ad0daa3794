package services

import (
	"errors"
	"time"

	"github.com/feedrelay/feedrelay/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RawItem is one unit of content as produced by a feed fetcher, before
// normalization.
type RawItem struct {
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Summary     string     `json:"summary"`
	MediaURL    string     `json:"media_url"`
	PublishedAt *time.Time `json:"published_at"`
}

// ContentService owns the durable table of fetched items.
type ContentService struct {
	db *gorm.DB
}

func NewContentService(db *gorm.DB) *ContentService {
	return &ContentService{db: db}
}

// Ingest stores raw items for a source, deduplicated by the two unique
// constraints: (source, normalized url) and (source, content hash). A
// constraint conflict means the item was already seen and counts as
// success. Returns how many rows were newly created.
func (s *ContentService) Ingest(sourceID uint, items []RawItem) (int, error) {
	created := 0
	for _, raw := range items {
		if raw.URL == "" && raw.Title == "" {
			continue
		}
		item := models.ContentItem{
			SourceID:      sourceID,
			NormalizedURL: NormalizeURL(raw.URL),
			ContentHash:   ContentHash(raw.Title, raw.URL),
			Title:         raw.Title,
			Summary:       raw.Summary,
			RawURL:        raw.URL,
			MediaURL:      raw.MediaURL,
			PublishedAt:   raw.PublishedAt,
		}
		res := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&item)
		if res.Error != nil {
			return created, res.Error
		}
		created += int(res.RowsAffected)
	}
	return created, nil
}

// ListSince returns items for a source newer than the cursor, oldest
// first, capped at limit. A nil cursor means everything.
func (s *ContentService) ListSince(sourceID uint, cursor *time.Time, limit int) ([]models.ContentItem, error) {
	q := s.db.Where("source_id = ?", sourceID)
	if cursor != nil {
		q = q.Where("created_at > ?", *cursor)
	}
	var items []models.ContentItem
	err := q.Order("created_at ASC").Limit(limit).Find(&items).Error
	return items, err
}

// Latest returns the single most recent item for a source, or nil when
// the source has none.
func (s *ContentService) Latest(sourceID uint) (*models.ContentItem, error) {
	var item models.ContentItem
	err := s.db.Where("source_id = ?", sourceID).Order("created_at DESC").First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}
