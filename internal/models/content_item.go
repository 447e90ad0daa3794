package models

import "time"

// ContentItem is one fetched unit of content from a source. Rows are
// immutable after creation except for media enrichment.
//
// Uniqueness is enforced twice per source: on the normalized URL and,
// independently, on the content hash. Either match alone rejects a
// duplicate, so republished stories under new URLs and retitled stories
// under the same URL are both caught.
type ContentItem struct {
	ID            uint   `gorm:"primaryKey" json:"id"`
	SourceID      uint   `gorm:"not null;uniqueIndex:idx_source_url;uniqueIndex:idx_source_hash" json:"source_id"`
	NormalizedURL string `gorm:"size:700;not null;uniqueIndex:idx_source_url" json:"normalized_url"`
	ContentHash   string `gorm:"size:64;not null;uniqueIndex:idx_source_hash" json:"content_hash"`

	Title    string `gorm:"size:500" json:"title"`
	Summary  string `gorm:"type:text" json:"summary"`
	RawURL   string `gorm:"size:1000" json:"raw_url"`
	MediaURL string `gorm:"size:1000" json:"media_url"` // resolved media, enrichment only

	PublishedAt *time.Time `json:"published_at"`
	CreatedAt   time.Time  `gorm:"index" json:"created_at"`
}

func (ContentItem) TableName() string { return "content_items" }
