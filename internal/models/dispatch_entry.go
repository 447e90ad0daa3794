package models

import "time"

// Dispatch entry statuses.
//
// awaiting_approval -> pending        (operator approval)
// pending           -> processing     (worker claims row)
// processing        -> sent           (send succeeded)
// processing        -> failed         (retriable send error)
// processing        -> skipped        (operator paused mid-flight)
// processing        -> pending        (watchdog reclaim)
// failed            -> pending        (retry sweep, retry_count < max)
// sent              -> delivered/read/played (transport receipts, advisory)
const (
	DispatchStatusAwaitingApproval = "awaiting_approval"
	DispatchStatusPending          = "pending"
	DispatchStatusProcessing       = "processing"
	DispatchStatusSent             = "sent"
	DispatchStatusDelivered        = "delivered"
	DispatchStatusRead             = "read"
	DispatchStatusPlayed           = "played"
	DispatchStatusFailed           = "failed"
	DispatchStatusSkipped          = "skipped"
)

// DispatchEntry is one delivery attempt for one content item to one
// destination under one automation. The (schedule, content item,
// destination) triple is unique; re-running enqueue for a pair already
// seen never produces a second row.
type DispatchEntry struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// ScheduleID stays null if the automation is later deleted; the row is
	// preserved for audit.
	ScheduleID    *uint `gorm:"uniqueIndex:idx_dispatch_triple" json:"schedule_id"`
	ContentItemID uint  `gorm:"not null;uniqueIndex:idx_dispatch_triple" json:"content_item_id"`
	DestinationID uint  `gorm:"not null;uniqueIndex:idx_dispatch_triple" json:"destination_id"`

	Status     string `gorm:"size:24;default:pending;index" json:"status"`
	RetryCount int    `gorm:"default:0" json:"retry_count"`

	// ClaimedBy is the worker id of the instance that moved the row to
	// processing; informational, freed on reclaim.
	ClaimedBy           string     `gorm:"size:100" json:"claimed_by"`
	ProcessingStartedAt *time.Time `gorm:"index" json:"processing_started_at"`
	SentAt              *time.Time `json:"sent_at"`
	ErrorMessage        string     `gorm:"type:text" json:"error_message"`
	ExternalMessageID   string     `gorm:"size:200" json:"external_message_id"`
	SkipReason          string     `gorm:"size:200" json:"skip_reason"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ContentItem *ContentItem `gorm:"foreignKey:ContentItemID" json:"content_item,omitempty"`
	Destination *Destination `gorm:"foreignKey:DestinationID" json:"destination,omitempty"`
}

// Terminal reports whether no further transition can move the entry.
// failed is terminal only once the retry bound is reached, which the
// retry sweep decides; here it counts as non-terminal.
func (e *DispatchEntry) Terminal() bool {
	switch e.Status {
	case DispatchStatusSent, DispatchStatusDelivered, DispatchStatusRead,
		DispatchStatusPlayed, DispatchStatusSkipped:
		return true
	}
	return false
}

func (DispatchEntry) TableName() string { return "dispatch_entries" }
