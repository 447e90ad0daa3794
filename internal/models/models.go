package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// Automation states. State is the single source of truth for whether an
// automation runs; consumers derive booleans from it and never persist them.
const (
	AutomationStateDraft   = "draft"
	AutomationStateActive  = "active"
	AutomationStatePaused  = "paused"
	AutomationStateStopped = "stopped"
)

// Delivery modes
const (
	DeliveryModeImmediate = "immediate"
	DeliveryModeBatched   = "batched"
)

// Automation binds one feed source, one message template, a set of
// destinations and a timing policy.
type Automation struct {
	ID             uint        `gorm:"primaryKey" json:"id"`
	Name           string      `gorm:"size:200;not null" json:"name"`
	State          string      `gorm:"size:20;default:draft;index" json:"state"` // draft, active, paused, stopped
	DeliveryMode   string      `gorm:"size:20;default:immediate" json:"delivery_mode"`
	BatchTimes     string      `gorm:"size:500" json:"batch_times"` // JSON array of "HH:MM", used only when batched
	Timezone       string      `gorm:"size:64;default:UTC" json:"timezone"`
	CronExpression string      `gorm:"size:100" json:"cron_expression"` // empty means on-new-item
	TemplateText   string      `gorm:"type:text" json:"template_text"`
	SourceID       uint        `gorm:"index;not null" json:"source_id"`
	Source         *FeedSource `gorm:"foreignKey:SourceID" json:"source,omitempty"`

	// LastQueuedAt is the cursor: the watermark up to which content items
	// have already been considered for enqueue. Advances only after a
	// successful enqueue pass, never backward.
	LastQueuedAt     *time.Time `json:"last_queued_at"`
	LastEvaluatedAt  *time.Time `json:"last_evaluated_at"`
	LastDispatchedAt *time.Time `json:"last_dispatched_at"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Destinations []Destination `gorm:"many2many:automation_destinations" json:"destinations,omitempty"`
}

// IsRunning reports whether evaluation runs for this automation. Derived
// from State on every call; there is intentionally no stored boolean.
func (a *Automation) IsRunning() bool {
	return a.State == AutomationStateActive
}

// BatchWindows decodes the configured time-of-day windows.
func (a *Automation) BatchWindows() []string {
	if a.BatchTimes == "" {
		return nil
	}
	var windows []string
	if err := json.Unmarshal([]byte(a.BatchTimes), &windows); err != nil {
		return nil
	}
	return windows
}

// Destination is one delivery target on the external messaging platform.
type Destination struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"size:200;not null" json:"name"`
	Kind string `gorm:"size:20;default:group" json:"kind"` // group, channel, user
	// Address is the platform identifier the message sender understands
	// (chat JID, channel id, webhook target).
	Address            string `gorm:"size:500;not null" json:"address"`
	IsActive           bool   `gorm:"default:true" json:"is_active"`
	MinSendIntervalSec int    `gorm:"default:3" json:"min_send_interval_sec"` // inter-item delay per destination

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// FeedSource is one external feed polled for new content.
type FeedSource struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Name     string `gorm:"size:200;not null" json:"name"`
	URL      string `gorm:"size:1000;not null" json:"url"`
	IsActive bool   `gorm:"default:true" json:"is_active"`

	// Fetch health, maintained by the fetch loop. A non-zero failure count
	// means the last fetch attempt did not succeed and evaluations that
	// depend on this source must skip rather than silently advance.
	ConsecutiveFailures int        `gorm:"default:0" json:"consecutive_failures"`
	LastError           string     `gorm:"type:text" json:"last_error"`
	LastFetchedAt       *time.Time `json:"last_fetched_at"`
	LastSuccessAt       *time.Time `json:"last_success_at"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Automation) TableName() string  { return "automations" }
func (Destination) TableName() string { return "destinations" }
func (FeedSource) TableName() string  { return "feed_sources" }
