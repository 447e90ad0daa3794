package models

import "time"

// Lease statuses for the external messaging session.
const (
	LeaseStatusDisconnected = "disconnected"
	LeaseStatusConnecting   = "connecting"
	LeaseStatusConnected    = "connected"
	LeaseStatusConflict     = "conflict"
	LeaseStatusError        = "error"
)

// SessionLeaseName is the single named resource all instances contend for.
const SessionLeaseName = "messaging-session"

// SessionLease is the row arbitrating which process instance owns the
// external messaging session. Created once at first boot with no owner;
// superseded by conditional updates, never deleted.
type SessionLease struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;size:100;not null" json:"name"`
	OwnerID   string    `gorm:"size:100" json:"owner_id"` // empty means unowned
	Status    string    `gorm:"size:20;default:disconnected" json:"status"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Expired reports whether the lease is reclaimable at the given instant.
func (l *SessionLease) Expired(now time.Time) bool {
	return l.OwnerID == "" || !l.ExpiresAt.After(now)
}

func (SessionLease) TableName() string { return "session_leases" }
