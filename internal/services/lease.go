package services

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/feedrelay/feedrelay/internal/models"
	"github.com/feedrelay/feedrelay/pkg/logger"
	"gorm.io/gorm"
)

// ErrTakeoverNotPersisted is returned when a forced takeover write reports
// zero rows affected. Success is never assumed in that case.
var ErrTakeoverNotPersisted = errors.New("forced takeover did not persist any row")

// LeaseInfo is the observable state of the session lease.
type LeaseInfo struct {
	Held      bool      `json:"held"`
	OwnerID   string    `json:"owner_id"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LeaseService arbitrates exclusive ownership of the external messaging
// session through conditional updates on the session_leases row. All
// success decisions hinge on RowsAffected; a write that matched nothing
// means the lease is not held.
type LeaseService struct {
	db      *gorm.DB
	ownerID string
	ttl     time.Duration
	now     func() time.Time

	mu   sync.Mutex
	held bool

	renewEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}
}

func NewLeaseService(db *gorm.DB, ownerID string, ttl, renewEvery time.Duration) *LeaseService {
	return &LeaseService{
		db:         db,
		ownerID:    ownerID,
		ttl:        ttl,
		renewEvery: renewEvery,
		now:        time.Now,
	}
}

// OwnerID returns this instance's opaque identifier.
func (s *LeaseService) OwnerID() string { return s.ownerID }

// Held reports whether this instance currently believes it owns the lease.
// The belief is refreshed on every acquire/renew attempt.
func (s *LeaseService) Held() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}

func (s *LeaseService) setHeld(held bool) {
	s.mu.Lock()
	s.held = held
	s.mu.Unlock()
}

// TryAcquire attempts to take the lease. It succeeds when the row is
// unowned, expired, or already ours (idempotent re-acquire). Each write
// is a conditional update so two instances cannot race into ownership.
func (s *LeaseService) TryAcquire() (LeaseInfo, error) {
	now := s.now()

	// Re-acquiring a live lease we already own only pushes the expiry
	// out. The connection status stays whatever the session path last
	// recorded, so a connected session is not knocked back to connecting.
	res := s.db.Model(&models.SessionLease{}).
		Where("name = ? AND owner_id = ? AND expires_at > ?",
			models.SessionLeaseName, s.ownerID, now).
		Update("expires_at", now.Add(s.ttl))
	if res.Error != nil {
		s.setHeld(false)
		return LeaseInfo{}, res.Error
	}
	if res.RowsAffected > 0 {
		s.setHeld(true)
		return s.Status()
	}

	res = s.db.Model(&models.SessionLease{}).
		Where("name = ? AND (owner_id = '' OR owner_id = ? OR expires_at <= ?)",
			models.SessionLeaseName, s.ownerID, now).
		Updates(map[string]interface{}{
			"owner_id":   s.ownerID,
			"expires_at": now.Add(s.ttl),
			"status":     models.LeaseStatusConnecting,
		})
	if res.Error != nil {
		s.setHeld(false)
		return LeaseInfo{}, res.Error
	}
	if res.RowsAffected == 0 {
		// Someone else holds a live lease.
		s.setHeld(false)
		return s.Status()
	}

	s.setHeld(true)
	return LeaseInfo{Held: true, OwnerID: s.ownerID, Status: models.LeaseStatusConnecting, ExpiresAt: now.Add(s.ttl)}, nil
}

// Renew extends the lease only if we still own it. A lease stolen out from
// under a stalled instance cannot be re-extended here: the predicate is
// restricted to our own owner id.
func (s *LeaseService) Renew() (bool, error) {
	now := s.now()
	res := s.db.Model(&models.SessionLease{}).
		Where("name = ? AND owner_id = ?", models.SessionLeaseName, s.ownerID).
		Update("expires_at", now.Add(s.ttl))
	if res.Error != nil {
		s.setHeld(false)
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		s.setHeld(false)
		return false, nil
	}
	s.setHeld(true)
	return true, nil
}

// ForceTakeover seizes the lease regardless of expiry. Operator recovery
// only: it may orphan an instance that still believes it holds the
// session, so the row lands in conflict status rather than a clean
// connected one. Zero rows affected is a hard error, never a success.
func (s *LeaseService) ForceTakeover() (LeaseInfo, error) {
	now := s.now()
	res := s.db.Model(&models.SessionLease{}).
		Where("name = ?", models.SessionLeaseName).
		Updates(map[string]interface{}{
			"owner_id":   s.ownerID,
			"expires_at": now.Add(s.ttl),
			"status":     models.LeaseStatusConflict,
		})
	if res.Error != nil {
		s.setHeld(false)
		return LeaseInfo{}, res.Error
	}
	if res.RowsAffected == 0 {
		s.setHeld(false)
		return LeaseInfo{}, ErrTakeoverNotPersisted
	}

	logger.Warn().Str("owner", s.ownerID).Msg("lease takeover forced, previous holder may be orphaned")
	s.setHeld(true)
	return LeaseInfo{Held: true, OwnerID: s.ownerID, Status: models.LeaseStatusConflict, ExpiresAt: now.Add(s.ttl)}, nil
}

// Release gives the lease up if we own it. Safe to call when not holding.
func (s *LeaseService) Release() error {
	res := s.db.Model(&models.SessionLease{}).
		Where("name = ? AND owner_id = ?", models.SessionLeaseName, s.ownerID).
		Updates(map[string]interface{}{
			"owner_id":   "",
			"expires_at": time.Unix(0, 0),
			"status":     models.LeaseStatusDisconnected,
		})
	s.setHeld(false)
	return res.Error
}

// SetStatus records the session connection status on the lease row. Only
// the holder's writes go through.
func (s *LeaseService) SetStatus(status string) error {
	res := s.db.Model(&models.SessionLease{}).
		Where("name = ? AND owner_id = ?", models.SessionLeaseName, s.ownerID).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("lease not held by %s", s.ownerID)
	}
	return nil
}

// Status reads the lease row as-is.
func (s *LeaseService) Status() (LeaseInfo, error) {
	var lease models.SessionLease
	if err := s.db.Where("name = ?", models.SessionLeaseName).First(&lease).Error; err != nil {
		return LeaseInfo{}, err
	}
	now := s.now()
	return LeaseInfo{
		Held:      lease.OwnerID == s.ownerID && lease.ExpiresAt.After(now),
		OwnerID:   lease.OwnerID,
		Status:    lease.Status,
		ExpiresAt: lease.ExpiresAt,
	}, nil
}

// Start runs the acquire/renew loop until Stop. Non-holders poll
// TryAcquire on the renew interval; the TTL is several multiples larger,
// so a crashed holder is reclaimed within one TTL window. Lost writes
// back off with jitter before the next attempt.
func (s *LeaseService) Start() {
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go func() {
		defer close(s.doneCh)
		for {
			wait := s.tick()
			select {
			case <-s.stopCh:
				return
			case <-time.After(wait):
			}
		}
	}()
	logger.Info().Str("owner", s.ownerID).Dur("ttl", s.ttl).Dur("interval", s.renewEvery).Msg("lease loop started")
}

func (s *LeaseService) tick() time.Duration {
	wasHeld := s.Held()

	var gained bool
	var err error
	if wasHeld {
		gained, err = s.Renew()
	} else {
		var info LeaseInfo
		info, err = s.TryAcquire()
		gained = info.Held
	}

	if err != nil {
		logger.Warn().Err(err).Msg("lease write failed, backing off")
		return s.renewEvery/2 + time.Duration(rand.Int63n(int64(s.renewEvery)))
	}

	switch {
	case gained && !wasHeld:
		logger.Info().Str("owner", s.ownerID).Msg("session lease acquired")
		// The session attaches as soon as ownership lands; the row moves
		// from connecting to connected here, not on the acquire write.
		if err := s.SetStatus(models.LeaseStatusConnected); err != nil {
			logger.Warn().Err(err).Msg("recording connected status failed")
		}
	case !gained && wasHeld:
		logger.Warn().Str("owner", s.ownerID).Msg("session lease lost")
	}

	if !gained {
		// Small jitter keeps contending instances from polling in lockstep.
		return s.renewEvery + time.Duration(rand.Int63n(int64(s.renewEvery/4)))
	}
	return s.renewEvery
}

// Stop halts the loop and releases the lease.
func (s *LeaseService) Stop() {
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	<-s.doneCh
	s.stopCh = nil

	if err := s.Release(); err != nil {
		logger.Warn().Err(err).Msg("lease release on shutdown failed")
	}
}
