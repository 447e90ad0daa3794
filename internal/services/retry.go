package services

import (
	"time"

	"github.com/feedrelay/feedrelay/internal/models"
	"github.com/feedrelay/feedrelay/pkg/logger"
	"gorm.io/gorm"
)

const (
	DefaultMaxRetries      = 3
	DefaultSweepInterval   = 5 * time.Minute
	DefaultWatchdogTimeout = 30 * time.Minute
	RetryBatchSize         = 50
)

// RetryService is the periodic supervisor: it requeues retriable
// failures up to the retry bound and reclaims rows stuck in processing
// past the watchdog timeout, the system's only cancellation mechanism
// for in-flight sends.
type RetryService struct {
	db         *gorm.DB
	maxRetries int
	watchdog   time.Duration

	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewRetryService(db *gorm.DB, maxRetries int, watchdog, interval time.Duration) *RetryService {
	return &RetryService{
		db:         db,
		maxRetries: maxRetries,
		watchdog:   watchdog,
		interval:   interval,
	}
}

// Sweep runs one supervisor pass and returns (requeued, reclaimed).
func (s *RetryService) Sweep() (int64, int64) {
	requeued := s.requeueFailed()
	reclaimed := s.reclaimStuck()
	if requeued > 0 || reclaimed > 0 {
		logger.Info().Int64("requeued", requeued).Int64("reclaimed", reclaimed).Msg("retry sweep finished")
	}
	return requeued, reclaimed
}

// requeueFailed returns failed rows below the retry bound to pending.
// Rows at or past the bound stay terminally failed and are surfaced only
// through diagnostics.
func (s *RetryService) requeueFailed() int64 {
	var ids []uint
	err := s.db.Model(&models.DispatchEntry{}).
		Where("status = ? AND retry_count < ?", models.DispatchStatusFailed, s.maxRetries).
		Order("updated_at ASC").
		Limit(RetryBatchSize).
		Pluck("id", &ids).Error
	if err != nil {
		logger.Errorf("[Retry] listing failed entries failed: %v", err)
		return 0
	}
	if len(ids) == 0 {
		return 0
	}

	res := s.db.Model(&models.DispatchEntry{}).
		Where("id IN ? AND status = ?", ids, models.DispatchStatusFailed).
		Updates(map[string]interface{}{
			"status":                models.DispatchStatusPending,
			"claimed_by":            "",
			"processing_started_at": nil,
		})
	if res.Error != nil {
		logger.Errorf("[Retry] requeue of failed entries failed: %v", res.Error)
		return 0
	}
	return res.RowsAffected
}

// reclaimStuck frees processing rows whose claim is older than the
// watchdog timeout, regardless of which instance claimed them. Crash
// recovery for workers that died mid-send.
func (s *RetryService) reclaimStuck() int64 {
	cutoff := time.Now().Add(-s.watchdog)
	res := s.db.Model(&models.DispatchEntry{}).
		Where("status = ? AND processing_started_at < ?", models.DispatchStatusProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":                models.DispatchStatusPending,
			"claimed_by":            "",
			"processing_started_at": nil,
		})
	if res.Error != nil {
		logger.Errorf("[Retry] reclaim of stuck entries failed: %v", res.Error)
		return 0
	}
	if res.RowsAffected > 0 {
		logger.Warn().Int64("count", res.RowsAffected).Msg("reclaimed dispatch entries stuck in processing")
	}
	return res.RowsAffected
}

// Start runs the sweep loop until Stop.
func (s *RetryService) Start() {
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
	logger.Infof("[Retry] supervisor started, interval: %v, max retries: %d", s.interval, s.maxRetries)
}

// Stop halts the sweep loop.
func (s *RetryService) Stop() {
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	<-s.doneCh
	s.stopCh = nil
}
