package services

import (
	"context"
	"time"

	"github.com/feedrelay/feedrelay/internal/models"
	"github.com/feedrelay/feedrelay/pkg/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// ClaimBatchSize bounds how many pending rows one drain pass claims.
	ClaimBatchSize = 20
	// SendTimeout bounds one external send call.
	SendTimeout = 60 * time.Second
	// errorStreakLimit is how many consecutive all-failed drain passes
	// flip the session lease into error status.
	errorStreakLimit = 3
)

// Skip reasons distinguish who paused what.
const (
	SkipReasonPausedByUser = "paused by user"
	SkipReasonItemPaused   = "paused for this content item across all destinations"
)

// DispatchService owns the dispatch_entries table and the worker loop
// that turns pending rows into delivery attempts. Enqueueing is
// idempotent on the (schedule, content item, destination) triple; claiming
// is a conditional update so two workers never both deliver one row.
type DispatchService struct {
	db       *gorm.DB
	lease    *LeaseService
	sender   MessageSender
	pacer    *SendPacer
	workerID string

	maxRetries int
	batchGrace time.Duration
	tick       time.Duration
	errStreak  int
	kickCh     chan struct{}
	stopCh     chan struct{}
	doneCh     chan struct{}
}

func NewDispatchService(db *gorm.DB, lease *LeaseService, sender MessageSender, pacer *SendPacer, workerID string, maxRetries int, batchGrace, tick time.Duration) *DispatchService {
	return &DispatchService{
		db:         db,
		lease:      lease,
		sender:     sender,
		pacer:      pacer,
		workerID:   workerID,
		maxRetries: maxRetries,
		batchGrace: batchGrace,
		tick:       tick,
		kickCh:     make(chan struct{}, 1),
	}
}

// Enqueue inserts one dispatch row. A conflict on the uniqueness triple
// means the pair was already queued and counts as success; the return
// value reports whether a new row was created.
func (s *DispatchService) Enqueue(scheduleID *uint, contentItemID, destinationID uint, status string) (bool, error) {
	if status == "" {
		status = models.DispatchStatusPending
	}
	entry := models.DispatchEntry{
		ScheduleID:    scheduleID,
		ContentItemID: contentItemID,
		DestinationID: destinationID,
		Status:        status,
	}
	res := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "schedule_id"},
			{Name: "content_item_id"},
			{Name: "destination_id"},
		},
		DoNothing: true,
	}).Create(&entry)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Claim atomically moves one pending row to processing under this
// worker's id. Returns false when another worker got there first.
func (s *DispatchService) Claim(entryID uint) (bool, error) {
	now := time.Now()
	res := s.db.Model(&models.DispatchEntry{}).
		Where("id = ? AND status = ?", entryID, models.DispatchStatusPending).
		Updates(map[string]interface{}{
			"status":                models.DispatchStatusProcessing,
			"claimed_by":            s.workerID,
			"processing_started_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkSent finishes a processing row after a successful send.
func (s *DispatchService) MarkSent(entryID uint, externalMessageID string) error {
	now := time.Now()
	return s.db.Model(&models.DispatchEntry{}).
		Where("id = ? AND status = ?", entryID, models.DispatchStatusProcessing).
		Updates(map[string]interface{}{
			"status":              models.DispatchStatusSent,
			"sent_at":             now,
			"external_message_id": externalMessageID,
			"error_message":       "",
		}).Error
}

// MarkFailed records a retriable send failure. The retry sweep decides
// whether the row comes back to pending.
func (s *DispatchService) MarkFailed(entryID uint, sendErr error) error {
	return s.db.Model(&models.DispatchEntry{}).
		Where("id = ? AND status = ?", entryID, models.DispatchStatusProcessing).
		Updates(map[string]interface{}{
			"status":        models.DispatchStatusFailed,
			"retry_count":   gorm.Expr("retry_count + 1"),
			"error_message": sendErr.Error(),
		}).Error
}

// MarkFailedPermanent records a non-retriable failure. The retry count is
// pushed to the bound so the sweep never picks the row up again.
func (s *DispatchService) MarkFailedPermanent(entryID uint, sendErr error) error {
	return s.db.Model(&models.DispatchEntry{}).
		Where("id = ? AND status = ?", entryID, models.DispatchStatusProcessing).
		Updates(map[string]interface{}{
			"status":        models.DispatchStatusFailed,
			"retry_count":   s.maxRetries,
			"error_message": sendErr.Error(),
		}).Error
}

// Skip marks an entry skipped with a reason. Valid from pending,
// processing or awaiting_approval.
func (s *DispatchService) Skip(entryID uint, reason string) error {
	return s.db.Model(&models.DispatchEntry{}).
		Where("id = ? AND status IN ?", entryID, []string{
			models.DispatchStatusPending,
			models.DispatchStatusProcessing,
			models.DispatchStatusAwaitingApproval,
		}).
		Updates(map[string]interface{}{
			"status":      models.DispatchStatusSkipped,
			"skip_reason": reason,
		}).Error
}

// SkipItem skips every live entry for one content item across all
// destinations.
func (s *DispatchService) SkipItem(contentItemID uint) (int64, error) {
	res := s.db.Model(&models.DispatchEntry{}).
		Where("content_item_id = ? AND status IN ?", contentItemID, []string{
			models.DispatchStatusPending,
			models.DispatchStatusProcessing,
			models.DispatchStatusAwaitingApproval,
		}).
		Updates(map[string]interface{}{
			"status":      models.DispatchStatusSkipped,
			"skip_reason": SkipReasonItemPaused,
		})
	return res.RowsAffected, res.Error
}

// Resume returns a skipped or awaiting_approval entry to pending.
func (s *DispatchService) Resume(entryID uint) error {
	return s.db.Model(&models.DispatchEntry{}).
		Where("id = ? AND status IN ?", entryID, []string{
			models.DispatchStatusSkipped,
			models.DispatchStatusAwaitingApproval,
		}).
		Updates(map[string]interface{}{
			"status":      models.DispatchStatusPending,
			"skip_reason": "",
		}).Error
}

// RecordReceipt advances a delivered row on a transport receipt. Advisory
// only: receipts never move a row backwards.
func (s *DispatchService) RecordReceipt(externalMessageID, receipt string) error {
	var from []string
	switch receipt {
	case models.DispatchStatusDelivered:
		from = []string{models.DispatchStatusSent}
	case models.DispatchStatusRead:
		from = []string{models.DispatchStatusSent, models.DispatchStatusDelivered}
	case models.DispatchStatusPlayed:
		from = []string{models.DispatchStatusSent, models.DispatchStatusDelivered, models.DispatchStatusRead}
	default:
		return nil
	}
	return s.db.Model(&models.DispatchEntry{}).
		Where("external_message_id = ? AND status IN ?", externalMessageID, from).
		Update("status", receipt).Error
}

// ClearPending bulk-deletes pending rows, the only deletion path for
// dispatch entries. Operator action.
func (s *DispatchService) ClearPending(scheduleID *uint) (int64, error) {
	q := s.db.Where("status = ?", models.DispatchStatusPending)
	if scheduleID != nil {
		q = q.Where("schedule_id = ?", *scheduleID)
	}
	res := q.Delete(&models.DispatchEntry{})
	return res.RowsAffected, res.Error
}

// Kick wakes the worker loop without waiting for the next tick.
func (s *DispatchService) Kick() {
	select {
	case s.kickCh <- struct{}{}:
	default:
	}
}

// Drain claims and delivers eligible pending rows until none remain or
// the lease is lost. Sends are serial and paced per destination.
func (s *DispatchService) Drain(ctx context.Context) (sent, failed int) {
	defer func() { s.noteOutcome(sent, failed) }()
	for {
		if !s.lease.Held() {
			return
		}

		entries, err := s.eligiblePending(ClaimBatchSize)
		if err != nil {
			logger.Errorf("[Dispatch] listing pending entries failed: %v", err)
			return
		}
		if len(entries) == 0 {
			return
		}

		progressed := false
		for i := range entries {
			select {
			case <-ctx.Done():
				return
			default:
			}
			ok, s2, f2 := s.deliver(ctx, &entries[i])
			progressed = progressed || ok
			sent += s2
			failed += f2
		}
		if !progressed {
			return
		}
	}
}

// noteOutcome tracks consecutive drain passes where every attempt
// failed. A streak marks the lease row as error so diagnostics can
// surface a wedged session; one successful send restores connected.
// Only the worker goroutine calls this.
func (s *DispatchService) noteOutcome(sent, failed int) {
	switch {
	case sent > 0:
		if s.errStreak >= errorStreakLimit {
			if err := s.lease.SetStatus(models.LeaseStatusConnected); err != nil {
				logger.Warn().Err(err).Msg("restoring connected status failed")
			}
		}
		s.errStreak = 0
	case failed > 0:
		s.errStreak++
		if s.errStreak == errorStreakLimit {
			logger.Error().Int("passes", s.errStreak).Msg("every send failing, marking session errored")
			if err := s.lease.SetStatus(models.LeaseStatusError); err != nil {
				logger.Warn().Err(err).Msg("recording error status failed")
			}
		}
	}
}

// eligiblePending lists pending rows whose automation allows dispatch
// right now: immediate mode always, batched mode only inside a
// configured time-of-day window. Orphaned rows (automation deleted)
// dispatch immediately. The scan pages through the whole pending set in
// id order so a backlog of batched rows parked before their window
// never hides eligible rows queued behind them.
func (s *DispatchService) eligiblePending(limit int) ([]models.DispatchEntry, error) {
	autoCache := make(map[uint]*models.Automation)
	eligible := make([]models.DispatchEntry, 0, limit)
	now := time.Now()

	var lastID uint
	for len(eligible) < limit {
		var batch []models.DispatchEntry
		err := s.db.Where("status = ? AND id > ?", models.DispatchStatusPending, lastID).
			Order("id ASC").
			Limit(limit * 2).
			Find(&batch).Error
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		lastID = batch[len(batch)-1].ID

		for i := range batch {
			e := batch[i]
			if e.ScheduleID == nil {
				eligible = append(eligible, e)
				continue
			}
			auto, ok := autoCache[*e.ScheduleID]
			if !ok {
				var a models.Automation
				if err := s.db.First(&a, *e.ScheduleID).Error; err == nil {
					auto = &a
				}
				autoCache[*e.ScheduleID] = auto
			}
			if auto == nil {
				eligible = append(eligible, e)
				continue
			}
			if auto.DeliveryMode == models.DeliveryModeBatched &&
				!WithinBatchWindow(auto.BatchWindows(), auto.Timezone, now, s.batchGrace) {
				continue
			}
			eligible = append(eligible, e)
			if len(eligible) >= limit {
				break
			}
		}
	}
	return eligible, nil
}

// deliver claims one row, sends it and records the outcome. The first
// return value reports whether the row was claimed at all.
func (s *DispatchService) deliver(ctx context.Context, entry *models.DispatchEntry) (claimed bool, sent, failed int) {
	ok, err := s.Claim(entry.ID)
	if err != nil {
		logger.Errorf("[Dispatch] claim of entry %d failed: %v", entry.ID, err)
		return false, 0, 0
	}
	if !ok {
		// Another worker, or another instance racing a lease handover.
		return false, 0, 0
	}

	var dest models.Destination
	if err := s.db.First(&dest, entry.DestinationID).Error; err != nil {
		s.MarkFailedPermanent(entry.ID, err)
		return true, 0, 1
	}
	var item models.ContentItem
	if err := s.db.First(&item, entry.ContentItemID).Error; err != nil {
		s.MarkFailedPermanent(entry.ID, err)
		return true, 0, 1
	}

	template := ""
	if entry.ScheduleID != nil {
		var auto models.Automation
		if err := s.db.First(&auto, *entry.ScheduleID).Error; err == nil {
			template = auto.TemplateText
		}
	}
	text := RenderMessage(template, &item)

	minInterval := time.Duration(dest.MinSendIntervalSec) * time.Second
	if err := s.pacer.Wait(ctx, dest.ID, minInterval); err != nil {
		// Shutdown mid-pacing: leave the row to the watchdog.
		return true, 0, 0
	}

	sendCtx, cancel := context.WithTimeout(ctx, SendTimeout)
	externalID, err := s.sender.Send(sendCtx, &dest, text)
	cancel()

	if err != nil {
		if IsRetriable(err) {
			logger.Warn().Err(err).Uint("entry", entry.ID).Msg("send failed, will retry")
			s.MarkFailed(entry.ID, err)
		} else {
			logger.Error().Err(err).Uint("entry", entry.ID).Msg("send rejected permanently")
			s.MarkFailedPermanent(entry.ID, err)
		}
		return true, 0, 1
	}

	if err := s.MarkSent(entry.ID, externalID); err != nil {
		logger.Errorf("[Dispatch] marking entry %d sent failed: %v", entry.ID, err)
	}
	if entry.ScheduleID != nil {
		s.db.Model(&models.Automation{}).Where("id = ?", *entry.ScheduleID).
			Update("last_dispatched_at", time.Now())
	}
	return true, 1, 0
}

// Start runs the worker loop until Stop.
func (s *DispatchService) Start() {
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
			case <-s.kickCh:
			}
			if sent, failed := s.Drain(ctx); sent+failed > 0 {
				logger.Info().Int("sent", sent).Int("failed", failed).Msg("dispatch pass finished")
			}
			s.pacer.Evict()
		}
	}()
	logger.Infof("[Dispatch] worker started, tick: %v", s.tick)
}

// Stop halts the worker loop.
func (s *DispatchService) Stop() {
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	<-s.doneCh
	s.stopCh = nil
}
