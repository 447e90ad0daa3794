package services

import (
	"context"
	"fmt"
	"time"

	"github.com/feedrelay/feedrelay/internal/models"
	"github.com/feedrelay/feedrelay/pkg/logger"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// MaxItemsPerTick bounds backlog catch-up so one evaluation never drains
// an unbounded history in a single pass.
const MaxItemsPerTick = 100

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// EnqueueResult is the structured outcome of one evaluation, surfaced
// as-is by the manual send-now trigger.
type EnqueueResult struct {
	Queued  int    `json:"queued"`
	Sent    int    `json:"sent"`
	Skipped bool   `json:"skipped"`
	Reason  string `json:"reason,omitempty"`
}

// DispatchKicker wakes the dispatch worker after an immediate-mode
// enqueue so sends do not wait for the next tick.
type DispatchKicker interface {
	KickDrain() error
}

// ScheduleService decides, per active automation, whether it is due and
// which content items are newly eligible, then enqueues dispatch rows and
// advances the cursor.
type ScheduleService struct {
	db      *gorm.DB
	content *ContentService
	queue   *DispatchService
	lease   *LeaseService
	kicker  DispatchKicker

	tick   time.Duration
	stopCh chan struct{}
	doneCh chan struct{}
}

func NewScheduleService(db *gorm.DB, content *ContentService, queue *DispatchService, lease *LeaseService, tick time.Duration) *ScheduleService {
	return &ScheduleService{
		db:      db,
		content: content,
		queue:   queue,
		lease:   lease,
		tick:    tick,
	}
}

// SetKicker wires the optional dispatch kick queue.
func (s *ScheduleService) SetKicker(k DispatchKicker) { s.kicker = k }

// WithinBatchWindow reports whether now falls inside any of the
// configured "HH:MM" windows in the given time zone, honoring the grace
// duration on both sides to tolerate scheduler jitter.
func WithinBatchWindow(windows []string, timezone string, now time.Time, grace time.Duration) bool {
	if len(windows) == 0 {
		return false
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)
	minuteOfDay := local.Hour()*60 + local.Minute()
	graceMin := int(grace.Minutes())

	for _, w := range windows {
		var hh, mm int
		if _, err := fmt.Sscanf(w, "%d:%d", &hh, &mm); err != nil {
			continue
		}
		target := hh*60 + mm
		diff := minuteOfDay - target
		// Wrap around midnight in both directions.
		if diff > 720 {
			diff -= 1440
		} else if diff < -720 {
			diff += 1440
		}
		if diff >= -graceMin && diff <= graceMin {
			return true
		}
	}
	return false
}

// nextCronFire computes the fire time after the reference instant for an
// expression evaluated in the automation's time zone.
func nextCronFire(expr, timezone string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	loc, locErr := time.LoadLocation(timezone)
	if locErr != nil {
		loc = time.UTC
	}
	return sched.Next(after.In(loc)), nil
}

// due decides whether an automation should be evaluated now. Cron-based
// automations fire when the next fire time since the last evaluation has
// passed; everything else is driven purely by new content.
func (s *ScheduleService) due(auto *models.Automation, now time.Time) (bool, error) {
	if auto.CronExpression == "" {
		return true, nil
	}
	ref := auto.CreatedAt
	if auto.LastEvaluatedAt != nil {
		ref = *auto.LastEvaluatedAt
	}
	next, err := nextCronFire(auto.CronExpression, auto.Timezone, ref)
	if err != nil {
		return false, fmt.Errorf("bad cron expression %q: %w", auto.CronExpression, err)
	}
	return !now.Before(next), nil
}

// EvaluateDue runs one evaluation pass over every active automation. A
// single automation's failure never stops the pass for the others.
func (s *ScheduleService) EvaluateDue() {
	var automations []models.Automation
	if err := s.db.Where("state = ?", models.AutomationStateActive).Find(&automations).Error; err != nil {
		logger.Errorf("[Schedule] listing active automations failed: %v", err)
		return
	}

	now := time.Now()
	for i := range automations {
		auto := &automations[i]
		isDue, err := s.due(auto, now)
		if err != nil {
			logger.Warn().Err(err).Uint("automation", auto.ID).Msg("due check failed")
			continue
		}
		if !isDue {
			continue
		}
		if _, err := s.EvaluateOne(auto); err != nil {
			logger.Warn().Err(err).Uint("automation", auto.ID).Msg("evaluation failed")
		}
	}
}

// DispatchAll evaluates every active automation immediately, ignoring
// cron timing. Exposed to the operator API.
func (s *ScheduleService) DispatchAll() (EnqueueResult, error) {
	var automations []models.Automation
	if err := s.db.Where("state = ?", models.AutomationStateActive).Find(&automations).Error; err != nil {
		return EnqueueResult{}, err
	}

	var total EnqueueResult
	for i := range automations {
		res, err := s.EvaluateOne(&automations[i])
		if err != nil {
			logger.Warn().Err(err).Uint("automation", automations[i].ID).Msg("dispatch-all evaluation failed")
			continue
		}
		total.Queued += res.Queued
	}
	return total, nil
}

// EnqueueNow is the manual send-once trigger for one automation. Timing
// is bypassed; the active-state gate is not.
func (s *ScheduleService) EnqueueNow(automationID uint) (EnqueueResult, error) {
	var auto models.Automation
	if err := s.db.First(&auto, automationID).Error; err != nil {
		return EnqueueResult{}, err
	}
	if !auto.IsRunning() {
		return EnqueueResult{Skipped: true, Reason: fmt.Sprintf("automation is %s, not active", auto.State)}, nil
	}
	res, err := s.EvaluateOne(&auto)
	if err != nil {
		return res, err
	}
	if res.Queued == 0 {
		return res, nil
	}
	if !s.lease.Held() {
		// Accepted but not sent; the holder's worker will pick the rows up.
		res.Reason = "queued, waiting for session lease"
		return res, nil
	}
	sent, _ := s.queue.Drain(context.Background())
	res.Sent = sent
	return res, nil
}

// EvaluateOne runs the enqueue step for one automation: fetch items past
// the cursor (bounded), enqueue item x active destination, then advance
// the cursor. The cursor moves only after enqueue succeeds and never
// moves backward, so a failed pass re-considers the same window.
func (s *ScheduleService) EvaluateOne(auto *models.Automation) (EnqueueResult, error) {
	now := time.Now()

	// A failing source must not read as "no new items": skip the whole
	// evaluation and let the next tick retry after a successful fetch.
	var source models.FeedSource
	if err := s.db.First(&source, auto.SourceID).Error; err != nil {
		return EnqueueResult{}, fmt.Errorf("source %d not found: %w", auto.SourceID, err)
	}
	if source.ConsecutiveFailures > 0 {
		return EnqueueResult{Skipped: true, Reason: fmt.Sprintf("source %q is failing: %s", source.Name, source.LastError)}, nil
	}

	var items []models.ContentItem
	if auto.LastQueuedAt == nil {
		// First-ever evaluation: only the most recent item, never the
		// whole backlog.
		latest, err := s.content.Latest(auto.SourceID)
		if err != nil {
			return EnqueueResult{}, err
		}
		if latest != nil {
			items = []models.ContentItem{*latest}
		}
	} else {
		var err error
		items, err = s.content.ListSince(auto.SourceID, auto.LastQueuedAt, MaxItemsPerTick)
		if err != nil {
			return EnqueueResult{}, err
		}
	}

	s.db.Model(auto).Update("last_evaluated_at", now)
	if len(items) == 0 {
		return EnqueueResult{}, nil
	}

	destinations, err := s.activeDestinations(auto.ID)
	if err != nil {
		return EnqueueResult{}, err
	}
	if len(destinations) == 0 {
		return EnqueueResult{Skipped: true, Reason: "no active destinations"}, nil
	}

	scheduleID := auto.ID
	queued := 0
	for _, item := range items { // ascending created_at
		for _, dest := range destinations {
			created, err := s.queue.Enqueue(&scheduleID, item.ID, dest.ID, models.DispatchStatusPending)
			if err != nil {
				// Partial failure: the cursor stays behind this item so the
				// next pass re-considers it; rows already created are
				// protected by the uniqueness triple.
				return EnqueueResult{Queued: queued}, err
			}
			if created {
				queued++
			}
		}
	}

	newest := items[len(items)-1].CreatedAt
	res := s.db.Model(&models.Automation{}).
		Where("id = ? AND (last_queued_at IS NULL OR last_queued_at < ?)", auto.ID, newest).
		Update("last_queued_at", newest)
	if res.Error != nil {
		return EnqueueResult{Queued: queued}, res.Error
	}
	auto.LastQueuedAt = &newest

	if queued > 0 {
		logger.Info().Uint("automation", auto.ID).Int("queued", queued).Msg("dispatch entries enqueued")
		if auto.DeliveryMode == models.DeliveryModeImmediate && s.kicker != nil {
			if err := s.kicker.KickDrain(); err != nil {
				logger.Warn().Err(err).Msg("dispatch kick failed")
			}
		}
	}
	return EnqueueResult{Queued: queued}, nil
}

func (s *ScheduleService) activeDestinations(automationID uint) ([]models.Destination, error) {
	var destinations []models.Destination
	err := s.db.
		Joins("JOIN automation_destinations ad ON ad.destination_id = destinations.id").
		Where("ad.automation_id = ? AND destinations.is_active = ?", automationID, true).
		Find(&destinations).Error
	return destinations, err
}

// Start runs the evaluation loop until Stop. Only the lease holder
// evaluates; other instances idle on the same ticker.
func (s *ScheduleService) Start() {
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				if !s.lease.Held() {
					continue
				}
				s.EvaluateDue()
			}
		}
	}()
	logger.Infof("[Schedule] evaluation loop started, tick: %v", s.tick)
}

// Stop halts the evaluation loop.
func (s *ScheduleService) Stop() {
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	<-s.doneCh
	s.stopCh = nil
}
