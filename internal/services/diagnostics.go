package services

import (
	"fmt"

	"github.com/feedrelay/feedrelay/internal/models"
	"gorm.io/gorm"
)

// DiagnosticsReport explains, for one automation, why it may be
// producing no output.
type DiagnosticsReport struct {
	AutomationID       uint     `json:"automation_id"`
	State              string   `json:"state"`
	SessionConnected   bool     `json:"session_connected"`
	TemplateRenders    bool     `json:"template_renders"`
	ActiveDestinations int      `json:"active_destinations"`
	QueuedCount        int64    `json:"queued_count"`
	SentCount          int64    `json:"sent_count"`
	FailedCount        int64    `json:"failed_count"`
	BlockingReasons    []string `json:"blocking_reasons"`
}

// DiagnosticsService answers "why did automation X send nothing".
type DiagnosticsService struct {
	db    *gorm.DB
	lease *LeaseService
}

func NewDiagnosticsService(db *gorm.DB, lease *LeaseService) *DiagnosticsService {
	return &DiagnosticsService{db: db, lease: lease}
}

// Report assembles the diagnostics for one automation.
func (s *DiagnosticsService) Report(automationID uint) (*DiagnosticsReport, error) {
	var auto models.Automation
	if err := s.db.First(&auto, automationID).Error; err != nil {
		return nil, err
	}

	report := &DiagnosticsReport{
		AutomationID: auto.ID,
		State:        auto.State,
	}

	leaseInfo, err := s.lease.Status()
	if err == nil {
		report.SessionConnected = leaseInfo.Status == models.LeaseStatusConnected
	}

	report.TemplateRenders = TemplateRendersNonEmpty(auto.TemplateText, nil)

	var destCount int64
	s.db.Model(&models.Destination{}).
		Joins("JOIN automation_destinations ad ON ad.destination_id = destinations.id").
		Where("ad.automation_id = ? AND destinations.is_active = ?", auto.ID, true).
		Count(&destCount)
	report.ActiveDestinations = int(destCount)

	sid := auto.ID
	s.db.Model(&models.DispatchEntry{}).
		Where("schedule_id = ? AND status IN ?", sid, []string{
			models.DispatchStatusPending,
			models.DispatchStatusProcessing,
			models.DispatchStatusAwaitingApproval,
		}).Count(&report.QueuedCount)
	s.db.Model(&models.DispatchEntry{}).
		Where("schedule_id = ? AND status IN ?", sid, []string{
			models.DispatchStatusSent,
			models.DispatchStatusDelivered,
			models.DispatchStatusRead,
			models.DispatchStatusPlayed,
		}).Count(&report.SentCount)
	s.db.Model(&models.DispatchEntry{}).
		Where("schedule_id = ? AND status = ?", sid, models.DispatchStatusFailed).
		Count(&report.FailedCount)

	report.BlockingReasons = s.blockingReasons(&auto, report)
	return report, nil
}

func (s *DiagnosticsService) blockingReasons(auto *models.Automation, r *DiagnosticsReport) []string {
	reasons := []string{}

	if !auto.IsRunning() {
		reasons = append(reasons, fmt.Sprintf("automation state is %q, only active automations run", auto.State))
	}
	if !r.SessionConnected {
		reasons = append(reasons, "messaging session is not connected on this or any instance")
	}
	if !r.TemplateRenders {
		reasons = append(reasons, "message template renders empty")
	}
	if r.ActiveDestinations == 0 {
		reasons = append(reasons, "no active destinations bound")
	}

	var source models.FeedSource
	if err := s.db.First(&source, auto.SourceID).Error; err != nil {
		reasons = append(reasons, "feed source not found")
	} else {
		if !source.IsActive {
			reasons = append(reasons, fmt.Sprintf("feed source %q is disabled", source.Name))
		}
		if source.ConsecutiveFailures > 0 {
			reasons = append(reasons, fmt.Sprintf("feed source %q failing for %d consecutive fetches: %s",
				source.Name, source.ConsecutiveFailures, source.LastError))
		}
	}

	if auto.DeliveryMode == models.DeliveryModeBatched && len(auto.BatchWindows()) == 0 {
		reasons = append(reasons, "batched delivery configured without batch windows")
	}

	return reasons
}
