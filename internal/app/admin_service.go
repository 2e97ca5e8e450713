package app

import (
	"context"
	"fmt"
	"policy_reminder/internal/domain/reminder"
	"policy_reminder/internal/domain/telegram"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Custom application-level errors for admin service
var ErrAdminNotAuthorized = fmt.Errorf("performing user is not authorized as an admin")
var ErrNoRunYet = fmt.Errorf("no reminder run has finished yet")

// ReminderRunner is implemented by anything able to execute one reminder run.
type ReminderRunner interface {
	RunOnce(ctx context.Context) (*reminder.RunReport, error)
}

// ReminderScanner previews candidates without sending or marking anything.
type ReminderScanner interface {
	Scan(ctx context.Context, withinDays, cooldownDays int) ([]*reminder.UserBatch, error)
}

// ReminderTrigger is the guarded entry point into the scheduler used by
// operator surfaces.
type ReminderTrigger interface {
	RunNow(ctx context.Context) (*reminder.RunReport, error)
	LastReport() *reminder.RunReport
}

type AdminService struct {
	trigger         ReminderTrigger
	telegramClient  telegram.Client // optional
	adminTelegramID int64
	logger          *logrus.Entry
}

func NewAdminService(trigger ReminderTrigger, tc telegram.Client, adminID int64, logger *logrus.Entry) *AdminService {
	return &AdminService{
		trigger:         trigger,
		telegramClient:  tc,
		adminTelegramID: adminID,
		logger:          logger,
	}
}

// IsAdmin reports whether the Telegram user is the configured admin.
func (s *AdminService) IsAdmin(telegramID int64) bool {
	return s.adminTelegramID != 0 && telegramID == s.adminTelegramID
}

// RunNow triggers an immediate reminder run on behalf of the admin.
func (s *AdminService) RunNow(ctx context.Context, performingAdminID int64) (*reminder.RunReport, error) {
	if !s.IsAdmin(performingAdminID) {
		return nil, ErrAdminNotAuthorized
	}
	report, err := s.trigger.RunNow(ctx)
	if err != nil {
		return report, fmt.Errorf("manual reminder run failed: %w", err)
	}
	return report, nil
}

// LastRun returns the report of the most recently finished run.
func (s *AdminService) LastRun(performingAdminID int64) (*reminder.RunReport, error) {
	if !s.IsAdmin(performingAdminID) {
		return nil, ErrAdminNotAuthorized
	}
	report := s.trigger.LastReport()
	if report == nil {
		return nil, ErrNoRunYet
	}
	return report, nil
}

// NotifyRunSummary posts the run summary to the admin chat. It is a no-op
// when no bot or admin is configured.
func (s *AdminService) NotifyRunSummary(report *reminder.RunReport) {
	if s.telegramClient == nil || s.adminTelegramID == 0 || report == nil {
		return
	}
	if err := s.telegramClient.SendMessage(s.adminTelegramID, FormatRunSummary(report)); err != nil {
		s.logger.WithError(err).WithField("run_id", report.RunID).Error("Failed to send run summary to admin")
	}
}

// FormatRunSummary renders a report as a short human readable message.
func FormatRunSummary(report *reminder.RunReport) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Expiry reminder run %s\n", report.RunID))
	b.WriteString(fmt.Sprintf("Started: %s\n", report.StartedAt.Format("2006-01-02 15:04:05 MST")))
	if !report.Succeeded() {
		b.WriteString(fmt.Sprintf("Status: FAILED (%v)\n", report.Err))
		return b.String()
	}
	b.WriteString(fmt.Sprintf("Duration: %s\n", report.Duration().Round(time.Millisecond)))
	b.WriteString(fmt.Sprintf("Digests: %d sent, %d failed (of %d)\n", report.BatchesSent, report.BatchesFailed, report.Batches))
	b.WriteString(fmt.Sprintf("Items marked: %d", report.ItemsMarked))
	if report.ItemsSkipped > 0 {
		b.WriteString(fmt.Sprintf(", not marked: %d", report.ItemsSkipped))
	}
	return b.String()
}
