package telegram

import (
	"context"
	"errors"
	"fmt"
	"policy_reminder/internal/app"
	"policy_reminder/internal/domain/reminder"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const defaultRunTimeout = 10 * time.Minute

const notAllowedMessage = "Error: you are not allowed to run this command."

// RegisterAdminHandlers registers the operator commands of the reminder bot.
// Manual runs are bounded by runTimeout.
func RegisterAdminHandlers(ctx context.Context, b *telebot.Bot, adminService *app.AdminService, runTimeout time.Duration, baseLogger *logrus.Entry) {
	b.Handle("/run_reminders", runRemindersHandler(ctx, adminService, runTimeout, baseLogger))
	b.Handle("/reminder_status", reminderStatusHandler(adminService, baseLogger))
}

// runRemindersHandler starts a manual run. The run summary reaches the admin
// chat through AdminService.NotifyRunSummary once the run finishes, so the
// handler itself only answers when no run took place.
func runRemindersHandler(ctx context.Context, adminService *app.AdminService, runTimeout time.Duration, baseLogger *logrus.Entry) telebot.HandlerFunc {
	if runTimeout <= 0 {
		runTimeout = defaultRunTimeout
	}
	return func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/run_reminders",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		if !adminService.IsAdmin(c.Sender().ID) {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send(notAllowedMessage)
		}

		if err := c.Send("Starting expiry reminder run, the summary will follow..."); err != nil {
			handlerLogger.WithError(err).Warn("Failed to acknowledge command")
		}

		runCtx, cancel := context.WithTimeout(ctx, runTimeout)
		defer cancel()
		report, err := adminService.RunNow(runCtx, c.Sender().ID)
		if err != nil {
			logWithError := handlerLogger.WithError(err)
			switch {
			case errors.Is(err, app.ErrAdminNotAuthorized):
				logWithError.Warn("Admin not authorized (service level)")
				return c.Send(notAllowedMessage)
			case errors.Is(err, reminder.ErrRunInProgress):
				logWithError.Info("Run already in progress")
				return c.Send("A reminder run is already in progress. Try again later.")
			case report != nil:
				logWithError.WithField("run_id", report.RunID).Error("Manual reminder run failed")
				return nil
			default:
				logWithError.Error("Manual reminder run failed")
				return c.Send(fmt.Sprintf("Reminder run failed: %s", err.Error()))
			}
		}

		handlerLogger.WithField("run_id", report.RunID).Info("Manual reminder run finished")
		return nil
	}
}

func reminderStatusHandler(adminService *app.AdminService, baseLogger *logrus.Entry) telebot.HandlerFunc {
	return func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/reminder_status",
			"sender_id": c.Sender().ID,
		})

		report, err := adminService.LastRun(c.Sender().ID)
		if err != nil {
			switch {
			case errors.Is(err, app.ErrAdminNotAuthorized):
				handlerLogger.Warn("Unauthorized access attempt")
				return c.Send(notAllowedMessage)
			case errors.Is(err, app.ErrNoRunYet):
				return c.Send("No reminder run has finished since startup.")
			default:
				handlerLogger.WithError(err).Error("Failed to read last run")
				return c.Send(fmt.Sprintf("Could not read reminder status: %s", err.Error()))
			}
		}
		return c.Send(app.FormatRunSummary(report))
	}
}
