// internal/app/reminder_service.go
package app

import (
	"context"
	"errors"
	"fmt"
	"policy_reminder/internal/domain/customer"
	"policy_reminder/internal/domain/mailer"
	"policy_reminder/internal/domain/reminder"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// MarkResult counts the outcome of one marking pass.
type MarkResult struct {
	Marked  int
	Skipped int
}

// ReminderService runs the policy-expiry reminder pipeline:
// scan customers, dispatch one digest per agent, mark notified items.
type ReminderService struct {
	customerRepo customer.Repository
	mailClient   mailer.Client
	logger       *logrus.Entry
	window       reminder.Window
	concurrency  int
	now          func() time.Time
}

func NewReminderService(
	cr customer.Repository,
	mc mailer.Client,
	logger *logrus.Entry,
	window reminder.Window,
	concurrency int,
) *ReminderService {
	if concurrency < 1 {
		concurrency = 1
	}
	return &ReminderService{
		customerRepo: cr,
		mailClient:   mc,
		logger:       logger,
		window:       window,
		concurrency:  concurrency,
		now:          time.Now,
	}
}

// Scan reads every customer and returns the candidates grouped per
// recipient email. It has no side effects.
func (s *ReminderService) Scan(ctx context.Context, withinDays, cooldownDays int) ([]*reminder.UserBatch, error) {
	w := reminder.Window{WithinDays: withinDays, CooldownDays: cooldownDays}
	if err := w.Validate(); err != nil {
		return nil, err
	}

	customers, err := s.customerRepo.ListWithOwnerEmail(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}

	candidates, ownerless := reminder.CollectCandidates(customers, s.now(), w)
	for _, id := range ownerless {
		s.logger.WithField("customer_id", id).Warn("Customer owner has no resolvable email, skipping")
	}

	batches := reminder.GroupByRecipient(candidates)
	s.logger.WithFields(logrus.Fields{
		"customers":  len(customers),
		"candidates": len(candidates),
		"batches":    len(batches),
	}).Info("Scan finished")
	return batches, nil
}

// Dispatch sends the batch digest once. It never returns an error: any
// provider failure is logged and reported as false.
func (s *ReminderService) Dispatch(ctx context.Context, batch *reminder.UserBatch) bool {
	if batch == nil || len(batch.Items) == 0 {
		return true
	}

	items := make([]mailer.DigestItem, 0, len(batch.Items))
	for _, it := range batch.Items {
		items = append(items, mailer.DigestItem{
			CustomerName: it.CustomerName,
			Label:        it.Label,
			Type:         string(it.Section),
			ExpiryDate:   it.ExpiryDate,
		})
	}

	logCtx := s.logger.WithFields(logrus.Fields{
		"recipient": batch.RecipientEmail,
		"items":     len(items),
	})
	if err := s.sendDigest(ctx, batch.RecipientEmail, items); err != nil {
		logCtx.WithError(err).Error("Failed to send expiry digest")
		return false
	}
	logCtx.Info("Expiry digest sent")
	return true
}

func (s *ReminderService) sendDigest(ctx context.Context, to string, items []mailer.DigestItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("email client panicked: %v", r)
		}
	}()
	return s.mailClient.SendExpiryDigest(ctx, to, s.window.WithinDays, items)
}

// MarkNotified flags every referenced item as notified using one timestamp
// for the whole pass. Each customer's items are written together; when that
// write fails the items are retried one by one so only the broken ones are
// skipped.
func (s *ReminderService) MarkNotified(ctx context.Context, refs []customer.ItemRef) MarkResult {
	var res MarkResult
	if len(refs) == 0 {
		return res
	}

	var order []string
	byCustomer := make(map[string][]customer.ItemRef)
	for _, ref := range refs {
		if _, ok := byCustomer[ref.CustomerID]; !ok {
			order = append(order, ref.CustomerID)
		}
		byCustomer[ref.CustomerID] = append(byCustomer[ref.CustomerID], ref)
	}

	now := s.now()
	for _, customerID := range order {
		group := byCustomer[customerID]
		err := s.customerRepo.MarkCustomerItemsNotified(ctx, customerID, group, now)
		if err == nil {
			res.Marked += len(group)
			continue
		}
		s.logger.WithField("customer_id", customerID).WithError(err).
			Debug("Grouped mark failed, marking items one by one")

		for _, ref := range group {
			err := s.customerRepo.MarkItemNotified(ctx, ref, now)
			if err == nil {
				res.Marked++
				continue
			}
			res.Skipped++
			logCtx := s.logger.WithField("item", ref.String()).WithError(err)
			if errors.Is(err, customer.ErrPolicyItemNotFound) {
				logCtx.Warn("Policy item vanished before it could be marked")
			} else {
				logCtx.Error("Failed to mark policy item as notified")
			}
		}
	}
	return res
}

// RunOnce executes one full pipeline pass. A scan failure aborts the run
// before anything is sent; batch and item failures are isolated.
func (s *ReminderService) RunOnce(ctx context.Context) (*reminder.RunReport, error) {
	report := &reminder.RunReport{
		RunID:     uuid.NewString(),
		StartedAt: s.now(),
	}
	runLogger := s.logger.WithField("run_id", report.RunID)
	runLogger.WithFields(logrus.Fields{
		"within_days":   s.window.WithinDays,
		"cooldown_days": s.window.CooldownDays,
	}).Info("Expiry reminder run started")

	batches, err := s.Scan(ctx, s.window.WithinDays, s.window.CooldownDays)
	if err != nil {
		report.Err = err
		report.FinishedAt = s.now()
		runLogger.WithError(err).Error("Expiry reminder run aborted during scan")
		return report, err
	}
	report.Batches = len(batches)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, batch := range batches {
		batch := batch
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					runLogger.WithField("recipient", batch.RecipientEmail).
						Errorf("Expiry digest batch panicked: %v", r)
					mu.Lock()
					report.BatchesFailed++
					mu.Unlock()
				}
			}()
			if !s.Dispatch(gctx, batch) {
				mu.Lock()
				report.BatchesFailed++
				mu.Unlock()
				return nil
			}
			res := s.MarkNotified(gctx, batch.Refs())
			mu.Lock()
			report.BatchesSent++
			report.ItemsMarked += res.Marked
			report.ItemsSkipped += res.Skipped
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // workers never return errors

	report.FinishedAt = s.now()
	runLogger.WithFields(logrus.Fields{
		"batches":        report.Batches,
		"batches_sent":   report.BatchesSent,
		"batches_failed": report.BatchesFailed,
		"items_marked":   report.ItemsMarked,
		"items_skipped":  report.ItemsSkipped,
		"duration":       report.Duration().String(),
	}).Info("Expiry reminder run finished")
	return report, nil
}
