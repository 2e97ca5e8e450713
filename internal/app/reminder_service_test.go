package app

import (
	"context"
	"errors"
	"fmt"
	"policy_reminder/internal/domain/customer"
	"policy_reminder/internal/domain/mailer"
	"policy_reminder/internal/domain/reminder"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

// memoryCustomerRepo mimics the positional write semantics of the real stores.
type memoryCustomerRepo struct {
	mu          sync.Mutex
	customers   []*customer.Customer
	listErr     error
	panicOnMark bool
	groupCalls  int
	itemCalls   int
}

func (r *memoryCustomerRepo) ListWithOwnerEmail(_ context.Context) ([]*customer.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := make([]*customer.Customer, 0, len(r.customers))
	for _, c := range r.customers {
		cp := *c
		cp.HealthDetails = append([]customer.HealthPolicy(nil), c.HealthDetails...)
		cp.Vehicles = append([]customer.VehiclePolicy(nil), c.Vehicles...)
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memoryCustomerRepo) MarkItemNotified(_ context.Context, ref customer.ItemRef, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.itemCalls++
	return r.markLocked(ref, at)
}

func (r *memoryCustomerRepo) MarkCustomerItemsNotified(_ context.Context, customerID string, refs []customer.ItemRef, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groupCalls++
	if r.panicOnMark {
		panic("store driver crashed")
	}
	for _, ref := range refs {
		if ref.CustomerID != customerID || r.lookupLocked(ref) == nil {
			return fmt.Errorf("%w: %s", customer.ErrPolicyItemNotFound, ref)
		}
	}
	for _, ref := range refs {
		_ = r.markLocked(ref, at)
	}
	return nil
}

type itemFlags struct {
	sent *bool
	at   **time.Time
}

// lookupLocked returns the flag fields of the item addressed by ref.
func (r *memoryCustomerRepo) lookupLocked(ref customer.ItemRef) *itemFlags {
	for _, c := range r.customers {
		if c.CustomerID != ref.CustomerID {
			continue
		}
		switch ref.Section {
		case customer.SectionHealth:
			if ref.Index >= 0 && ref.Index < len(c.HealthDetails) {
				h := &c.HealthDetails[ref.Index]
				return &itemFlags{&h.ReminderSent, &h.ReminderSentAt}
			}
		case customer.SectionVehicle:
			if ref.Index >= 0 && ref.Index < len(c.Vehicles) {
				v := &c.Vehicles[ref.Index]
				return &itemFlags{&v.ReminderSent, &v.ReminderSentAt}
			}
		}
		return nil
	}
	return nil
}

func (r *memoryCustomerRepo) markLocked(ref customer.ItemRef, at time.Time) error {
	flags := r.lookupLocked(ref)
	if flags == nil {
		return fmt.Errorf("%w: %s", customer.ErrPolicyItemNotFound, ref)
	}
	*flags.sent = true
	*flags.at = &at
	return nil
}

func (r *memoryCustomerRepo) get(id string) *customer.Customer {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.customers {
		if c.CustomerID == id {
			return c
		}
	}
	return nil
}

type mockMailer struct {
	mock.Mock
}

func (m *mockMailer) SendExpiryDigest(ctx context.Context, to string, withinDays int, items []mailer.DigestItem) error {
	args := m.Called(ctx, to, withinDays, items)
	return args.Error(0)
}

type reminderServiceTestSuite struct {
	suite.Suite
	now     time.Time
	repo    *memoryCustomerRepo
	mail    *mockMailer
	logHook *logtest.Hook
	svc     *ReminderService
}

func (s *reminderServiceTestSuite) SetupTest() {
	s.now = time.Date(2026, time.October, 18, 9, 0, 0, 0, time.UTC)
	s.repo = &memoryCustomerRepo{}
	s.mail = &mockMailer{}

	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	s.logHook = hook

	s.svc = NewReminderService(s.repo, s.mail, log.WithField("component", "test"), reminder.DefaultWindow, 1)
	s.svc.now = func() time.Time { return s.now }
}

func (s *reminderServiceTestSuite) TearDownTest() {
	s.mail.AssertExpectations(s.T())
}

func (s *reminderServiceTestSuite) in(days int) *time.Time {
	t := s.now.Add(time.Duration(days) * 24 * time.Hour)
	return &t
}

func (s *reminderServiceTestSuite) TestEndToEndScenario() {
	ctx := context.Background()
	s.repo.customers = []*customer.Customer{
		{
			CustomerID:   "CUST-1",
			CustomerName: "Asha",
			OwnerEmail:   "a@x.com",
			Vehicles:     []customer.VehiclePolicy{{VehicleNo: "KA01", PolicyCompany: "ICICI", PolicyExpiry: s.in(10)}},
		},
		{
			CustomerID:    "CUST-2",
			CustomerName:  "Ravi",
			OwnerEmail:    "a@x.com",
			HealthDetails: []customer.HealthPolicy{{Product: "Family Floater", Expiry: s.in(200)}},
		},
	}

	expectedItems := []mailer.DigestItem{{CustomerName: "Asha", Label: "ICICI", Type: "vehicle", ExpiryDate: *s.in(10)}}
	s.mail.On("SendExpiryDigest", mock.Anything, "a@x.com", 30, expectedItems).Return(nil).Once()

	s.T().Log("one batch for a@x.com with exactly the CUST-1 vehicle item")
	{
		batches, err := s.svc.Scan(ctx, 30, 7)
		s.Require().NoError(err)
		s.Require().Len(batches, 1)
		s.Equal("a@x.com", batches[0].RecipientEmail)
		s.Equal([]customer.ItemRef{{CustomerID: "CUST-1", Section: customer.SectionVehicle, Index: 0}}, batches[0].Refs())
	}

	s.T().Log("run dispatches and marks only the CUST-1 vehicle")
	{
		report, err := s.svc.RunOnce(ctx)
		s.Require().NoError(err)
		s.Equal(1, report.Batches)
		s.Equal(1, report.BatchesSent)
		s.Equal(1, report.ItemsMarked)
		s.NotEmpty(report.RunID)

		cust1 := s.repo.get("CUST-1")
		s.True(cust1.Vehicles[0].ReminderSent)
		s.Require().NotNil(cust1.Vehicles[0].ReminderSentAt)
		s.Equal(s.now, *cust1.Vehicles[0].ReminderSentAt)

		cust2 := s.repo.get("CUST-2")
		s.False(cust2.HealthDetails[0].ReminderSent)
		s.Nil(cust2.HealthDetails[0].ReminderSentAt)
	}

	s.T().Log("a second run finds nothing left to notify")
	{
		report, err := s.svc.RunOnce(ctx)
		s.Require().NoError(err)
		s.Equal(0, report.Batches)
	}
}

func (s *reminderServiceTestSuite) TestScanGroupsCustomersOfSameOwner() {
	s.repo.customers = []*customer.Customer{
		{CustomerID: "CUST-1", OwnerEmail: "a@x.com", Vehicles: []customer.VehiclePolicy{{PolicyExpiry: s.in(5)}}},
		{CustomerID: "CUST-2", OwnerEmail: "a@x.com", HealthDetails: []customer.HealthPolicy{{Expiry: s.in(6)}}},
	}

	batches, err := s.svc.Scan(context.Background(), 30, 7)
	s.Require().NoError(err)
	s.Require().Len(batches, 1)
	s.Equal([]customer.ItemRef{
		{CustomerID: "CUST-1", Section: customer.SectionVehicle, Index: 0},
		{CustomerID: "CUST-2", Section: customer.SectionHealth, Index: 0},
	}, batches[0].Refs())
}

func (s *reminderServiceTestSuite) TestScanSkipsOwnerlessCustomers() {
	s.repo.customers = []*customer.Customer{
		{CustomerID: "CUST-ORPHAN", Vehicles: []customer.VehiclePolicy{{PolicyExpiry: s.in(5)}}},
	}

	batches, err := s.svc.Scan(context.Background(), 30, 7)
	s.Require().NoError(err)
	s.Empty(batches)

	var warned bool
	for _, e := range s.logHook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["customer_id"] == "CUST-ORPHAN" {
			warned = true
		}
	}
	s.True(warned, "ownerless customer must be logged")
}

func (s *reminderServiceTestSuite) TestScanRejectsNegativeWindow() {
	_, err := s.svc.Scan(context.Background(), -1, 7)
	s.ErrorIs(err, reminder.ErrInvalidWindow)
}

func (s *reminderServiceTestSuite) TestDispatchIsolation() {
	ctx := context.Background()
	s.repo.customers = []*customer.Customer{
		{CustomerID: "CUST-A", CustomerName: "A", OwnerEmail: "a@x.com", Vehicles: []customer.VehiclePolicy{{PolicyExpiry: s.in(3)}}},
		{CustomerID: "CUST-B", CustomerName: "B", OwnerEmail: "b@x.com", HealthDetails: []customer.HealthPolicy{{Expiry: s.in(4)}}},
	}
	s.mail.On("SendExpiryDigest", mock.Anything, "a@x.com", 30, mock.Anything).Return(errors.New("smtp down")).Once()
	s.mail.On("SendExpiryDigest", mock.Anything, "b@x.com", 30, mock.Anything).Return(nil).Once()

	report, err := s.svc.RunOnce(ctx)
	s.Require().NoError(err)
	s.Equal(2, report.Batches)
	s.Equal(1, report.BatchesFailed)
	s.Equal(1, report.BatchesSent)
	s.Equal(1, report.ItemsMarked)
	s.Equal(1, s.repo.groupCalls, "marker must only run for the successful batch")

	s.False(s.repo.get("CUST-A").Vehicles[0].ReminderSent)
	s.True(s.repo.get("CUST-B").HealthDetails[0].ReminderSent)
}

func (s *reminderServiceTestSuite) TestRunAbortsOnScanError() {
	s.repo.listErr = errors.New("connection refused")

	report, err := s.svc.RunOnce(context.Background())
	s.Require().Error(err)
	s.Require().NotNil(report)
	s.False(report.Succeeded())
	s.Equal(0, s.repo.groupCalls)
	s.mail.AssertNotCalled(s.T(), "SendExpiryDigest", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (s *reminderServiceTestSuite) TestDispatchEmptyBatchSendsNothing() {
	ok := s.svc.Dispatch(context.Background(), &reminder.UserBatch{RecipientEmail: "a@x.com"})
	s.True(ok)
	s.mail.AssertNotCalled(s.T(), "SendExpiryDigest", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (s *reminderServiceTestSuite) TestDispatchRecoversFromClientPanic() {
	s.mail.On("SendExpiryDigest", mock.Anything, "a@x.com", 30, mock.Anything).
		Run(func(mock.Arguments) { panic("boom") }).Once()

	ok := s.svc.Dispatch(context.Background(), &reminder.UserBatch{
		RecipientEmail: "a@x.com",
		Items:          []reminder.Candidate{{CustomerID: "CUST-1", Label: "x", ExpiryDate: s.now}},
	})
	s.False(ok)
}

func (s *reminderServiceTestSuite) TestMarkNotifiedIsIdempotent() {
	ctx := context.Background()
	s.repo.customers = []*customer.Customer{
		{CustomerID: "CUST-1", OwnerEmail: "a@x.com", HealthDetails: []customer.HealthPolicy{{Expiry: s.in(5)}}},
	}
	ref := customer.ItemRef{CustomerID: "CUST-1", Section: customer.SectionHealth, Index: 0}

	first := s.svc.MarkNotified(ctx, []customer.ItemRef{ref})
	s.Equal(MarkResult{Marked: 1}, first)

	s.now = s.now.Add(time.Hour)
	second := s.svc.MarkNotified(ctx, []customer.ItemRef{ref})
	s.Equal(MarkResult{Marked: 1}, second)

	item := s.repo.get("CUST-1").HealthDetails[0]
	s.True(item.ReminderSent)
	s.Require().NotNil(item.ReminderSentAt)
	s.Equal(s.now, *item.ReminderSentAt, "timestamp of the last call wins")
}

func (s *reminderServiceTestSuite) TestMarkNotifiedSkipsVanishedItems() {
	s.repo.customers = []*customer.Customer{
		{CustomerID: "CUST-1", OwnerEmail: "a@x.com", Vehicles: []customer.VehiclePolicy{{PolicyExpiry: s.in(5)}}},
	}

	res := s.svc.MarkNotified(context.Background(), []customer.ItemRef{
		{CustomerID: "CUST-1", Section: customer.SectionVehicle, Index: 3},
		{CustomerID: "CUST-GONE", Section: customer.SectionHealth, Index: 0},
		{CustomerID: "CUST-1", Section: customer.SectionVehicle, Index: 0},
	})
	s.Equal(MarkResult{Marked: 1, Skipped: 2}, res)
	s.Equal(3, s.repo.itemCalls, "failed grouped writes fall back to single items")
	s.True(s.repo.get("CUST-1").Vehicles[0].ReminderSent)
}

func (s *reminderServiceTestSuite) TestConcurrentDispatchMarksEveryBatch() {
	s.svc.concurrency = 4
	for i := 0; i < 8; i++ {
		email := fmt.Sprintf("agent%d@x.com", i)
		s.repo.customers = append(s.repo.customers, &customer.Customer{
			CustomerID: fmt.Sprintf("CUST-%d", i),
			OwnerEmail: email,
			Vehicles:   []customer.VehiclePolicy{{PolicyExpiry: s.in(2)}},
		})
		s.mail.On("SendExpiryDigest", mock.Anything, email, 30, mock.Anything).Return(nil).Once()
	}

	report, err := s.svc.RunOnce(context.Background())
	s.Require().NoError(err)
	s.Equal(8, report.BatchesSent)
	s.Equal(8, report.ItemsMarked)
}

func (s *reminderServiceTestSuite) TestMarkNotifiedWritesOncePerCustomer() {
	s.repo.customers = []*customer.Customer{
		{
			CustomerID:    "CUST-1",
			OwnerEmail:    "a@x.com",
			HealthDetails: []customer.HealthPolicy{{Expiry: s.in(5)}},
			Vehicles:      []customer.VehiclePolicy{{PolicyExpiry: s.in(4)}, {PolicyExpiry: s.in(6)}},
		},
		{CustomerID: "CUST-2", OwnerEmail: "a@x.com", Vehicles: []customer.VehiclePolicy{{PolicyExpiry: s.in(3)}}},
	}

	res := s.svc.MarkNotified(context.Background(), []customer.ItemRef{
		{CustomerID: "CUST-1", Section: customer.SectionHealth, Index: 0},
		{CustomerID: "CUST-2", Section: customer.SectionVehicle, Index: 0},
		{CustomerID: "CUST-1", Section: customer.SectionVehicle, Index: 1},
		{CustomerID: "CUST-1", Section: customer.SectionVehicle, Index: 0},
	})
	s.Equal(MarkResult{Marked: 4}, res)
	s.Equal(2, s.repo.groupCalls, "one write per customer")
	s.Zero(s.repo.itemCalls)
	s.True(s.repo.get("CUST-1").Vehicles[1].ReminderSent)
}

func (s *reminderServiceTestSuite) TestRunSurvivesPanicWhileMarking() {
	s.repo.customers = []*customer.Customer{
		{CustomerID: "CUST-1", OwnerEmail: "a@x.com", Vehicles: []customer.VehiclePolicy{{PolicyExpiry: s.in(5)}}},
		{CustomerID: "CUST-2", OwnerEmail: "b@x.com", Vehicles: []customer.VehiclePolicy{{PolicyExpiry: s.in(5)}}},
	}
	s.repo.panicOnMark = true
	s.mail.On("SendExpiryDigest", mock.Anything, mock.Anything, 30, mock.Anything).Return(nil).Twice()

	var report *reminder.RunReport
	s.Require().NotPanics(func() {
		var err error
		report, err = s.svc.RunOnce(context.Background())
		s.Require().NoError(err)
	})
	s.Equal(2, report.Batches)
	s.Equal(2, report.BatchesFailed)
	s.Zero(report.BatchesSent)
}

func TestReminderServiceTestSuite(t *testing.T) {
	suite.Run(t, new(reminderServiceTestSuite))
}
