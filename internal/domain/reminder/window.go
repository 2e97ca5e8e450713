// internal/domain/reminder/window.go
package reminder

import (
	"errors"
	"fmt"
	"policy_reminder/internal/domain/customer"
	"time"
)

const day = 24 * time.Hour

var ErrInvalidWindow = errors.New("reminder window days must be non-negative")

// Window bundles the lookahead and cooldown settings of a scan.
type Window struct {
	WithinDays   int
	CooldownDays int
}

// DefaultWindow matches the conventional production settings.
var DefaultWindow = Window{WithinDays: 30, CooldownDays: 7}

func (w Window) Validate() error {
	if w.WithinDays < 0 || w.CooldownDays < 0 {
		return fmt.Errorf("%w (within=%d, cooldown=%d)", ErrInvalidWindow, w.WithinDays, w.CooldownDays)
	}
	return nil
}

// IsExpiringWithin reports whether expiry lies in (now, now+days].
// Already lapsed policies are not expiring.
func IsExpiringWithin(expiry *time.Time, now time.Time, days int) bool {
	if expiry == nil {
		return false
	}
	end := now.Add(time.Duration(days) * day)
	return expiry.After(now) && !expiry.After(end)
}

// RecentlyNotified reports whether sentAt is less than days old.
func RecentlyNotified(sentAt *time.Time, now time.Time, days int) bool {
	if sentAt == nil {
		return false
	}
	return now.Sub(*sentAt) < time.Duration(days)*day
}

func isCandidate(expiry *time.Time, sent bool, sentAt *time.Time, now time.Time, w Window) bool {
	return IsExpiringWithin(expiry, now, w.WithinDays) && !sent && !RecentlyNotified(sentAt, now, w.CooldownDays)
}

// CollectCandidates flattens every qualifying policy item of customers into
// candidates in customer, then section (health before vehicle), then index
// order. Customers without an owner email are returned separately.
func CollectCandidates(customers []*customer.Customer, now time.Time, w Window) (candidates []Candidate, ownerless []string) {
	for _, c := range customers {
		if c == nil {
			continue
		}
		if c.OwnerEmail == "" {
			ownerless = append(ownerless, c.CustomerID)
			continue
		}

		for idx, h := range c.HealthDetails {
			if !isCandidate(h.Expiry, h.ReminderSent, h.ReminderSentAt, now, w) {
				continue
			}
			candidates = append(candidates, Candidate{
				CustomerID:     c.CustomerID,
				CustomerName:   c.CustomerName,
				RecipientEmail: c.OwnerEmail,
				Section:        customer.SectionHealth,
				Index:          idx,
				Label:          h.Label(),
				ExpiryDate:     *h.Expiry,
			})
		}

		for idx, v := range c.Vehicles {
			if !isCandidate(v.PolicyExpiry, v.ReminderSent, v.ReminderSentAt, now, w) {
				continue
			}
			candidates = append(candidates, Candidate{
				CustomerID:     c.CustomerID,
				CustomerName:   c.CustomerName,
				RecipientEmail: c.OwnerEmail,
				Section:        customer.SectionVehicle,
				Index:          idx,
				Label:          v.Label(),
				ExpiryDate:     *v.PolicyExpiry,
			})
		}
	}
	return candidates, ownerless
}
