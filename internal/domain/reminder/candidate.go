// internal/domain/reminder/candidate.go
package reminder

import (
	"policy_reminder/internal/domain/customer"
	"time"
)

// Candidate is a policy item selected for notification within one run.
type Candidate struct {
	CustomerID     string
	CustomerName   string
	RecipientEmail string
	Section        customer.Section
	Index          int
	Label          string
	ExpiryDate     time.Time
}

// Ref returns the positional address of the candidate's item.
func (c Candidate) Ref() customer.ItemRef {
	return customer.ItemRef{CustomerID: c.CustomerID, Section: c.Section, Index: c.Index}
}

// UserBatch holds every candidate destined for one recipient's digest.
type UserBatch struct {
	RecipientEmail string
	Items          []Candidate
}

// Refs returns the item addresses of the batch in batch order.
func (b *UserBatch) Refs() []customer.ItemRef {
	refs := make([]customer.ItemRef, 0, len(b.Items))
	for _, it := range b.Items {
		refs = append(refs, it.Ref())
	}
	return refs
}

// GroupByRecipient partitions candidates into one batch per recipient.
// Batches appear in order of each email's first candidate, and items keep
// their relative order.
func GroupByRecipient(candidates []Candidate) []*UserBatch {
	byEmail := make(map[string]*UserBatch)
	var batches []*UserBatch
	for _, c := range candidates {
		b, ok := byEmail[c.RecipientEmail]
		if !ok {
			b = &UserBatch{RecipientEmail: c.RecipientEmail}
			byEmail[c.RecipientEmail] = b
			batches = append(batches, b)
		}
		b.Items = append(b.Items, c)
	}
	return batches
}

// ByEmail finds the batch for email, or nil.
func ByEmail(batches []*UserBatch, email string) *UserBatch {
	for _, b := range batches {
		if b.RecipientEmail == email {
			return b
		}
	}
	return nil
}
