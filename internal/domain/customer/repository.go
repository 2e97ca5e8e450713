package customer

import (
	"context"
	"errors"
	"time"
)

// ErrPolicyItemNotFound is returned when the customer or the addressed
// index no longer exists at write time.
var ErrPolicyItemNotFound = errors.New("policy item not found")

// Repository is the customer store as seen by the reminder job.
type Repository interface {
	// ListWithOwnerEmail returns every customer with OwnerEmail resolved,
	// in a stable store order.
	ListWithOwnerEmail(ctx context.Context) ([]*Customer, error)
	// MarkItemNotified sets reminderSent=true and reminderSentAt=at on the
	// single item addressed by ref, without rewriting the rest of the document.
	MarkItemNotified(ctx context.Context, ref ItemRef, at time.Time) error
	// MarkCustomerItemsNotified marks every ref of one customer in a single
	// write. It is all-or-nothing: when any addressed item is missing it
	// writes nothing and returns ErrPolicyItemNotFound.
	MarkCustomerItemsNotified(ctx context.Context, customerID string, refs []ItemRef, at time.Time) error
}
