package mailer

import (
	"context"
	"time"
)

// DigestItem is one line of an expiry digest email.
type DigestItem struct {
	CustomerName string
	Label        string
	Type         string // "health" or "vehicle"
	ExpiryDate   time.Time
}

// Client defines an interface for delivering expiry digests.
// This keeps the reminder pipeline independent of the email provider.
type Client interface {
	SendExpiryDigest(ctx context.Context, to string, withinDays int, items []DigestItem) error
}
