package reminder

import (
	"errors"
	"time"
)

// ErrRunInProgress is returned when a run is requested while another one
// has not finished yet.
var ErrRunInProgress = errors.New("reminder run already in progress")

// RunReport summarises one scheduler run.
type RunReport struct {
	RunID         string
	StartedAt     time.Time
	FinishedAt    time.Time
	Batches       int
	BatchesSent   int
	BatchesFailed int
	ItemsMarked   int
	ItemsSkipped  int // items emailed but not marked
	Err           error
}

func (r *RunReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Succeeded is true when the run completed its scan; per-batch failures
// are counted separately.
func (r *RunReport) Succeeded() bool {
	return r.Err == nil
}
