// Package calendar talks to the user's remote calendar. The engine receives
// the Client capability and never constructs a concrete provider itself.
package calendar

import (
	"context"
	"fmt"
	"time"

	"example.com/wellness/internal/domain"
)

// Event is the provider-independent payload for a calendar mutation.
type Event struct {
	Title       string
	Description string
	Start       time.Time
	End         time.Time
}

// Client exposes the four remote calendar operations the engine needs.
// Create accepts a caller-supplied idempotency key so a retried create can be
// recognised instead of double-booking.
type Client interface {
	Create(ctx context.Context, event Event, idempotencyKey string) (string, error)
	Update(ctx context.Context, remoteEventID string, start, end time.Time) error
	Delete(ctx context.Context, remoteEventID string) error
	ListFreeBusy(ctx context.Context, from, to time.Time) ([]domain.BusyInterval, error)
}

// RemoteError carries the HTTP status of a failed provider call so the retry
// layer can distinguish transient from permanent failures. Status 0 means the
// request never reached the provider.
type RemoteError struct {
	Op     string
	Status int
	Detail string
}

func (e *RemoteError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("calendar %s: %s", e.Op, e.Detail)
	}
	return fmt.Sprintf("calendar %s: status %d: %s", e.Op, e.Status, e.Detail)
}

// Temporary reports whether retrying the same call could succeed.
func (e *RemoteError) Temporary() bool {
	return e.Status == 0 || e.Status == 429 || e.Status >= 500
}
