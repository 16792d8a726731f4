// Package watch turns filesystem change notifications into targeted
// scheduler runs. Bindings map file patterns to the tasks they invalidate;
// the Router debounces events, unions the affected task names and runs just
// that slice of the graph while a session is live.
package watch

import (
	"fmt"
	"time"
)

// Kind classifies a change.
type Kind string

const (
	Created  Kind = "created"
	Modified Kind = "modified"
	Deleted  Kind = "deleted"
)

// Event is a single filesystem change.
type Event struct {
	Path string
	Kind Kind
	Time time.Time
}

// Source produces change events. Implementations close both channels when
// closed.
type Source interface {
	Events() <-chan Event
	Errors() <-chan error
	Close() error
}

// SubscriptionError reports that change notifications could not be
// established or were lost. The session cannot continue without them.
type SubscriptionError struct {
	Root string
	Err  error
}

func (e *SubscriptionError) Error() string {
	if e.Root == "" {
		return fmt.Sprintf("watch: subscription failed: %v", e.Err)
	}
	return fmt.Sprintf("watch: subscribe %s: %v", e.Root, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }
