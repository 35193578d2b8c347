package root

import (
	"errors"
	"fmt"
)

// ErrUnknownRoot is returned when resolving an identifier that no live root
// matches. Recoverable: the caller retries with a valid identifier.
var ErrUnknownRoot = errors.New("root: unknown root")

// ErrCancelled is returned for operations against a root that has been
// removed from the registry.
var ErrCancelled = errors.New("root: root is cancelled")

// PoisonedError is the sticky failure for a poisoned root. Every mutating
// operation fails with it until the process restarts; read-only queries keep
// answering from last-good state.
type PoisonedError struct {
	State PoisonState
}

func (e *PoisonedError) Error() string {
	return fmt.Sprintf("root %s is poisoned: %s (code %d)", e.State.RootPath, e.State.Reason, e.State.Code)
}

// CrawlError reports a failed re-enumeration. Recoverable: the caller may
// schedule another recrawl.
type CrawlError struct {
	Reason string
	Err    error
}

func (e *CrawlError) Error() string {
	return fmt.Sprintf("crawl (%s) failed: %v", e.Reason, e.Err)
}

func (e *CrawlError) Unwrap() error {
	return e.Err
}
