package agent

import (
	"errors"
	"fmt"
)

// ErrMaxTurns marks a request that kept asking for tools past the cap.
var ErrMaxTurns = errors.New("maximum reasoning turns exceeded")

// ReasoningError reports a failed reasoning-step call. Recoverable: the
// loop surfaces it to the user and keeps the session alive.
type ReasoningError struct {
	Provider string
	Err      error
}

func (e *ReasoningError) Error() string {
	return fmt.Sprintf("reasoning step (%s) failed: %v", e.Provider, e.Err)
}

func (e *ReasoningError) Unwrap() error {
	return e.Err
}
