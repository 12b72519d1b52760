package session

import "fmt"

// ValidationError reports bad or missing input. Nothing was mutated.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %v", e.Err)
	}
	return fmt.Sprintf("validation failed on %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// StateError reports an operation that is invalid for the current state,
// such as classifying with no pending entry. Nothing was mutated.
type StateError struct {
	Op     string
	Window int
	Err    error
}

func (e *StateError) Error() string {
	if e.Window < 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s on window %d: %v", e.Op, e.Window, e.Err)
}

func (e *StateError) Unwrap() error { return e.Err }
