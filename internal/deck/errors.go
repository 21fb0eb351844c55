package deck

import "fmt"

// WriteError indicates a bundle artifact could not be written.
type WriteError struct {
	Path  string
	Cause error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("deck: writing %s: %v", e.Path, e.Cause)
}

func (e *WriteError) Unwrap() error {
	return e.Cause
}

// EmptySetError indicates a bundle was requested for a set with no cards.
type EmptySetError struct {
	Name string
}

func (e *EmptySetError) Error() string {
	return fmt.Sprintf("deck: card set %q has no cards to package", e.Name)
}
