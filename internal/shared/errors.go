package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrPrecondition indicates a business precondition was violated.
	// Engines wrap it with a description of the violated rule.
	ErrPrecondition = errors.New("precondition violated")
	// ErrConflict indicates a concurrent mutation was detected.
	ErrConflict = errors.New("concurrent modification detected")
)

// UserSafeMessage maps an error to a message suitable for end users.
// Known sentinel chains keep their descriptive text; anything else is
// returned as-is because engine errors already carry a reason string.
func UserSafeMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
