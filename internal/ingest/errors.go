package ingest

import (
	"errors"
	"fmt"
)

// AuthError indicates that connecting to or authenticating against the
// mailbox failed. It is fatal for the run: no message has been touched
// yet and the scan does not start.
type AuthError struct {
	Mailbox string
	Err     error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("mailbox auth error (%s): %v", e.Mailbox, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
