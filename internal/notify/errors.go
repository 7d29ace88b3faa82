package notify

import "fmt"

// PermanentError indicates a delivery failure that retrying cannot fix
// (bad target, revoked webhook).
type PermanentError struct {
	Code    int
	Message string
}

func (e *PermanentError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("permanent delivery error (%d): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("permanent delivery error: %s", e.Message)
}

// RetryableError indicates a transient delivery failure. Retry policy, if
// any, belongs to the channel implementation, not this engine.
type RetryableError struct {
	Code    int
	Message string
}

func (e *RetryableError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("transient delivery error (%d): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("transient delivery error: %s", e.Message)
}
