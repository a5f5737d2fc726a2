package synth

import (
	"errors"
	"fmt"
)

// ExternalServiceError classifies a content generation failure. The
// engine retries only when Retryable is true (timeouts, rate limits,
// upstream 5xx); a structurally invalid response or a rejected brief
// fails the stage immediately.
type ExternalServiceError struct {
	Retryable bool
	Reason    string
	Err       error
}

func (e *ExternalServiceError) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "transient"
	}
	if e.Err != nil {
		return fmt.Sprintf("content service %s failure: %s: %v", kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("content service %s failure: %s", kind, e.Reason)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transient external failure
func IsRetryable(err error) bool {
	var ese *ExternalServiceError
	if errors.As(err, &ese) {
		return ese.Retryable
	}
	return false
}
