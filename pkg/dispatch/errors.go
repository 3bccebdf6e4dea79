package dispatch

import (
	"fmt"
	"strings"
)

// ConfigError reports a missing or invalid step parameter. It is raised before
// any outbound call and is never retried.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}

func configError(field, message string) error {
	return &ConfigError{Field: field, Message: message}
}

// DispatchError reports a failed outbound call: a non-2xx response, a network
// failure or a timeout. The remote side effect may or may not have happened.
type DispatchError struct {
	Action     string
	StatusCode int    // 0 when no response was received
	Body       string // response body of a non-2xx reply
	Err        error
}

func (e *DispatchError) Error() string {
	if e.StatusCode != 0 {
		body := strings.TrimSpace(e.Body)
		if body == "" {
			return fmt.Sprintf("%s failed with status %d", e.Action, e.StatusCode)
		}
		return fmt.Sprintf("%s failed with status %d: %s", e.Action, e.StatusCode, body)
	}
	return fmt.Sprintf("%s failed: %v", e.Action, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
