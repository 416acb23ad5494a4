// Package validate provides shared validation functions.
package validate

import (
	"fmt"
	"strings"
)

// MaxContentLength bounds a single message body.
const MaxContentLength = 10_000

// MessageContent validates a message body is non-blank after trimming
// whitespace and within the length bound. Blank sends are rejected before
// any optimistic placeholder is created.
func MessageContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("message cannot be empty")
	}
	if len(content) > MaxContentLength {
		return fmt.Errorf("message exceeds %d characters", MaxContentLength)
	}
	return nil
}

// ChatID validates a chat identifier.
func ChatID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("chat id is required")
	}
	if strings.ContainsAny(id, " \t\n") {
		return fmt.Errorf("chat id cannot contain whitespace")
	}
	return nil
}
