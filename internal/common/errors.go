package common

import (
	"errors"
	"fmt"
)

// ErrProtocolViolation is returned whenever a peer observes a message or a
// queue operation that cannot happen in a correct run. It is never retried.
var ErrProtocolViolation = errors.New("protocol violation")

// Violationf builds an error wrapping [ErrProtocolViolation].
func Violationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocolViolation, fmt.Sprintf(format, args...))
}
