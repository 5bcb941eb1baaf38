package retention

import (
	"errors"
	"fmt"
)

// ValidationError is an invalid policy input. It is returned synchronously to
// the caller and never reaches the scheduler.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
