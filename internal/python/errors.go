package python

import (
	"errors"
	"fmt"
)

var ErrFatalAssumption = errors.New("image layout assumption violated")

// FatalAssumptionError is returned when an image does not have the layout
// every supported manylinux image is known to have. It is not recoverable.
type FatalAssumptionError struct {
	Path       string
	Assumption string
	Err        error
}

func (e *FatalAssumptionError) Error() string {
	msg := fmt.Sprintf("%v: %s: %s", ErrFatalAssumption, e.Path, e.Assumption)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FatalAssumptionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrFatalAssumption}
	}
	return []error{ErrFatalAssumption, e.Err}
}
