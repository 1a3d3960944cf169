package domain

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound        = errors.New("job not found")
	ErrForbidden          = errors.New("not authorized")
	ErrValidation         = errors.New("invalid input")
	ErrUnsupportedBackend = errors.New("unsupported backend")
	ErrTemporary          = errors.New("temporary failure")
	ErrVendor             = errors.New("vendor reported failure")
	ErrInternal           = errors.New("internal error")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// ClassifyJobError folds an execution failure into the structured error
// stored on a failed job.
func ClassifyJobError(err error) *JobError {
	if err == nil {
		return nil
	}
	kind := "internal"
	switch {
	case errors.Is(err, ErrVendor):
		kind = "vendor"
	case errors.Is(err, ErrTemporary):
		kind = "transient"
	case errors.Is(err, ErrValidation):
		kind = "validation"
	case errors.Is(err, ErrUnsupportedBackend):
		kind = "unsupported_backend"
	}
	return &JobError{Kind: kind, Message: err.Error()}
}
