package dispute

import (
	stderrors "errors"
	"strings"

	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeValidation         = "VALIDATION_FAILED"
	ErrCodeTransientExternal  = "TRANSIENT_EXTERNAL"
	ErrCodeSecurityViolation  = "SECURITY_VIOLATION"
	ErrCodePreconditionFailed = "PRECONDITION_FAILED"
	ErrCodeNotFound           = "RUN_NOT_FOUND"
	ErrCodePersistence        = "PERSISTENCE_FAILED"
	ErrCodeVersionConflict    = "VERSION_CONFLICT"
	ErrCodeStepPanic          = "STEP_PANIC"
)

var (
	// ErrValidation marks input or case data that can never succeed. Not retried.
	ErrValidation = apperrors.New("validation error", apperrors.CategoryValidation).
			WithTextCode(ErrCodeValidation)
	// ErrTransientExternal marks a collaborator failure (timeout, unavailable, bad response).
	ErrTransientExternal = apperrors.New("external call failed", apperrors.CategoryExternal).
				WithTextCode(ErrCodeTransientExternal)
	// ErrSecurityViolation is raised when money would move without an approved review.
	ErrSecurityViolation = apperrors.New("security violation", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeSecurityViolation)
	ErrPreconditionFailed = apperrors.New("precondition failed", apperrors.CategoryBadInput).
				WithTextCode(ErrCodePreconditionFailed)
	ErrNotFound = apperrors.New("run not found", apperrors.CategoryBadInput).
			WithTextCode(ErrCodeNotFound)
	ErrPersistence = apperrors.New("persistence failed", apperrors.CategoryExternal).
			WithTextCode(ErrCodePersistence)
	ErrVersionConflict = apperrors.New("version conflict", apperrors.CategoryConflict).
				WithTextCode(ErrCodeVersionConflict)
	// ErrStepPanic wraps a panic recovered from a step executor.
	ErrStepPanic = apperrors.New("step panicked", apperrors.CategoryHandler).
			WithTextCode(ErrCodeStepPanic)
)

// NewError clones base with an occurrence specific message, source and metadata.
func NewError(base *apperrors.Error, message string, source error, metadata map[string]any) *apperrors.Error {
	if base == nil {
		base = ErrPreconditionFailed
	}
	err := base.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// ErrorCode returns the text code of the first go-errors error in the chain.
func ErrorCode(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

// HasCode reports whether err carries the given text code.
func HasCode(err error, code string) bool {
	return err != nil && ErrorCode(err) == code
}

// Persistence wraps a store failure, keeping typed store errors intact.
func Persistence(message string, err error) error {
	if err == nil {
		return nil
	}
	if code := ErrorCode(err); code != "" {
		return err
	}
	return NewError(ErrPersistence, message, err, nil)
}
