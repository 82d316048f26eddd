package domain

import (
	"errors"
	"fmt"
)

// Scoring engine error taxonomy. Wrap with fmt.Errorf("%w: ...") and match
// with errors.Is.
var (
	// ErrUninitializedModel is returned when scoring is attempted before any
	// artifact has been trained or loaded.
	ErrUninitializedModel = errors.New("model not initialized")

	// ErrSchemaMismatch is returned when a record is missing a required
	// attribute or carries one of the wrong type.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrArtifactIO is returned when the artifact cannot be written or read.
	ErrArtifactIO = errors.New("artifact i/o failure")

	// ErrArtifactNotFound is an ErrArtifactIO for a missing artifact.
	ErrArtifactNotFound = fmt.Errorf("%w: artifact not found", ErrArtifactIO)

	// ErrTrainingData is returned when a training dataset is degenerate.
	ErrTrainingData = errors.New("invalid training data")
)

// FieldError describes a single attribute that failed schema checks.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: field %q %s", ErrSchemaMismatch, e.Field, e.Reason)
}

// Unwrap makes errors.Is(err, ErrSchemaMismatch) hold.
func (e *FieldError) Unwrap() error {
	return ErrSchemaMismatch
}
