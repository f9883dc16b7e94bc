package assetstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Error types
var (
	// ErrNotFound indicates a stored object is missing.
	ErrNotFound = errors.New("object not found")

	// ErrNotSupported indicates an operation unavailable on the chosen backend.
	ErrNotSupported = errors.New("operation not supported by backend")

	// ErrNoStreamFound indicates probing found no matching media stream.
	ErrNoStreamFound = errors.New("no matching media stream found")

	// ErrProcessingFailed indicates a mandatory job exhausted its retry budget.
	ErrProcessingFailed = errors.New("processing failed")
)

// StorageError represents an error from a storage backend operation.
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// JobError represents a failed processing job for an asset.
type JobError struct {
	AssetID uuid.UUID
	JobType string
	Err     error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s job failed for asset %s: %v", e.JobType, e.AssetID, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// VariantFailure records one failed preset inside a variant-set job.
type VariantFailure struct {
	Preset string
	Err    error
}

// PartialVariantError reports a variant-set job that produced some but not
// all presets. It is non-fatal: successful presets are persisted and the
// asset's processing state is unaffected.
type PartialVariantError struct {
	Failures []VariantFailure
}

func (e *PartialVariantError) Error() string {
	names := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		names[i] = f.Preset
	}
	return fmt.Sprintf("variant generation failed for presets: %s", strings.Join(names, ", "))
}
