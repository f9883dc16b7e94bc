package assetstore

import (
	"time"

	"github.com/google/uuid"
)

// Backend identifiers. A StoredObject records which backend wrote it; the
// facade itself keeps no placement history.
const (
	BackendRemote = "remote"
	BackendLocal  = "local"
	BackendMemory = "memory"
)

// ProcessingState is the lifecycle state of an asset's background processing.
type ProcessingState string

// Processing state constants (typed).
const (
	ProcessingStatePending    ProcessingState = "pending"
	ProcessingStateProcessing ProcessingState = "processing"
	ProcessingStateCompleted  ProcessingState = "completed"
	ProcessingStateFailed     ProcessingState = "failed"
)

// Terminal reports whether no further transition is defined for the state.
func (s ProcessingState) Terminal() bool {
	return s == ProcessingStateCompleted || s == ProcessingStateFailed
}

// StoredObject describes an object written by a storage backend. Objects are
// immutable after creation: backends only create, read and delete them.
type StoredObject struct {
	Key         string    `json:"key"`
	Backend     string    `json:"backend"`
	SizeBytes   int64     `json:"size_bytes"`
	Checksum    string    `json:"checksum,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ObjectMeta contains backend-reported metadata about a stored object.
// Only the remote backend supports rich metadata lookups.
type ObjectMeta struct {
	Key         string            `json:"key"`
	SizeBytes   int64             `json:"size_bytes"`
	ContentType string            `json:"content_type,omitempty"`
	ETag        string            `json:"etag,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// AssetVariant is a derived rendition of an asset (thumbnail, resized
// preview, alternate quality tier) distinct from the original upload.
// Variants are created only by the processing pipeline.
type AssetVariant struct {
	AssetID     uuid.UUID `json:"asset_id"`
	VariantType string    `json:"variant_type"`
	FileKey     string    `json:"file_key"`
	Backend     string    `json:"backend"`
	Width       int       `json:"width,omitempty"`
	Height      int       `json:"height,omitempty"`
	SizeBytes   int64     `json:"size_bytes"`
	Format      string    `json:"format"`
	Quality     int       `json:"quality,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// PutOptions carries optional attributes for a backend write.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// PresignOptions controls retrieval URL generation.
type PresignOptions struct {
	// ExpiresIn bounds the URL's validity. Zero means the backend default.
	ExpiresIn time.Duration

	// ForceDownload asks the browser to download rather than display inline.
	ForceDownload bool

	// DownloadFilename overrides the filename the browser saves as.
	DownloadFilename string

	// PublicAccess routes local-backend URLs through the unauthenticated
	// public endpoint. Remote presigned URLs are capability-bearing either way.
	PublicAccess bool
}
