// Package assetrepo persists asset processing state, extracted metadata and
// the variant catalog. The original bytes live in a storage backend; this
// package only tracks what the processing pipeline learned about them.
package assetrepo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mediaforge/assetstore/pkg/assetstore"
	"github.com/mediaforge/assetstore/pkg/assetstore/media"
)

var (
	ErrAssetNotFound   = errors.New("asset not found")
	ErrVariantNotFound = errors.New("variant not found")
)

// Asset is the persisted record for one uploaded file.
type Asset struct {
	ID          uuid.UUID                  `json:"id"`
	FileKey     string                     `json:"fileKey"`
	Backend     string                     `json:"backend"`
	Filename    string                     `json:"filename"`
	ContentType string                     `json:"contentType,omitempty"`
	SizeBytes   int64                      `json:"sizeBytes"`
	Checksum    string                     `json:"checksum"`
	State       assetstore.ProcessingState `json:"state"`
	// FailureReason is set when State is failed and cleared otherwise.
	FailureReason string          `json:"failureReason,omitempty"`
	Metadata      *media.Metadata `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Store persists assets and their variants.
type Store interface {
	CreateAsset(ctx context.Context, asset *Asset) error
	GetAsset(ctx context.Context, id uuid.UUID) (*Asset, error)
	ListAssets(ctx context.Context, limit, offset int) ([]*Asset, error)
	DeleteAsset(ctx context.Context, id uuid.UUID) error

	// UpdateProcessingState records a state transition. reason is stored
	// only for the failed state.
	UpdateProcessingState(ctx context.Context, id uuid.UUID, state assetstore.ProcessingState, reason string) error

	SaveMetadata(ctx context.Context, id uuid.UUID, meta *media.Metadata) error

	CreateVariant(ctx context.Context, v *assetstore.AssetVariant) error
	ListVariants(ctx context.Context, assetID uuid.UUID) ([]*assetstore.AssetVariant, error)
	DeleteVariants(ctx context.Context, assetID uuid.UUID) error
}
