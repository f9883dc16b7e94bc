// Package pipeline runs asynchronous media processing for uploaded assets.
//
// Each enqueued asset gets a metadata job and, for images and videos, a
// thumbnail job; those are mandatory and decide the asset's terminal state.
// Images additionally get a best-effort variant-set job and videos a
// best-effort preview clip; their failures are recorded and logged but never
// fail the asset. Jobs run FIFO on a fixed worker pool.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// JobType identifies a unit of processing work.
type JobType string

const (
	JobMetadata   JobType = "metadata"
	JobThumbnail  JobType = "thumbnail"
	JobVariantSet JobType = "variant_set"
)

// Variant types written by the pipeline beyond the configured presets.
const (
	VariantThumbnail   = "thumbnail"
	VariantPreviewClip = "preview_clip"
)

// job is one queued unit of work. attempt counts retries already spent.
type job struct {
	assetID   uuid.UUID
	typ       JobType
	attempt   int
	mandatory bool
}

// track follows an asset's outstanding mandatory jobs. The asset reaches a
// terminal state when remaining hits zero; any mandatory failure that
// exhausted its retries flips the result to failed.
type track struct {
	remaining int
	failed    bool
	reason    string
}

// Defaults applied when the corresponding option is not given.
const (
	DefaultWorkers     = 4
	DefaultQueueSize   = 256
	DefaultRetryBudget = 2
	DefaultJobTimeout  = 2 * time.Minute

	retryBackoffBase = 500 * time.Millisecond
)

// Enqueuer is the part of the orchestrator upload handlers need.
type Enqueuer interface {
	Enqueue(ctx context.Context, assetID uuid.UUID, filename string) error
}
