package pipeline_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediaforge/assetstore/pkg/assetstore"
	"github.com/mediaforge/assetstore/pkg/assetstore/assetrepo"
	repomem "github.com/mediaforge/assetstore/pkg/assetstore/assetrepo/memory"
	"github.com/mediaforge/assetstore/pkg/assetstore/pipeline"
	"github.com/mediaforge/assetstore/pkg/assetstore/storage/memory"
)

type env struct {
	svc   assetstore.Service
	store *repomem.Store
	orch  *pipeline.Orchestrator
}

func newEnv(t *testing.T, backend assetstore.Backend, opts ...pipeline.Option) *env {
	t.Helper()

	svc, err := assetstore.New(assetstore.WithPrimary(backend))
	require.NoError(t, err)

	store := repomem.New()

	base := []pipeline.Option{
		pipeline.WithWorkers(2),
		pipeline.WithJobTimeout(30 * time.Second),
	}
	orch, err := pipeline.NewOrchestrator(svc, store, append(base, opts...)...)
	require.NoError(t, err)
	orch.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Stop(ctx)
	})

	return &env{svc: svc, store: store, orch: orch}
}

func jpegImage(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: 180, B: uint8(y % 256), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

// uploadAsset stores the bytes and registers a pending asset record.
func (e *env) uploadAsset(t *testing.T, filename string, data []byte) *assetrepo.Asset {
	t.Helper()
	ctx := context.Background()

	result, err := e.svc.Upload(ctx, assetstore.UploadRequest{
		Data:     data,
		Filename: filename,
	})
	require.NoError(t, err)

	asset := &assetrepo.Asset{
		ID:        uuid.New(),
		FileKey:   result.FileKey,
		Backend:   result.Backend,
		Filename:  filename,
		SizeBytes: result.SizeBytes,
		Checksum:  result.Checksum,
		State:     assetstore.ProcessingStatePending,
	}
	require.NoError(t, e.store.CreateAsset(ctx, asset))
	return asset
}

func (e *env) waitState(t *testing.T, id uuid.UUID, want assetstore.ProcessingState) *assetrepo.Asset {
	t.Helper()
	var got *assetrepo.Asset
	require.Eventually(t, func() bool {
		asset, err := e.store.GetAsset(context.Background(), id)
		if err != nil {
			return false
		}
		got = asset
		return asset.State == want
	}, 15*time.Second, 20*time.Millisecond, "asset never reached state %s", want)
	return got
}

func TestImageAssetCompletes(t *testing.T) {
	e := newEnv(t, memory.New())
	ctx := context.Background()
	asset := e.uploadAsset(t, "photo.jpg", jpegImage(t, 800, 600))

	require.NoError(t, e.orch.Enqueue(ctx, asset.ID, asset.Filename))

	final := e.waitState(t, asset.ID, assetstore.ProcessingStateCompleted)
	require.NotNil(t, final.Metadata)
	assert.Equal(t, 800, final.Metadata.Width)
	assert.Equal(t, 600, final.Metadata.Height)
	assert.Equal(t, "jpeg", final.Metadata.Format)
	assert.Empty(t, final.FailureReason)

	// The thumbnail is mandatory, so it must exist by the time the asset
	// completes. Preset variants are best-effort and may still be rendering.
	variants, err := e.store.ListVariants(ctx, asset.ID)
	require.NoError(t, err)
	byType := map[string]*assetstore.AssetVariant{}
	for _, v := range variants {
		byType[v.VariantType] = v
	}
	thumb := byType[pipeline.VariantThumbnail]
	require.NotNil(t, thumb)
	assert.Equal(t, 200, thumb.Width)
	assert.Equal(t, 200, thumb.Height)

	ok, err := e.svc.Exists(ctx, thumb.FileKey)
	require.NoError(t, err)
	assert.True(t, ok, "thumbnail object must be stored")

	// All presets eventually land too.
	assert.Eventually(t, func() bool {
		variants, err := e.store.ListVariants(ctx, asset.ID)
		if err != nil {
			return false
		}
		names := map[string]bool{}
		for _, v := range variants {
			names[v.VariantType] = true
		}
		return names["preview"] && names["web"] && names["mobile"]
	}, 15*time.Second, 20*time.Millisecond)
}

func TestNonMediaAssetGetsMetadataOnly(t *testing.T) {
	e := newEnv(t, memory.New())
	ctx := context.Background()
	asset := e.uploadAsset(t, "report.txt", []byte("plain text, nothing to render"))

	require.NoError(t, e.orch.Enqueue(ctx, asset.ID, asset.Filename))

	final := e.waitState(t, asset.ID, assetstore.ProcessingStateCompleted)
	require.NotNil(t, final.Metadata)
	assert.Equal(t, "other", string(final.Metadata.Kind))

	variants, err := e.store.ListVariants(ctx, asset.ID)
	require.NoError(t, err)
	assert.Empty(t, variants)
}

func TestMandatoryFailureMarksAssetFailed(t *testing.T) {
	e := newEnv(t, memory.New(), pipeline.WithRetryBudget(0))
	ctx := context.Background()

	// A record pointing at a key that was never stored: every job's open
	// fails deterministically.
	asset := &assetrepo.Asset{
		ID:       uuid.New(),
		FileKey:  "assets/2026/08/aaaaaaaaaa-ghost.jpg",
		Backend:  assetstore.BackendMemory,
		Filename: "ghost.jpg",
		State:    assetstore.ProcessingStatePending,
	}
	require.NoError(t, e.store.CreateAsset(ctx, asset))
	require.NoError(t, e.orch.Enqueue(ctx, asset.ID, asset.Filename))

	final := e.waitState(t, asset.ID, assetstore.ProcessingStateFailed)
	assert.NotEmpty(t, final.FailureReason)
}

// flakyGetBackend fails the first n Get calls, then behaves normally.
type flakyGetBackend struct {
	*memory.Backend
	failures int32
}

func (b *flakyGetBackend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if atomic.AddInt32(&b.failures, -1) >= 0 {
		return nil, io.ErrUnexpectedEOF
	}
	return b.Backend.Get(ctx, key)
}

func TestMandatoryJobsRetryTransientFailures(t *testing.T) {
	backend := &flakyGetBackend{Backend: memory.New(), failures: 2}
	e := newEnv(t, backend, pipeline.WithRetryBudget(2))
	ctx := context.Background()
	asset := e.uploadAsset(t, "photo.jpg", jpegImage(t, 400, 300))

	require.NoError(t, e.orch.Enqueue(ctx, asset.ID, asset.Filename))

	final := e.waitState(t, asset.ID, assetstore.ProcessingStateCompleted)
	assert.NotNil(t, final.Metadata)
}

// variantPoisonBackend rejects writes of selected variant renditions while
// serving everything else, to simulate partial variant-set failure.
type variantPoisonBackend struct {
	*memory.Backend
	poison string
}

func (b *variantPoisonBackend) Put(ctx context.Context, key string, r io.Reader, opts assetstore.PutOptions) (*assetstore.StoredObject, error) {
	if strings.Contains(key, b.poison) {
		return nil, io.ErrUnexpectedEOF
	}
	return b.Backend.Put(ctx, key, r, opts)
}

func TestVariantFailureNeverFailsAsset(t *testing.T) {
	backend := &variantPoisonBackend{Backend: memory.New(), poison: "_web"}
	e := newEnv(t, backend)
	ctx := context.Background()
	asset := e.uploadAsset(t, "photo.jpg", jpegImage(t, 1600, 1200))

	require.NoError(t, e.orch.Enqueue(ctx, asset.ID, asset.Filename))

	final := e.waitState(t, asset.ID, assetstore.ProcessingStateCompleted)
	assert.Empty(t, final.FailureReason)

	// The poisoned preset is missing, the healthy ones still land.
	assert.Eventually(t, func() bool {
		variants, err := e.store.ListVariants(ctx, asset.ID)
		if err != nil {
			return false
		}
		names := map[string]bool{}
		for _, v := range variants {
			names[v.VariantType] = true
		}
		return names["preview"] && names["mobile"] && !names["web"]
	}, 15*time.Second, 20*time.Millisecond)
}

func TestOriginalStaysRetrievableAfterFailure(t *testing.T) {
	e := newEnv(t, memory.New(), pipeline.WithRetryBudget(0))
	ctx := context.Background()

	// Corrupt image bytes: stored fine, but metadata extraction fails.
	asset := e.uploadAsset(t, "broken.jpg", []byte("not a real jpeg"))
	require.NoError(t, e.orch.Enqueue(ctx, asset.ID, asset.Filename))

	e.waitState(t, asset.ID, assetstore.ProcessingStateFailed)

	rc, err := e.svc.Open(ctx, asset.FileKey)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, []byte("not a real jpeg"), data)
}

func TestPurgeAssetRemovesEverything(t *testing.T) {
	e := newEnv(t, memory.New())
	ctx := context.Background()
	asset := e.uploadAsset(t, "photo.jpg", jpegImage(t, 800, 600))

	require.NoError(t, e.orch.Enqueue(ctx, asset.ID, asset.Filename))
	e.waitState(t, asset.ID, assetstore.ProcessingStateCompleted)

	// Wait for the variant set so the purge has real work to do.
	require.Eventually(t, func() bool {
		variants, err := e.store.ListVariants(ctx, asset.ID)
		return err == nil && len(variants) >= 4
	}, 15*time.Second, 20*time.Millisecond)

	variants, err := e.store.ListVariants(ctx, asset.ID)
	require.NoError(t, err)

	require.NoError(t, e.orch.PurgeAsset(ctx, asset.ID))

	_, err = e.store.GetAsset(ctx, asset.ID)
	assert.ErrorIs(t, err, assetrepo.ErrAssetNotFound)

	ok, err := e.svc.Exists(ctx, asset.FileKey)
	require.NoError(t, err)
	assert.False(t, ok, "original object must be gone")

	for _, v := range variants {
		ok, err := e.svc.Exists(ctx, v.FileKey)
		require.NoError(t, err)
		assert.False(t, ok, "variant object %s must be gone", v.FileKey)
	}
}

func TestEnqueueAfterStop(t *testing.T) {
	svc, err := assetstore.New(assetstore.WithPrimary(memory.New()))
	require.NoError(t, err)
	store := repomem.New()
	orch, err := pipeline.NewOrchestrator(svc, store)
	require.NoError(t, err)
	orch.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, orch.Stop(ctx))

	asset := &assetrepo.Asset{ID: uuid.New(), FileKey: "k", Filename: "f.jpg", State: assetstore.ProcessingStatePending}
	require.NoError(t, store.CreateAsset(ctx, asset))

	err = orch.Enqueue(ctx, asset.ID, asset.Filename)
	assert.ErrorIs(t, err, pipeline.ErrStopped)
}
