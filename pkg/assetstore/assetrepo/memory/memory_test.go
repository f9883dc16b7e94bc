package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediaforge/assetstore/pkg/assetstore"
	"github.com/mediaforge/assetstore/pkg/assetstore/assetrepo"
	"github.com/mediaforge/assetstore/pkg/assetstore/assetrepo/memory"
	"github.com/mediaforge/assetstore/pkg/assetstore/media"
)

func newAsset() *assetrepo.Asset {
	return &assetrepo.Asset{
		ID:        uuid.New(),
		FileKey:   "assets/2026/08/abc123defg-photo.jpg",
		Backend:   assetstore.BackendRemote,
		Filename:  "photo.jpg",
		SizeBytes: 1024,
		Checksum:  "deadbeef",
		State:     assetstore.ProcessingStatePending,
	}
}

func TestCreateAndGetAsset(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	asset := newAsset()

	require.NoError(t, store.CreateAsset(ctx, asset))

	got, err := store.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, asset.FileKey, got.FileKey)
	assert.Equal(t, assetstore.ProcessingStatePending, got.State)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestGetMissingAsset(t *testing.T) {
	store := memory.New()

	_, err := store.GetAsset(context.Background(), uuid.New())
	assert.ErrorIs(t, err, assetrepo.ErrAssetNotFound)
}

func TestUpdateProcessingState(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	asset := newAsset()
	require.NoError(t, store.CreateAsset(ctx, asset))

	require.NoError(t, store.UpdateProcessingState(ctx, asset.ID, assetstore.ProcessingStateProcessing, ""))
	require.NoError(t, store.UpdateProcessingState(ctx, asset.ID, assetstore.ProcessingStateFailed, "metadata extraction failed"))

	got, err := store.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, assetstore.ProcessingStateFailed, got.State)
	assert.Equal(t, "metadata extraction failed", got.FailureReason)

	// Recovering to a non-failed state clears the reason.
	require.NoError(t, store.UpdateProcessingState(ctx, asset.ID, assetstore.ProcessingStateCompleted, ""))
	got, err = store.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Empty(t, got.FailureReason)

	err = store.UpdateProcessingState(ctx, uuid.New(), assetstore.ProcessingStateProcessing, "")
	assert.ErrorIs(t, err, assetrepo.ErrAssetNotFound)
}

func TestSaveMetadataIsolatesCaller(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	asset := newAsset()
	require.NoError(t, store.CreateAsset(ctx, asset))

	meta := &media.Metadata{Kind: media.KindImage, Width: 320, Height: 240, Format: "png"}
	require.NoError(t, store.SaveMetadata(ctx, asset.ID, meta))

	// Mutating the caller's copy must not leak into the store.
	meta.Width = 9999

	got, err := store.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Metadata)
	assert.Equal(t, 320, got.Metadata.Width)
}

func TestVariantLifecycle(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	asset := newAsset()
	require.NoError(t, store.CreateAsset(ctx, asset))

	require.NoError(t, store.CreateVariant(ctx, &assetstore.AssetVariant{
		AssetID:     asset.ID,
		VariantType: "thumbnail",
		FileKey:     "assets/2026/08/abc123defg-photo_thumbnail.jpg",
		Backend:     assetstore.BackendRemote,
		Width:       200,
		Height:      200,
		Format:      "jpeg",
	}))
	require.NoError(t, store.CreateVariant(ctx, &assetstore.AssetVariant{
		AssetID:     asset.ID,
		VariantType: "web",
		Width:       1280,
		Height:      960,
	}))

	variants, err := store.ListVariants(ctx, asset.ID)
	require.NoError(t, err)
	require.Len(t, variants, 2)
	assert.Equal(t, "thumbnail", variants[0].VariantType)
	assert.Equal(t, "web", variants[1].VariantType)

	// Re-creating an existing variant type replaces it.
	require.NoError(t, store.CreateVariant(ctx, &assetstore.AssetVariant{
		AssetID:     asset.ID,
		VariantType: "thumbnail",
		Width:       400,
		Height:      400,
	}))
	variants, err = store.ListVariants(ctx, asset.ID)
	require.NoError(t, err)
	require.Len(t, variants, 2)
	assert.Equal(t, 400, variants[0].Width)

	require.NoError(t, store.DeleteVariants(ctx, asset.ID))
	variants, err = store.ListVariants(ctx, asset.ID)
	require.NoError(t, err)
	assert.Empty(t, variants)
}

func TestCreateVariantForMissingAsset(t *testing.T) {
	store := memory.New()

	err := store.CreateVariant(context.Background(), &assetstore.AssetVariant{
		AssetID:     uuid.New(),
		VariantType: "thumbnail",
	})
	assert.ErrorIs(t, err, assetrepo.ErrAssetNotFound)
}

func TestListAssetsOrderAndPaging(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		asset := newAsset()
		asset.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.CreateAsset(ctx, asset))
		ids = append(ids, asset.ID)
	}

	page, err := store.ListAssets(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[4], page[0].ID, "newest first")
	assert.Equal(t, ids[3], page[1].ID)

	page, err = store.ListAssets(ctx, 2, 4)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[0], page[0].ID)

	page, err = store.ListAssets(ctx, 10, 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestDeleteAssetRemovesVariants(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	asset := newAsset()
	require.NoError(t, store.CreateAsset(ctx, asset))
	require.NoError(t, store.CreateVariant(ctx, &assetstore.AssetVariant{AssetID: asset.ID, VariantType: "thumbnail"}))

	require.NoError(t, store.DeleteAsset(ctx, asset.ID))

	_, err := store.GetAsset(ctx, asset.ID)
	assert.ErrorIs(t, err, assetrepo.ErrAssetNotFound)

	variants, err := store.ListVariants(ctx, asset.ID)
	require.NoError(t, err)
	assert.Empty(t, variants)

	assert.ErrorIs(t, store.DeleteAsset(ctx, asset.ID), assetrepo.ErrAssetNotFound)
}
