package fs_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediaforge/assetstore/pkg/assetstore"
	"github.com/mediaforge/assetstore/pkg/assetstore/accessurl"
	fsstorage "github.com/mediaforge/assetstore/pkg/assetstore/storage/fs"
)

func newTestBackend(t *testing.T) *fsstorage.Backend {
	t.Helper()
	b, err := fsstorage.New(fsstorage.Config{
		BaseDir: t.TempDir(),
		BaseURL: "http://localhost:8080",
		Signer:  accessurl.NewSigner("test-secret", time.Hour),
	})
	require.NoError(t, err)
	return b
}

func TestPutGetRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	content := []byte("original bytes, byte for byte")

	obj, err := b.Put(ctx, "assets/2026/08/abc123defg-photo.jpg", bytes.NewReader(content), assetstore.PutOptions{
		ContentType: "image/jpeg",
		Metadata:    map[string]string{"checksum": "deadbeef"},
	})
	require.NoError(t, err)
	assert.Equal(t, assetstore.BackendLocal, obj.Backend)
	assert.Equal(t, int64(len(content)), obj.SizeBytes)
	assert.Equal(t, "deadbeef", obj.Checksum)

	rc, err := b.Get(ctx, "assets/2026/08/abc123defg-photo.jpg")
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	b := newTestBackend(t)

	_, err := b.Get(context.Background(), "assets/nope.bin")
	assert.ErrorIs(t, err, assetstore.ErrNotFound)
}

func TestDeleteIsIdempotent(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	_, err := b.Put(ctx, "assets/a/b/file.bin", bytes.NewReader([]byte("x")), assetstore.PutOptions{})
	require.NoError(t, err)

	require.NoError(t, b.Delete(ctx, "assets/a/b/file.bin"))
	assert.NoError(t, b.Delete(ctx, "assets/a/b/file.bin"), "second delete must not error")

	ok, err := b.Exists(ctx, "assets/a/b/file.bin")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeletePrunesEmptyDirectories(t *testing.T) {
	dir := t.TempDir()
	b, err := fsstorage.New(fsstorage.Config{
		BaseDir: dir,
		Signer:  accessurl.NewSigner("s", time.Hour),
	})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = b.Put(ctx, "assets/2026/08/only-file.bin", bytes.NewReader([]byte("x")), assetstore.PutOptions{})
	require.NoError(t, err)
	require.NoError(t, b.Delete(ctx, "assets/2026/08/only-file.bin"))

	_, err = os.Stat(filepath.Join(dir, "assets"))
	assert.True(t, os.IsNotExist(err), "empty key directories should be pruned")
}

func TestPutLeavesNoPartialFileOnFailedReader(t *testing.T) {
	dir := t.TempDir()
	b, err := fsstorage.New(fsstorage.Config{
		BaseDir: dir,
		Signer:  accessurl.NewSigner("s", time.Hour),
	})
	require.NoError(t, err)

	_, err = b.Put(context.Background(), "assets/broken.bin", &failingReader{}, assetstore.PutOptions{})
	require.Error(t, err)

	ok, err := b.Exists(context.Background(), "assets/broken.bin")
	require.NoError(t, err)
	assert.False(t, ok, "no partial object may be visible after a failed write")
}

func TestPresignSignedRouteURL(t *testing.T) {
	b := newTestBackend(t)

	url, err := b.Presign(context.Background(), "assets/k.jpg", assetstore.PresignOptions{
		ExpiresIn:        10 * time.Minute,
		ForceDownload:    true,
		DownloadFilename: "My Photo.jpg",
	})
	require.NoError(t, err)

	assert.Contains(t, url, "http://localhost:8080/files/assets/k.jpg")
	assert.Contains(t, url, "signature=")
	assert.Contains(t, url, "expires=")
	assert.Contains(t, url, "download=1")
}

func TestPresignPublicRoute(t *testing.T) {
	b := newTestBackend(t)

	url, err := b.Presign(context.Background(), "assets/k.jpg", assetstore.PresignOptions{PublicAccess: true})
	require.NoError(t, err)
	assert.Contains(t, url, "/files/public/assets/k.jpg")
}

func TestUnsupportedOperations(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	_, err := b.Stat(ctx, "assets/k.jpg")
	assert.ErrorIs(t, err, assetstore.ErrNotSupported)

	err = b.Copy(ctx, "assets/a.jpg", "assets/b.jpg")
	assert.ErrorIs(t, err, assetstore.ErrNotSupported)
}

func TestKeyTraversalRejected(t *testing.T) {
	b := newTestBackend(t)

	_, err := b.Get(context.Background(), "../../etc/passwd")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, assetstore.ErrNotFound)
}

type failingReader struct{}

func (*failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }
