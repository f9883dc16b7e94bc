package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediaforge/assetstore/pkg/assetstore"
	"github.com/mediaforge/assetstore/pkg/assetstore/assetrepo"
	"github.com/mediaforge/assetstore/pkg/assetstore/config"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()

	t.Setenv("LOCAL_STORAGE_ROOT", t.TempDir())

	cfg, err := config.Load()
	require.NoError(t, err)

	svc, err := cfg.BuildService(nil)
	require.NoError(t, err)

	store, closeStore, err := cfg.BuildStore(context.Background())
	require.NoError(t, err)
	t.Cleanup(closeStore)

	orch, err := cfg.BuildPipeline(svc, store, nil, nil)
	require.NoError(t, err)
	orch.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = orch.Stop(ctx)
	})

	return NewHTTPServer(cfg, svc, store, orch, nil).Routes()
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 80, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func uploadPNG(t *testing.T, h http.Handler, filename string, data []byte) *assetrepo.Asset {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/assets", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	var asset assetrepo.Asset
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &asset))
	require.NotEqual(t, uuid.Nil, asset.ID)
	return &asset
}

func getAsset(t *testing.T, h http.Handler, id uuid.UUID) (*assetrepo.Asset, int) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/assets/"+id.String(), nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		return nil, rr.Code
	}
	var asset assetrepo.Asset
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &asset))
	return &asset, rr.Code
}

func waitForState(t *testing.T, h http.Handler, id uuid.UUID, want assetstore.ProcessingState) *assetrepo.Asset {
	t.Helper()
	var last *assetrepo.Asset
	require.Eventually(t, func() bool {
		asset, code := getAsset(t, h, id)
		if code != http.StatusOK {
			return false
		}
		last = asset
		return asset.State == want
	}, 15*time.Second, 25*time.Millisecond)
	return last
}

func TestHealthz(t *testing.T) {
	h := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestUploadProcessesAsset(t *testing.T) {
	h := newTestServer(t)

	uploaded := uploadPNG(t, h, "photo.png", pngBytes(t, 320, 200))
	assert.Equal(t, "photo.png", uploaded.Filename)
	assert.Equal(t, assetstore.ProcessingStatePending, uploaded.State)

	done := waitForState(t, h, uploaded.ID, assetstore.ProcessingStateCompleted)
	require.NotNil(t, done.Metadata)
	assert.Equal(t, 320, done.Metadata.Width)
	assert.Equal(t, 200, done.Metadata.Height)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/assets/"+uploaded.ID.String()+"/variants", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Variants []*assetstore.AssetVariant `json:"variants"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	types := make(map[string]bool)
	for _, v := range resp.Variants {
		types[v.VariantType] = true
	}
	assert.True(t, types["thumbnail"])
}

func TestDownloadURLServesSignedFile(t *testing.T) {
	h := newTestServer(t)

	data := pngBytes(t, 64, 64)
	uploaded := uploadPNG(t, h, "tiny.png", data)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/assets/"+uploaded.ID.String()+"/download", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	signed, err := url.Parse(resp["url"])
	require.NoError(t, err)
	require.NotEmpty(t, signed.Query().Get("signature"))

	req = httptest.NewRequest(http.MethodGet, signed.RequestURI(), nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "image/png", rr.Header().Get("Content-Type"))
	assert.Equal(t, data, rr.Body.Bytes())
}

func TestUnsignedFileRequestIsRejected(t *testing.T) {
	h := newTestServer(t)

	uploaded := uploadPNG(t, h, "guarded.png", pngBytes(t, 32, 32))

	req := httptest.NewRequest(http.MethodGet, "/files/"+uploaded.FileKey, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestAssetLookupErrors(t *testing.T) {
	h := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/assets/not-a-uuid", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/assets/"+uuid.NewString(), nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestUploadRequiresFileField(t *testing.T) {
	h := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("prefix", "assets"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/assets", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestDeleteAssetPurges(t *testing.T) {
	h := newTestServer(t)

	uploaded := uploadPNG(t, h, "doomed.png", pngBytes(t, 48, 48))
	waitForState(t, h, uploaded.ID, assetstore.ProcessingStateCompleted)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/assets/"+uploaded.ID.String(), nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)

	_, code := getAsset(t, h, uploaded.ID)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestListAssets(t *testing.T) {
	h := newTestServer(t)

	first := uploadPNG(t, h, "one.png", pngBytes(t, 16, 16))
	second := uploadPNG(t, h, "two.png", pngBytes(t, 16, 16))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/assets?limit=10", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Assets []*assetrepo.Asset `json:"assets"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	ids := make(map[uuid.UUID]bool)
	for _, a := range resp.Assets {
		ids[a.ID] = true
	}
	assert.True(t, ids[first.ID])
	assert.True(t, ids[second.ID])
}
