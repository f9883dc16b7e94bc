package main

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mediaforge/assetstore/pkg/assetstore"
	"github.com/mediaforge/assetstore/pkg/assetstore/accessurl"
	"github.com/mediaforge/assetstore/pkg/assetstore/assetrepo"
	"github.com/mediaforge/assetstore/pkg/assetstore/config"
	"github.com/mediaforge/assetstore/pkg/assetstore/pipeline"
)

// maxUploadBytes bounds multipart upload memory buffering.
const maxUploadBytes = 512 << 20

// HTTPServer exposes the asset store over HTTP.
type HTTPServer struct {
	cfg    *config.Config
	svc    assetstore.Service
	store  assetrepo.Store
	orch   *pipeline.Orchestrator
	signer *accessurl.Signer
	logger *slog.Logger
}

// NewHTTPServer wires the handlers to the assembled components.
func NewHTTPServer(cfg *config.Config, svc assetstore.Service, store assetrepo.Store, orch *pipeline.Orchestrator, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServer{
		cfg:    cfg,
		svc:    svc,
		store:  store,
		orch:   orch,
		signer: cfg.Signer(),
		logger: logger,
	}
}

// Routes builds the router.
func (s *HTTPServer) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.PlainText(w, r, http.StatusText(http.StatusOK))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Local-backend file serving. Both routes require a valid HMAC
	// signature minted by Presign; the non-public route additionally
	// requires a bearer token when auth is configured.
	r.Get("/files/public/*", s.handleServeFile)
	r.Group(func(r chi.Router) {
		s.useAuth(r)
		r.Get("/files/*", s.handleServeFile)
	})

	r.Route("/api/v1", func(r chi.Router) {
		s.useAuth(r)

		r.Post("/assets", s.handleUpload)
		r.Get("/assets", s.handleListAssets)
		r.Get("/assets/{assetID}", s.handleGetAsset)
		r.Delete("/assets/{assetID}", s.handleDeleteAsset)
		r.Get("/assets/{assetID}/download", s.handleDownloadURL)
		r.Get("/assets/{assetID}/variants", s.handleListVariants)
		r.Get("/assets/{assetID}/variants/{variantType}/download", s.handleVariantDownloadURL)
	})

	return r
}

// useAuth installs JWT verification when a secret is configured.
func (s *HTTPServer) useAuth(r chi.Router) {
	if s.cfg.Access.JWTSecret == "" {
		return
	}
	tokenAuth := jwtauth.New("HS256", []byte(s.cfg.Access.JWTSecret), nil)
	r.Use(jwtauth.Verifier(tokenAuth))
	r.Use(jwtauth.Authenticator)
}

type assetResponse struct {
	*assetrepo.Asset
	Variants []*assetstore.AssetVariant `json:"variants,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *HTTPServer) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, assetrepo.ErrAssetNotFound),
		errors.Is(err, assetstore.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, assetstore.ErrNotSupported):
		status = http.StatusConflict
	case errors.Is(err, pipeline.ErrStopped):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "err", err)
	}
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: err.Error()})
}

func (s *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "invalid multipart form"})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "missing file field"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	ctx := r.Context()
	result, err := s.svc.Upload(ctx, assetstore.UploadRequest{
		Data:        data,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Prefix:      r.FormValue("prefix"),
	})
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	asset := &assetrepo.Asset{
		ID:          uuid.New(),
		FileKey:     result.FileKey,
		Backend:     result.Backend,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		SizeBytes:   result.SizeBytes,
		Checksum:    result.Checksum,
		State:       assetstore.ProcessingStatePending,
	}
	if err := s.store.CreateAsset(ctx, asset); err != nil {
		s.renderError(w, r, err)
		return
	}

	if err := s.orch.Enqueue(ctx, asset.ID, asset.Filename); err != nil {
		s.renderError(w, r, err)
		return
	}

	stored, err := s.store.GetAsset(ctx, asset.ID)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, assetResponse{Asset: stored})
}

func (s *HTTPServer) assetID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "assetID"))
}

func (s *HTTPServer) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	id, err := s.assetID(r)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "invalid asset id"})
		return
	}

	ctx := r.Context()
	asset, err := s.store.GetAsset(ctx, id)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	variants, err := s.store.ListVariants(ctx, id)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	render.JSON(w, r, assetResponse{Asset: asset, Variants: variants})
}

func (s *HTTPServer) handleListAssets(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	assets, err := s.store.ListAssets(r.Context(), limit, offset)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{"assets": assets})
}

func (s *HTTPServer) handleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	id, err := s.assetID(r)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "invalid asset id"})
		return
	}

	if err := s.orch.PurgeAsset(r.Context(), id); err != nil {
		s.renderError(w, r, err)
		return
	}
	render.NoContent(w, r)
}

func presignOptionsFromQuery(r *http.Request) assetstore.PresignOptions {
	q := r.URL.Query()
	opts := assetstore.PresignOptions{
		ForceDownload:    q.Get("download") == "1",
		DownloadFilename: q.Get("filename"),
		PublicAccess:     q.Get("public") == "1",
	}
	if secs, err := strconv.Atoi(q.Get("expires_in")); err == nil && secs > 0 {
		opts.ExpiresIn = time.Duration(secs) * time.Second
	}
	return opts
}

func (s *HTTPServer) handleDownloadURL(w http.ResponseWriter, r *http.Request) {
	id, err := s.assetID(r)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "invalid asset id"})
		return
	}

	ctx := r.Context()
	asset, err := s.store.GetAsset(ctx, id)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	url, err := s.svc.Download(ctx, asset.FileKey, presignOptionsFromQuery(r))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]string{"url": url})
}

func (s *HTTPServer) handleListVariants(w http.ResponseWriter, r *http.Request) {
	id, err := s.assetID(r)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "invalid asset id"})
		return
	}

	variants, err := s.store.ListVariants(r.Context(), id)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{"variants": variants})
}

func (s *HTTPServer) handleVariantDownloadURL(w http.ResponseWriter, r *http.Request) {
	id, err := s.assetID(r)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "invalid asset id"})
		return
	}
	variantType := chi.URLParam(r, "variantType")

	ctx := r.Context()
	variants, err := s.store.ListVariants(ctx, id)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	for _, v := range variants {
		if v.VariantType == variantType {
			url, err := s.svc.Download(ctx, v.FileKey, presignOptionsFromQuery(r))
			if err != nil {
				s.renderError(w, r, err)
				return
			}
			render.JSON(w, r, map[string]string{"url": url})
			return
		}
	}
	render.Status(r, http.StatusNotFound)
	render.JSON(w, r, errorResponse{Error: "variant not found"})
}

// handleServeFile serves local-backend objects. The URL must carry a valid
// HMAC signature and unexpired timestamp minted by the filesystem backend's
// Presign.
func (s *HTTPServer) handleServeFile(w http.ResponseWriter, r *http.Request) {
	if err := s.signer.ValidateRequest(r); err != nil {
		render.Status(r, http.StatusForbidden)
		render.JSON(w, r, errorResponse{Error: err.Error()})
		return
	}

	key := chi.URLParam(r, "*")
	rc, err := s.svc.Open(r.Context(), key)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	defer rc.Close()

	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	if r.URL.Query().Get("download") == "1" {
		filename := r.URL.Query().Get("filename")
		if filename == "" {
			filename = path.Base(key)
		}
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	}

	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn("file stream interrupted", "key", key, "err", err)
	}
}
