package assetstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/mediaforge/assetstore/pkg/assetstore/filekey"
)

// URLRewriter rewrites retrieval URLs, e.g. onto a CDN edge host.
type URLRewriter interface {
	Rewrite(rawURL string) (string, error)
}

// Facade selects one backend at startup and exposes the Service surface.
// When the primary backend is remote, each failing remote operation is
// retried once against the local backend before the error surfaces. This is
// a deliberate availability trade-off (favor "succeeds somewhere" over
// strict backend consistency); every fallback is logged at WARN so operators
// can detect backend drift. Operations local storage cannot support (Stat,
// Copy) are never retried against it.
type Facade struct {
	primary  Backend
	fallback Backend
	rewriter URLRewriter
	logger   *slog.Logger
}

// Option represents a functional option for configuring the facade.
type Option func(*Facade)

// WithPrimary sets the backend selected at startup.
func WithPrimary(b Backend) Option {
	return func(f *Facade) { f.primary = b }
}

// WithFallback sets the local backend used to retry failing remote operations.
func WithFallback(b Backend) Option {
	return func(f *Facade) { f.fallback = b }
}

// WithURLRewriter installs a rewriter applied to every minted retrieval URL.
func WithURLRewriter(r URLRewriter) Option {
	return func(f *Facade) { f.rewriter = r }
}

// WithLogger sets the logger used for fallback and error reporting.
func WithLogger(l *slog.Logger) Option {
	return func(f *Facade) { f.logger = l }
}

// New creates a Service with the given options. A primary backend is required.
func New(opts ...Option) (*Facade, error) {
	f := &Facade{logger: slog.Default()}
	for _, opt := range opts {
		opt(f)
	}
	if f.primary == nil {
		return nil, errors.New("primary backend is required")
	}
	return f, nil
}

// PrimaryBackend returns the name of the backend selected at startup.
func (f *Facade) PrimaryBackend() string {
	return f.primary.Name()
}

// Upload persists the buffer under a freshly generated key. On remote
// failure the same bytes are written to the local backend instead; the
// result's Backend field reports who actually holds the object.
func (f *Facade) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if len(req.Data) == 0 {
		return nil, errors.New("upload data is empty")
	}
	prefix := req.Prefix
	if prefix == "" {
		prefix = "assets"
	}

	key := filekey.Generate(prefix, req.Filename)
	checksum := filekey.Checksum(req.Data)

	meta := map[string]string{"checksum": checksum}
	for k, v := range req.Metadata {
		meta[k] = v
	}
	putOpts := PutOptions{ContentType: req.ContentType, Metadata: meta}

	obj, err := f.Put(ctx, key, req.Data, putOpts)
	if err != nil {
		return nil, err
	}

	result := &UploadResult{
		FileKey:   key,
		Backend:   obj.Backend,
		SizeBytes: obj.SizeBytes,
		Checksum:  checksum,
	}

	// URL minting is best-effort: a failed presign must not undo a
	// successful write.
	url, err := f.presign(ctx, key, PresignOptions{})
	if err != nil {
		f.logger.Warn("presign after upload failed", "key", key, "err", err)
	} else {
		result.URL = url
	}

	return result, nil
}

// Put persists the buffer under a caller-chosen key. Derived objects
// (thumbnails, variants) use keys computed from the original's, so the
// facade cannot generate them.
func (f *Facade) Put(ctx context.Context, key string, data []byte, opts PutOptions) (*StoredObject, error) {
	obj, err := f.primary.Put(ctx, key, bytes.NewReader(data), opts)
	if err != nil && f.fallback != nil {
		f.logger.Warn("primary backend put failed, falling back to local",
			"backend", f.primary.Name(), "key", key, "err", err)
		obj, err = f.fallback.Put(ctx, key, bytes.NewReader(data), opts)
	}
	if err != nil {
		return nil, &StorageError{Backend: f.primary.Name(), Key: key, Op: "put", Err: err}
	}
	return obj, nil
}

// Download mints a time-boxed retrieval URL for the object.
func (f *Facade) Download(ctx context.Context, key string, opts PresignOptions) (string, error) {
	url, err := f.presign(ctx, key, opts)
	if err != nil {
		return "", &StorageError{Backend: f.primary.Name(), Key: key, Op: "presign", Err: err}
	}
	return url, nil
}

func (f *Facade) presign(ctx context.Context, key string, opts PresignOptions) (string, error) {
	url, err := f.primary.Presign(ctx, key, opts)
	if err != nil && f.fallback != nil {
		f.logger.Warn("primary backend presign failed, falling back to local",
			"backend", f.primary.Name(), "key", key, "err", err)
		url, err = f.fallback.Presign(ctx, key, opts)
	}
	if err != nil {
		return "", err
	}
	if f.rewriter != nil {
		rewritten, rerr := f.rewriter.Rewrite(url)
		if rerr != nil {
			f.logger.Warn("url rewrite failed, returning backend url", "key", key, "err", rerr)
			return url, nil
		}
		url = rewritten
	}
	return url, nil
}

// Open streams the object's bytes. A remote miss falls through to local
// because an object written during a fallback lives there.
func (f *Facade) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := f.primary.Get(ctx, key)
	if err != nil && f.fallback != nil {
		if !errors.Is(err, ErrNotFound) {
			f.logger.Warn("primary backend get failed, falling back to local",
				"backend", f.primary.Name(), "key", key, "err", err)
		}
		rc, err = f.fallback.Get(ctx, key)
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, &StorageError{Backend: f.primary.Name(), Key: key, Op: "get", Err: err}
	}
	return rc, nil
}

// Delete removes the object from the primary backend, retrying against
// local on failure. Deleting an absent key never errors.
func (f *Facade) Delete(ctx context.Context, key string) error {
	err := f.primary.Delete(ctx, key)
	if err != nil && f.fallback != nil {
		f.logger.Warn("primary backend delete failed, falling back to local",
			"backend", f.primary.Name(), "key", key, "err", err)
		err = f.fallback.Delete(ctx, key)
	}
	if err != nil {
		return &StorageError{Backend: f.primary.Name(), Key: key, Op: "delete", Err: err}
	}
	// An object written during an earlier fallback lives on the local
	// backend; clear it there too so deletes are complete.
	if f.fallback != nil {
		if ferr := f.fallback.Delete(ctx, key); ferr != nil {
			f.logger.Warn("fallback delete failed", "key", key, "err", ferr)
		}
	}
	return nil
}

// Exists reports whether the object is present on the primary or, for
// fallback-written objects, the local backend.
func (f *Facade) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := f.primary.Exists(ctx, key)
	if err != nil && f.fallback != nil {
		f.logger.Warn("primary backend exists failed, falling back to local",
			"backend", f.primary.Name(), "key", key, "err", err)
		ok, err = f.fallback.Exists(ctx, key)
	}
	if err != nil {
		return false, &StorageError{Backend: f.primary.Name(), Key: key, Op: "exists", Err: err}
	}
	if !ok && f.fallback != nil {
		return f.fallback.Exists(ctx, key)
	}
	return ok, nil
}

// Stat returns rich object metadata. Never falls back: the local backend
// cannot serve it, so a half-applied fallback would only mask drift.
func (f *Facade) Stat(ctx context.Context, key string) (*ObjectMeta, error) {
	meta, err := f.primary.Stat(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotSupported) {
			return nil, err
		}
		return nil, &StorageError{Backend: f.primary.Name(), Key: key, Op: "stat", Err: err}
	}
	return meta, nil
}

// Copy performs a server-side copy. Never falls back, for the same reason
// as Stat.
func (f *Facade) Copy(ctx context.Context, srcKey, dstKey string) error {
	if err := f.primary.Copy(ctx, srcKey, dstKey); err != nil {
		if errors.Is(err, ErrNotSupported) {
			return err
		}
		return &StorageError{Backend: f.primary.Name(), Key: srcKey, Op: "copy", Err: err}
	}
	return nil
}

var _ Service = (*Facade)(nil)
