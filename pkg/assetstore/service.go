package assetstore

import (
	"context"
	"io"
)

// Backend is the storage contract implemented by the remote (S3) and local
// (filesystem) backends. Implementations must make Put atomic (no partially
// written object visible to readers) and Delete idempotent. Operations a
// backend cannot support return ErrNotSupported rather than degrading.
type Backend interface {
	// Name returns the backend identifier recorded on stored objects.
	Name() string

	// Put writes the object under key. Either the object is fully readable
	// afterward or it was not created at all.
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (*StoredObject, error)

	// Get opens the object for reading. Returns ErrNotFound if absent.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether the object is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Presign returns a time-limited retrieval URL for the object. The remote
	// backend signs the URL cryptographically; the local backend returns a
	// routed endpoint URL whose handler enforces auth, because a filesystem
	// path cannot carry an expiry.
	Presign(ctx context.Context, key string, opts PresignOptions) (string, error)

	// Stat returns rich object metadata. Local storage returns ErrNotSupported.
	Stat(ctx context.Context, key string) (*ObjectMeta, error)

	// Copy performs a server-side copy. Local storage returns ErrNotSupported.
	Copy(ctx context.Context, srcKey, dstKey string) error
}

// Service is the single storage surface the rest of the system calls. One
// backend is selected at startup; when the remote backend is primary, any
// failing remote operation is retried once against the local backend before
// an error surfaces (see Facade).
type Service interface {
	// Upload persists the buffer and returns the assigned key, the backend
	// that holds the object, its size, checksum and a retrieval URL. Callers
	// must record the returned Backend next to the key: the facade keeps no
	// per-key placement history.
	Upload(ctx context.Context, req UploadRequest) (*UploadResult, error)

	// Put persists the buffer under a caller-chosen key, with the same
	// fallback behavior as Upload. Used for derived objects whose key is a
	// function of the original's.
	Put(ctx context.Context, key string, data []byte, opts PutOptions) (*StoredObject, error)

	// Download mints a time-boxed retrieval URL for the object.
	Download(ctx context.Context, key string, opts PresignOptions) (string, error)

	// Open streams the object's bytes.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object. Idempotent.
	Delete(ctx context.Context, key string) error

	// Exists reports whether the object is present on any backend.
	Exists(ctx context.Context, key string) (bool, error)

	// Stat returns rich object metadata. Fails fast with ErrNotSupported when
	// the primary backend is local; never falls back.
	Stat(ctx context.Context, key string) (*ObjectMeta, error)

	// Copy performs a server-side copy. Fails fast with ErrNotSupported when
	// the primary backend is local; never falls back.
	Copy(ctx context.Context, srcKey, dstKey string) error

	// PrimaryBackend returns the name of the backend selected at startup.
	PrimaryBackend() string
}
