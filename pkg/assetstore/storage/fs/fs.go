// Package fs implements the local filesystem storage backend.
//
// Writes are atomic: content goes to a temp file in the target directory and
// is renamed into place, so readers never observe a partial object. Presigned
// access is asymmetric with the remote backend by design: a filesystem path
// cannot carry an expiry, so Presign returns a routed endpoint URL signed
// with an HMAC that the serving process validates.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mediaforge/assetstore/pkg/assetstore"
	"github.com/mediaforge/assetstore/pkg/assetstore/accessurl"
)

// Config options for the filesystem backend.
type Config struct {
	// BaseDir is the storage root. Created if absent.
	BaseDir string

	// BaseURL prefixes routed retrieval URLs, e.g. "http://localhost:8080".
	// Empty means URLs are relative to the serving host.
	BaseURL string

	// Signer signs routed retrieval URLs. Required for Presign.
	Signer *accessurl.Signer

	// PresignExpiry is the default validity of signed URLs.
	PresignExpiry time.Duration
}

// Backend is a filesystem implementation of the assetstore.Backend contract.
type Backend struct {
	baseDir       string
	baseURL       string
	signer        *accessurl.Signer
	presignExpiry time.Duration
}

// New creates a filesystem storage backend rooted at cfg.BaseDir.
func New(cfg Config) (*Backend, error) {
	if cfg.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}
	if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	if cfg.PresignExpiry <= 0 {
		cfg.PresignExpiry = time.Hour
	}

	return &Backend{
		baseDir:       cfg.BaseDir,
		baseURL:       strings.TrimSuffix(cfg.BaseURL, "/"),
		signer:        cfg.Signer,
		presignExpiry: cfg.PresignExpiry,
	}, nil
}

func (b *Backend) Name() string { return assetstore.BackendLocal }

// Put writes the object to a temp file and renames it into place.
func (b *Backend) Put(ctx context.Context, key string, r io.Reader, opts assetstore.PutOptions) (*assetstore.StoredObject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	targetPath, err := b.resolve(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(targetPath), ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmpPath, targetPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("rename temp file: %w", err)
	}

	return &assetstore.StoredObject{
		Key:         key,
		Backend:     b.Name(),
		SizeBytes:   n,
		Checksum:    opts.Metadata["checksum"],
		ContentType: opts.ContentType,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Get opens the object for reading.
func (b *Backend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := b.resolve(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, assetstore.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return file, nil
}

// Delete removes the object and prunes empty parent directories. Deleting
// an absent key is not an error.
func (b *Backend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := b.resolve(key)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("delete file: %w", err)
	}

	b.pruneEmptyDirs(filepath.Dir(path))
	return nil
}

// Exists reports whether the object is present.
func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	path, err := b.resolve(key)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat file: %w", err)
	}
	return true, nil
}

// Presign returns a signed URL pointing at the routed retrieval endpoint.
// Public URLs route through /files/public/ and skip request auth; protected
// URLs route through /files/ where the serving handler enforces it. Both
// carry the HMAC signature and expiry.
func (b *Backend) Presign(ctx context.Context, key string, opts assetstore.PresignOptions) (string, error) {
	if b.signer == nil {
		return "", errors.New("filesystem backend has no url signer configured")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	route := "/files/"
	if opts.PublicAccess {
		route = "/files/public/"
	}
	path := route + key

	query := url.Values{}
	if opts.ForceDownload {
		query.Set("download", "1")
	}
	if opts.DownloadFilename != "" {
		query.Set("filename", opts.DownloadFilename)
	}
	if len(query) > 0 {
		path = path + "?" + query.Encode()
	}

	expiresIn := opts.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = b.presignExpiry
	}

	signed, err := b.signer.Sign(path, expiresIn)
	if err != nil {
		return "", fmt.Errorf("sign url: %w", err)
	}
	return b.baseURL + signed, nil
}

// Stat is not supported: local storage keeps no rich object metadata.
func (b *Backend) Stat(ctx context.Context, key string) (*assetstore.ObjectMeta, error) {
	return nil, fmt.Errorf("%w: stat on local storage", assetstore.ErrNotSupported)
}

// Copy is not supported: there is no server-side copy on local storage.
func (b *Backend) Copy(ctx context.Context, srcKey, dstKey string) error {
	return fmt.Errorf("%w: copy on local storage", assetstore.ErrNotSupported)
}

// resolve maps a key to an absolute path under baseDir, rejecting traversal.
func (b *Backend) resolve(key string) (string, error) {
	if key == "" {
		return "", errors.New("key is empty")
	}
	path := filepath.Join(b.baseDir, filepath.FromSlash(key))
	if !strings.HasPrefix(path, filepath.Clean(b.baseDir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("key escapes storage root: %s", key)
	}
	return path, nil
}

func (b *Backend) pruneEmptyDirs(dir string) {
	for dir != b.baseDir {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if os.Remove(dir) != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

var _ assetstore.Backend = (*Backend)(nil)
