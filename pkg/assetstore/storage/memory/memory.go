// Package memory implements an in-memory storage backend for tests and
// development. It supports the full Backend contract, including the
// operations the filesystem backend rejects.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mediaforge/assetstore/pkg/assetstore"
)

type object struct {
	data        []byte
	contentType string
	metadata    map[string]string
	updatedAt   time.Time
}

// Backend is an in-memory implementation of the assetstore.Backend contract.
type Backend struct {
	mu      sync.RWMutex
	name    string
	objects map[string]object
}

// New creates an in-memory backend named "memory".
func New() *Backend {
	return NewNamed(assetstore.BackendMemory)
}

// NewNamed creates an in-memory backend posing under the given backend name,
// which lets tests stand in for the remote or local backend.
func NewNamed(name string) *Backend {
	return &Backend{
		name:    name,
		objects: make(map[string]object),
	}
}

func (b *Backend) Name() string { return b.name }

func (b *Backend) Put(ctx context.Context, key string, r io.Reader, opts assetstore.PutOptions) (*assetstore.StoredObject, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	meta := make(map[string]string, len(opts.Metadata))
	for k, v := range opts.Metadata {
		meta[k] = v
	}

	b.mu.Lock()
	b.objects[key] = object{
		data:        data,
		contentType: opts.ContentType,
		metadata:    meta,
		updatedAt:   time.Now().UTC(),
	}
	b.mu.Unlock()

	return &assetstore.StoredObject{
		Key:         key,
		Backend:     b.name,
		SizeBytes:   int64(len(data)),
		Checksum:    meta["checksum"],
		ContentType: opts.ContentType,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func (b *Backend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	b.mu.RLock()
	obj, ok := b.objects[key]
	b.mu.RUnlock()

	if !ok {
		return nil, assetstore.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	delete(b.objects, key)
	b.mu.Unlock()
	return nil
}

func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.RLock()
	_, ok := b.objects[key]
	b.mu.RUnlock()
	return ok, nil
}

func (b *Backend) Presign(ctx context.Context, key string, opts assetstore.PresignOptions) (string, error) {
	expiresIn := opts.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = time.Hour
	}
	return fmt.Sprintf("memory://%s/%s?expires=%d", b.name, key, time.Now().Add(expiresIn).Unix()), nil
}

func (b *Backend) Stat(ctx context.Context, key string) (*assetstore.ObjectMeta, error) {
	b.mu.RLock()
	obj, ok := b.objects[key]
	b.mu.RUnlock()

	if !ok {
		return nil, assetstore.ErrNotFound
	}
	return &assetstore.ObjectMeta{
		Key:         key,
		SizeBytes:   int64(len(obj.data)),
		ContentType: obj.contentType,
		UpdatedAt:   obj.updatedAt,
		Metadata:    obj.metadata,
	}, nil
}

func (b *Backend) Copy(ctx context.Context, srcKey, dstKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	obj, ok := b.objects[srcKey]
	if !ok {
		return assetstore.ErrNotFound
	}
	cp := obj
	cp.data = append([]byte(nil), obj.data...)
	cp.updatedAt = time.Now().UTC()
	b.objects[dstKey] = cp
	return nil
}

var _ assetstore.Backend = (*Backend)(nil)
