// Package postgres implements assetrepo.Store on PostgreSQL via pgx.
// The expected schema lives in schema.sql.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mediaforge/assetstore/pkg/assetstore"
	"github.com/mediaforge/assetstore/pkg/assetstore/assetrepo"
	"github.com/mediaforge/assetstore/pkg/assetstore/media"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, so the store can run
// inside a caller-managed transaction.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Store is a PostgreSQL implementation of assetrepo.Store.
type Store struct {
	db DBTX
}

// New creates a store over any DBTX.
func New(db DBTX) *Store {
	return &Store{db: db}
}

// NewWithPool creates a store backed by a connection pool.
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{db: pool}
}

func wrapError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: duplicate entry (%s)", operation, pgErr.ConstraintName)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s: %w", operation, assetrepo.ErrAssetNotFound)
		case "42P01": // undefined_table
			return fmt.Errorf("%s: table missing, apply schema.sql", operation)
		}
	}
	return fmt.Errorf("%s: %w", operation, err)
}

func (s *Store) CreateAsset(ctx context.Context, asset *assetrepo.Asset) error {
	query := `
		INSERT INTO assets (
			id, file_key, backend, filename, content_type, size_bytes,
			checksum, state, failure_reason, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	metaJSON, err := marshalMetadata(asset.Metadata)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	createdAt := asset.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err = s.db.Exec(ctx, query,
		asset.ID, asset.FileKey, asset.Backend, asset.Filename,
		asset.ContentType, asset.SizeBytes, asset.Checksum,
		string(asset.State), asset.FailureReason, metaJSON, createdAt, now)
	if err != nil {
		return wrapError("create asset", err)
	}
	return nil
}

const assetColumns = `
	id, file_key, backend, filename, content_type, size_bytes,
	checksum, state, failure_reason, metadata, created_at, updated_at`

func scanAsset(row pgx.Row) (*assetrepo.Asset, error) {
	var (
		asset    assetrepo.Asset
		state    string
		metaJSON []byte
	)
	err := row.Scan(
		&asset.ID, &asset.FileKey, &asset.Backend, &asset.Filename,
		&asset.ContentType, &asset.SizeBytes, &asset.Checksum,
		&state, &asset.FailureReason, &metaJSON, &asset.CreatedAt, &asset.UpdatedAt)
	if err != nil {
		return nil, err
	}

	asset.State = assetstore.ProcessingState(state)
	if len(metaJSON) > 0 {
		var meta media.Metadata
		if err := json.Unmarshal(metaJSON, &meta); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		asset.Metadata = &meta
	}
	return &asset, nil
}

func (s *Store) GetAsset(ctx context.Context, id uuid.UUID) (*assetrepo.Asset, error) {
	query := `SELECT` + assetColumns + ` FROM assets WHERE id = $1`

	asset, err := scanAsset(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, assetrepo.ErrAssetNotFound
		}
		return nil, wrapError("get asset", err)
	}
	return asset, nil
}

func (s *Store) ListAssets(ctx context.Context, limit, offset int) ([]*assetrepo.Asset, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT` + assetColumns + `
		FROM assets
		ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`

	rows, err := s.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, wrapError("list assets", err)
	}
	defer rows.Close()

	var assets []*assetrepo.Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, wrapError("list assets", err)
		}
		assets = append(assets, asset)
	}
	return assets, rows.Err()
}

func (s *Store) DeleteAsset(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM assets WHERE id = $1`, id)
	if err != nil {
		return wrapError("delete asset", err)
	}
	if tag.RowsAffected() == 0 {
		return assetrepo.ErrAssetNotFound
	}
	return nil
}

func (s *Store) UpdateProcessingState(ctx context.Context, id uuid.UUID, state assetstore.ProcessingState, reason string) error {
	if state != assetstore.ProcessingStateFailed {
		reason = ""
	}
	query := `
		UPDATE assets SET state = $2, failure_reason = $3, updated_at = $4
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, id, string(state), reason, time.Now().UTC())
	if err != nil {
		return wrapError("update processing state", err)
	}
	if tag.RowsAffected() == 0 {
		return assetrepo.ErrAssetNotFound
	}
	return nil
}

func (s *Store) SaveMetadata(ctx context.Context, id uuid.UUID, meta *media.Metadata) error {
	metaJSON, err := marshalMetadata(meta)
	if err != nil {
		return err
	}

	query := `UPDATE assets SET metadata = $2, updated_at = $3 WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, id, metaJSON, time.Now().UTC())
	if err != nil {
		return wrapError("save metadata", err)
	}
	if tag.RowsAffected() == 0 {
		return assetrepo.ErrAssetNotFound
	}
	return nil
}

func (s *Store) CreateVariant(ctx context.Context, v *assetstore.AssetVariant) error {
	query := `
		INSERT INTO asset_variants (
			asset_id, variant_type, file_key, backend, width, height,
			size_bytes, format, quality, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (asset_id, variant_type) DO UPDATE SET
			file_key = EXCLUDED.file_key,
			backend = EXCLUDED.backend,
			width = EXCLUDED.width,
			height = EXCLUDED.height,
			size_bytes = EXCLUDED.size_bytes,
			format = EXCLUDED.format,
			quality = EXCLUDED.quality,
			created_at = EXCLUDED.created_at`

	createdAt := v.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.Exec(ctx, query,
		v.AssetID, v.VariantType, v.FileKey, v.Backend,
		v.Width, v.Height, v.SizeBytes, v.Format, v.Quality, createdAt)
	if err != nil {
		return wrapError("create variant", err)
	}
	return nil
}

func (s *Store) ListVariants(ctx context.Context, assetID uuid.UUID) ([]*assetstore.AssetVariant, error) {
	query := `
		SELECT asset_id, variant_type, file_key, backend, width, height,
			   size_bytes, format, quality, created_at
		FROM asset_variants WHERE asset_id = $1 ORDER BY variant_type`

	rows, err := s.db.Query(ctx, query, assetID)
	if err != nil {
		return nil, wrapError("list variants", err)
	}
	defer rows.Close()

	var variants []*assetstore.AssetVariant
	for rows.Next() {
		var v assetstore.AssetVariant
		if err := rows.Scan(
			&v.AssetID, &v.VariantType, &v.FileKey, &v.Backend,
			&v.Width, &v.Height, &v.SizeBytes, &v.Format, &v.Quality, &v.CreatedAt); err != nil {
			return nil, wrapError("list variants", err)
		}
		variants = append(variants, &v)
	}
	return variants, rows.Err()
}

func (s *Store) DeleteVariants(ctx context.Context, assetID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `DELETE FROM asset_variants WHERE asset_id = $1`, assetID)
	if err != nil {
		return wrapError("delete variants", err)
	}
	return nil
}

func marshalMetadata(meta *media.Metadata) ([]byte, error) {
	if meta == nil {
		return nil, nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return data, nil
}

var _ assetrepo.Store = (*Store)(nil)
