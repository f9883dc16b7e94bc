// Package s3 implements the remote storage backend against S3 and
// S3-compatible object stores (MinIO, etc.). Atomicity of Put is delegated
// to the object store's multipart upload semantics; presigned URLs are
// cryptographically signed and require no additional auth.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/mediaforge/assetstore/pkg/assetstore"
)

// Config options for the S3 backend.
type Config struct {
	Region          string // AWS region
	Bucket          string // S3 bucket name
	AccessKeyID     string // Access key; empty uses the default chain
	SecretAccessKey string // Secret key
	Endpoint        string // Optional custom endpoint for S3-compatible services
	UsePathStyle    bool   // Path-style addressing (MinIO)
	PresignExpiry   time.Duration

	// CreateBucketIfNotExist creates the bucket at startup (MinIO/dev).
	CreateBucketIfNotExist bool
}

// Backend is an S3-compatible implementation of the assetstore.Backend contract.
type Backend struct {
	client        *s3.Client
	presignClient *s3.PresignClient
	bucket        string
	presignExpiry time.Duration
}

// New creates an S3 storage backend for cfg.Bucket.
func New(cfg Config) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.PresignExpiry <= 0 {
		cfg.PresignExpiry = time.Hour
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)

	b := &Backend{
		client:        client,
		presignClient: s3.NewPresignClient(client),
		bucket:        cfg.Bucket,
		presignExpiry: cfg.PresignExpiry,
	}

	if cfg.CreateBucketIfNotExist {
		if err := b.ensureBucket(context.Background(), cfg.Region); err != nil {
			return nil, fmt.Errorf("ensure bucket: %w", err)
		}
	}

	return b, nil
}

func (b *Backend) Name() string { return assetstore.BackendRemote }

func (b *Backend) ensureBucket(ctx context.Context, region string) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	if err == nil {
		return nil
	}

	createInput := &s3.CreateBucketInput{Bucket: aws.String(b.bucket)}
	if region != "us-east-1" {
		createInput.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(region),
		}
	}

	if _, err := b.client.CreateBucket(ctx, createInput); err != nil {
		// Existing bucket is fine, including one owned by this account.
		if strings.Contains(err.Error(), "BucketAlreadyExists") ||
			strings.Contains(err.Error(), "BucketAlreadyOwnedByYou") {
			return nil
		}
		return err
	}
	return nil
}

// Put uploads the object via the transfer manager, which handles multipart
// uploads for large bodies.
func (b *Backend) Put(ctx context.Context, key string, r io.Reader, opts assetstore.PutOptions) (*assetstore.StoredObject, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   r,
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if len(opts.Metadata) > 0 {
		input.Metadata = opts.Metadata
	}

	uploader := manager.NewUploader(b.client)
	if _, err := uploader.Upload(ctx, input); err != nil {
		return nil, fmt.Errorf("upload to s3: %w", err)
	}

	// The uploader does not report the byte count; a HEAD round-trip
	// confirms the write and yields the authoritative size.
	head, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("head after upload: %w", err)
	}

	return &assetstore.StoredObject{
		Key:         key,
		Backend:     b.Name(),
		SizeBytes:   aws.ToInt64(head.ContentLength),
		Checksum:    opts.Metadata["checksum"],
		ContentType: opts.ContentType,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Get downloads the object.
func (b *Backend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, assetstore.ErrNotFound
		}
		return nil, fmt.Errorf("get from s3: %w", err)
	}
	return result.Body, nil
}

// Delete removes the object. S3 DeleteObject succeeds on absent keys, which
// gives idempotency for free.
func (b *Backend) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete from s3: %w", err)
	}
	return nil
}

// Exists reports whether the object is present.
func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("head object: %w", err)
	}
	return true, nil
}

// Presign returns a cryptographically signed, time-limited GET URL.
func (b *Backend) Presign(ctx context.Context, key string, opts assetstore.PresignOptions) (string, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}

	if opts.ForceDownload {
		filename := opts.DownloadFilename
		if filename == "" {
			filename = key[strings.LastIndex(key, "/")+1:]
		}
		input.ResponseContentDisposition = aws.String(fmt.Sprintf("attachment; filename=%q", filename))
	} else if opts.DownloadFilename != "" {
		input.ResponseContentDisposition = aws.String(fmt.Sprintf("inline; filename=%q", opts.DownloadFilename))
	}

	expiresIn := opts.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = b.presignExpiry
	}

	result, err := b.presignClient.PresignGetObject(ctx, input, func(po *s3.PresignOptions) {
		po.Expires = expiresIn
	})
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return result.URL, nil
}

// Stat returns rich object metadata from a HEAD request.
func (b *Backend) Stat(ctx context.Context, key string) (*assetstore.ObjectMeta, error) {
	result, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, assetstore.ErrNotFound
		}
		return nil, fmt.Errorf("head object: %w", err)
	}

	meta := &assetstore.ObjectMeta{
		Key:       key,
		SizeBytes: aws.ToInt64(result.ContentLength),
		UpdatedAt: aws.ToTime(result.LastModified),
		ETag:      strings.Trim(aws.ToString(result.ETag), `"`),
		Metadata:  result.Metadata,
	}
	if result.ContentType != nil {
		meta.ContentType = *result.ContentType
	}
	return meta, nil
}

// Copy performs a server-side copy within the bucket.
func (b *Backend) Copy(ctx context.Context, srcKey, dstKey string) error {
	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		CopySource: aws.String(b.bucket + "/" + srcKey),
		Key:        aws.String(dstKey),
	})
	if err != nil {
		if isNotFound(err) {
			return assetstore.ErrNotFound
		}
		return fmt.Errorf("copy object: %w", err)
	}
	return nil
}

// isNotFound classifies S3 miss errors across AWS and S3-compatible services.
func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchKey" || code == "404"
	}
	return false
}

var _ assetstore.Backend = (*Backend)(nil)
