// Package config loads service configuration from the environment and
// assembles the storage facade, asset store and processing pipeline from it.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mediaforge/assetstore/pkg/assetstore"
	"github.com/mediaforge/assetstore/pkg/assetstore/accessurl"
	"github.com/mediaforge/assetstore/pkg/assetstore/assetrepo"
	repomem "github.com/mediaforge/assetstore/pkg/assetstore/assetrepo/memory"
	repopg "github.com/mediaforge/assetstore/pkg/assetstore/assetrepo/postgres"
	"github.com/mediaforge/assetstore/pkg/assetstore/media"
	"github.com/mediaforge/assetstore/pkg/assetstore/pipeline"
	fsstorage "github.com/mediaforge/assetstore/pkg/assetstore/storage/fs"
	s3storage "github.com/mediaforge/assetstore/pkg/assetstore/storage/s3"
)

// Config is the full service configuration, read from environment variables.
type Config struct {
	Server   ServerConfig
	S3       S3Config
	Local    LocalConfig
	Access   AccessConfig
	Pipeline PipelineConfig
	DB       DBConfig
}

type ServerConfig struct {
	Port        string `env:"PORT" env-default:"8080"`
	Environment string `env:"ENVIRONMENT" env-default:"development"`
}

// S3Config selects the remote backend. Leaving the bucket empty disables
// remote storage entirely and the service runs local-only.
type S3Config struct {
	Bucket          string `env:"AWS_S3_BUCKET"`
	Region          string `env:"AWS_S3_REGION" env-default:"us-east-1"`
	AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	Endpoint        string `env:"AWS_S3_ENDPOINT"`
	UsePathStyle    bool   `env:"AWS_S3_USE_PATH_STYLE" env-default:"false"`
	CreateBucket    bool   `env:"AWS_S3_CREATE_BUCKET" env-default:"false"`
}

type LocalConfig struct {
	Root    string `env:"LOCAL_STORAGE_ROOT" env-default:"./data/assets"`
	BaseURL string `env:"LOCAL_BASE_URL" env-default:"http://localhost:8080"`
}

type AccessConfig struct {
	SigningSecret        string `env:"URL_SIGNING_SECRET" env-default:"dev-signing-secret"`
	CDNBaseURL           string `env:"CDN_BASE_URL"`
	PresignExpirySeconds int    `env:"PRESIGN_EXPIRY_SECONDS" env-default:"3600"`

	// JWTSecret enables bearer-token auth on the API and the protected
	// file route. Empty leaves them open (development only).
	JWTSecret string `env:"AUTH_JWT_SECRET"`
}

type PipelineConfig struct {
	Workers            int    `env:"PIPELINE_WORKERS" env-default:"4"`
	QueueSize          int    `env:"PIPELINE_QUEUE_SIZE" env-default:"256"`
	RetryBudget        int    `env:"JOB_RETRY_BUDGET" env-default:"2"`
	JobTimeoutSeconds  int    `env:"JOB_TIMEOUT_SECONDS" env-default:"120"`
	VariantPresets     string `env:"VARIANT_PRESETS" env-default:"thumbnail:200x200:85,preview:640x640:85,web:1280x1280:80,mobile:720x720:75"`
	FFmpegPath         string `env:"FFMPEG_PATH"`
	FFprobePath        string `env:"FFPROBE_PATH"`
	PreviewClipSeconds int    `env:"PREVIEW_CLIP_SECONDS" env-default:"5"`
}

type DBConfig struct {
	// DatabaseURL selects the PostgreSQL asset store; empty keeps the
	// in-memory store (development only).
	DatabaseURL string `env:"DATABASE_URL"`
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints cleanenv cannot express.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("PORT must not be empty")
	}
	if c.Access.SigningSecret == "" {
		return errors.New("URL_SIGNING_SECRET must not be empty")
	}
	if c.Server.Environment == "production" && c.Access.SigningSecret == "dev-signing-secret" {
		return errors.New("URL_SIGNING_SECRET must be set explicitly in production")
	}
	if c.Access.PresignExpirySeconds <= 0 {
		return errors.New("PRESIGN_EXPIRY_SECONDS must be positive")
	}
	if _, err := c.Presets(); err != nil {
		return fmt.Errorf("VARIANT_PRESETS: %w", err)
	}
	return nil
}

// RemoteConfigured reports whether the remote backend is selected.
func (c *Config) RemoteConfigured() bool {
	return c.S3.Bucket != ""
}

// PresignExpiry returns the configured default URL lifetime.
func (c *Config) PresignExpiry() time.Duration {
	return time.Duration(c.Access.PresignExpirySeconds) * time.Second
}

// Presets parses the configured variant preset list.
func (c *Config) Presets() ([]media.Preset, error) {
	return media.ParsePresets(c.Pipeline.VariantPresets)
}

// Signer builds the HMAC signer protecting local-backend URLs.
func (c *Config) Signer() *accessurl.Signer {
	return accessurl.NewSigner(c.Access.SigningSecret, c.PresignExpiry())
}

// BuildService assembles the storage facade. With S3 configured the remote
// backend is primary and the filesystem backend is the fallback; otherwise
// the filesystem backend serves alone.
func (c *Config) BuildService(logger *slog.Logger) (assetstore.Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	local, err := fsstorage.New(fsstorage.Config{
		BaseDir:       c.Local.Root,
		BaseURL:       c.Local.BaseURL,
		Signer:        c.Signer(),
		PresignExpiry: c.PresignExpiry(),
	})
	if err != nil {
		return nil, fmt.Errorf("filesystem backend: %w", err)
	}

	opts := []assetstore.Option{assetstore.WithLogger(logger)}

	if c.RemoteConfigured() {
		remote, err := s3storage.New(s3storage.Config{
			Region:                 c.S3.Region,
			Bucket:                 c.S3.Bucket,
			AccessKeyID:            c.S3.AccessKeyID,
			SecretAccessKey:        c.S3.SecretAccessKey,
			Endpoint:               c.S3.Endpoint,
			UsePathStyle:           c.S3.UsePathStyle,
			PresignExpiry:          c.PresignExpiry(),
			CreateBucketIfNotExist: c.S3.CreateBucket,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 backend: %w", err)
		}
		opts = append(opts, assetstore.WithPrimary(remote), assetstore.WithFallback(local))
	} else {
		opts = append(opts, assetstore.WithPrimary(local))
	}

	if c.Access.CDNBaseURL != "" {
		rewriter, err := accessurl.NewCDNRewriter(c.Access.CDNBaseURL)
		if err != nil {
			return nil, fmt.Errorf("cdn rewriter: %w", err)
		}
		opts = append(opts, assetstore.WithURLRewriter(rewriter))
	}

	return assetstore.New(opts...)
}

// BuildStore assembles the asset store. The returned close func releases the
// database pool; it is a no-op for the in-memory store.
func (c *Config) BuildStore(ctx context.Context) (assetrepo.Store, func(), error) {
	if c.DB.DatabaseURL == "" {
		return repomem.New(), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, c.DB.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("database ping: %w", err)
	}
	return repopg.NewWithPool(pool), pool.Close, nil
}

// BuildPipeline assembles the processing orchestrator (not yet started).
func (c *Config) BuildPipeline(svc assetstore.Service, store assetrepo.Store, logger *slog.Logger, reg prometheus.Registerer) (*pipeline.Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	presets, err := c.Presets()
	if err != nil {
		return nil, err
	}

	opts := []pipeline.Option{
		pipeline.WithWorkers(c.Pipeline.Workers),
		pipeline.WithQueueSize(c.Pipeline.QueueSize),
		pipeline.WithRetryBudget(c.Pipeline.RetryBudget),
		pipeline.WithJobTimeout(time.Duration(c.Pipeline.JobTimeoutSeconds) * time.Second),
		pipeline.WithPresets(presets),
		pipeline.WithFFmpeg(media.NewFFmpeg(c.Pipeline.FFmpegPath, c.Pipeline.FFprobePath, logger)),
		pipeline.WithPreviewClip(0, time.Duration(c.Pipeline.PreviewClipSeconds)*time.Second),
		pipeline.WithLogger(logger),
	}
	if reg != nil {
		opts = append(opts, pipeline.WithMetrics(pipeline.NewMetrics(reg)))
	}

	return pipeline.NewOrchestrator(svc, store, opts...)
}
