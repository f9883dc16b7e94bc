package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mediaforge/assetstore/pkg/assetstore"
	"github.com/mediaforge/assetstore/pkg/assetstore/assetrepo"
	"github.com/mediaforge/assetstore/pkg/assetstore/filekey"
	"github.com/mediaforge/assetstore/pkg/assetstore/media"
)

var (
	// ErrStopped is returned by Enqueue after the orchestrator shut down.
	ErrStopped = errors.New("pipeline stopped")
)

// Orchestrator owns the job queue, the worker pool and the per-asset state
// machine. Construct with NewOrchestrator, then Start.
type Orchestrator struct {
	svc     assetstore.Service
	store   assetrepo.Store
	ffmpeg  *media.FFmpeg
	presets []media.Preset
	logger  *slog.Logger
	metrics *Metrics

	workers     int
	queueSize   int
	retryBudget int
	jobTimeout  time.Duration
	clipOffset  time.Duration
	clipLength  time.Duration

	queue    chan job
	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu     sync.Mutex
	tracks map[uuid.UUID]*track
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithWorkers sets the worker pool size.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) { o.workers = n }
}

// WithQueueSize sets the queue capacity. Enqueue blocks when it is full.
func WithQueueSize(n int) Option {
	return func(o *Orchestrator) { o.queueSize = n }
}

// WithRetryBudget sets how many times a failed mandatory job is retried.
func WithRetryBudget(n int) Option {
	return func(o *Orchestrator) { o.retryBudget = n }
}

// WithJobTimeout bounds the wall-clock time of a single job run.
func WithJobTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.jobTimeout = d }
}

// WithFFmpeg supplies the video/audio tool wrapper.
func WithFFmpeg(f *media.FFmpeg) Option {
	return func(o *Orchestrator) { o.ffmpeg = f }
}

// WithPresets sets the variant presets rendered by the variant-set job.
func WithPresets(presets []media.Preset) Option {
	return func(o *Orchestrator) { o.presets = presets }
}

// WithPreviewClip configures the video preview sub-clip.
func WithPreviewClip(offset, length time.Duration) Option {
	return func(o *Orchestrator) {
		o.clipOffset = offset
		o.clipLength = length
	}
}

// WithLogger sets the orchestrator's logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics installs Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator creates a stopped orchestrator over the given storage
// service and asset store.
func NewOrchestrator(svc assetstore.Service, store assetrepo.Store, opts ...Option) (*Orchestrator, error) {
	if svc == nil {
		return nil, errors.New("storage service is required")
	}
	if store == nil {
		return nil, errors.New("asset store is required")
	}

	o := &Orchestrator{
		svc:         svc,
		store:       store,
		presets:     media.DefaultPresets(),
		logger:      slog.Default(),
		workers:     DefaultWorkers,
		queueSize:   DefaultQueueSize,
		retryBudget: DefaultRetryBudget,
		jobTimeout:  DefaultJobTimeout,
		clipLength:  5 * time.Second,
		tracks:      make(map[uuid.UUID]*track),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.workers < 1 {
		o.workers = 1
	}
	if o.queueSize < 1 {
		o.queueSize = 1
	}
	if o.metrics == nil {
		o.metrics = NopMetrics()
	}
	if o.ffmpeg == nil {
		o.ffmpeg = media.NewFFmpeg("", "", o.logger)
	}

	o.queue = make(chan job, o.queueSize)
	o.quit = make(chan struct{})
	return o, nil
}

// Start launches the worker pool.
func (o *Orchestrator) Start() {
	for i := 0; i < o.workers; i++ {
		o.wg.Add(1)
		go o.worker()
	}
	o.logger.Info("pipeline started", "workers", o.workers, "queue_size", o.queueSize)
}

// Stop drains queued jobs and waits for in-flight work, bounded by ctx.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.stopOnce.Do(func() { close(o.quit) })

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.logger.Info("pipeline stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pipeline stop: %w", ctx.Err())
	}
}

// Enqueue schedules processing for an asset that was just uploaded. The
// asset transitions to processing immediately; its terminal state is decided
// by the mandatory jobs. Blocks when the queue is full.
func (o *Orchestrator) Enqueue(ctx context.Context, assetID uuid.UUID, filename string) error {
	select {
	case <-o.quit:
		return ErrStopped
	default:
	}

	kind := media.DetectKind(filename)

	jobs := []job{{assetID: assetID, typ: JobMetadata, mandatory: true}}
	switch kind {
	case media.KindImage:
		jobs = append(jobs,
			job{assetID: assetID, typ: JobThumbnail, mandatory: true},
			job{assetID: assetID, typ: JobVariantSet})
	case media.KindVideo:
		jobs = append(jobs,
			job{assetID: assetID, typ: JobThumbnail, mandatory: true},
			job{assetID: assetID, typ: JobVariantSet})
	}

	mandatory := 0
	for _, j := range jobs {
		if j.mandatory {
			mandatory++
		}
	}

	o.mu.Lock()
	o.tracks[assetID] = &track{remaining: mandatory}
	o.mu.Unlock()

	if err := o.store.UpdateProcessingState(ctx, assetID, assetstore.ProcessingStateProcessing, ""); err != nil {
		o.mu.Lock()
		delete(o.tracks, assetID)
		o.mu.Unlock()
		return fmt.Errorf("mark processing: %w", err)
	}

	for _, j := range jobs {
		select {
		case o.queue <- j:
			o.metrics.QueueDepth.Inc()
		case <-o.quit:
			return ErrStopped
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for {
		select {
		case j := <-o.queue:
			o.metrics.QueueDepth.Dec()
			o.run(j)
		case <-o.quit:
			// Drain what is already queued, then exit.
			for {
				select {
				case j := <-o.queue:
					o.metrics.QueueDepth.Dec()
					o.run(j)
				default:
					return
				}
			}
		}
	}
}

func (o *Orchestrator) run(j job) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), o.jobTimeout)
	err := o.execute(ctx, j)
	cancel()

	result := "success"
	if err != nil {
		result = "failure"
	}
	o.metrics.JobsProcessed.WithLabelValues(string(j.typ), result).Inc()
	o.metrics.JobDuration.WithLabelValues(string(j.typ)).Observe(time.Since(start).Seconds())

	if err == nil {
		if j.mandatory {
			o.settleMandatory(j.assetID, nil)
		}
		return
	}

	if !j.mandatory {
		// Best-effort work: record and move on.
		o.logger.Error("best-effort job failed",
			"asset_id", j.assetID, "job", j.typ, "err", err)
		return
	}

	if j.attempt < o.retryBudget {
		backoff := retryBackoffBase << j.attempt
		o.logger.Warn("mandatory job failed, retrying",
			"asset_id", j.assetID, "job", j.typ, "attempt", j.attempt+1, "backoff", backoff, "err", err)
		o.metrics.JobRetries.WithLabelValues(string(j.typ)).Inc()
		j.attempt++
		o.retryLater(j, backoff)
		return
	}

	o.logger.Error("mandatory job exhausted retries",
		"asset_id", j.assetID, "job", j.typ, "attempts", j.attempt+1, "err", err)
	o.settleMandatory(j.assetID, &assetstore.JobError{AssetID: j.assetID, JobType: string(j.typ), Err: err})
}

// retryLater waits out the backoff off-worker so the pool keeps draining,
// then runs the job on the waiting goroutine.
func (o *Orchestrator) retryLater(j job, backoff time.Duration) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		timer := time.NewTimer(backoff)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-o.quit:
			// Shutting down: run the retry now rather than dropping it.
		}
		o.run(j)
	}()
}

// settleMandatory retires one mandatory job and, when it was the last,
// writes the asset's terminal state.
func (o *Orchestrator) settleMandatory(assetID uuid.UUID, jobErr error) {
	o.mu.Lock()
	t, ok := o.tracks[assetID]
	if !ok {
		o.mu.Unlock()
		return
	}
	t.remaining--
	if jobErr != nil && !t.failed {
		t.failed = true
		t.reason = jobErr.Error()
	}
	finished := t.remaining <= 0
	failed, reason := t.failed, t.reason
	if finished {
		delete(o.tracks, assetID)
	}
	o.mu.Unlock()

	if !finished {
		return
	}

	state := assetstore.ProcessingStateCompleted
	if failed {
		state = assetstore.ProcessingStateFailed
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.store.UpdateProcessingState(ctx, assetID, state, reason); err != nil {
		o.logger.Error("record terminal state failed", "asset_id", assetID, "state", state, "err", err)
		return
	}
	o.metrics.AssetsByState.WithLabelValues(string(state)).Inc()
	if failed {
		o.logger.Error("asset processing failed", "asset_id", assetID, "reason", reason)
	} else {
		o.logger.Info("asset processing completed", "asset_id", assetID)
	}
}

func (o *Orchestrator) execute(ctx context.Context, j job) error {
	asset, err := o.store.GetAsset(ctx, j.assetID)
	if err != nil {
		return fmt.Errorf("load asset: %w", err)
	}

	switch j.typ {
	case JobMetadata:
		return o.runMetadata(ctx, asset)
	case JobThumbnail:
		return o.runThumbnail(ctx, asset)
	case JobVariantSet:
		return o.runVariantSet(ctx, asset)
	default:
		return fmt.Errorf("unknown job type %q", j.typ)
	}
}

func (o *Orchestrator) open(ctx context.Context, key string) ([]byte, error) {
	rc, err := o.svc.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (o *Orchestrator) runMetadata(ctx context.Context, asset *assetrepo.Asset) error {
	data, err := o.open(ctx, asset.FileKey)
	if err != nil {
		return fmt.Errorf("open original: %w", err)
	}

	var meta *media.Metadata
	switch media.DetectKind(asset.Filename) {
	case media.KindImage:
		meta, err = media.ExtractImageMetadata(bytes.NewReader(data), asset.Filename, int64(len(data)))
		if err != nil {
			return err
		}

	case media.KindVideo:
		err = media.WithTempFile(bytes.NewReader(data), asset.Filename, func(path string) error {
			var perr error
			meta, perr = o.ffmpeg.ProbeVideo(ctx, path)
			return perr
		})
		if err != nil {
			return err
		}

	case media.KindAudio:
		err = media.WithTempFile(bytes.NewReader(data), asset.Filename, func(path string) error {
			var perr error
			meta, perr = o.ffmpeg.ProbeAudio(ctx, path)
			return perr
		})
		if err != nil {
			return err
		}
		media.ReadAudioTags(bytes.NewReader(data), meta)

	default:
		meta = &media.Metadata{Kind: media.KindOther}
	}

	if err := o.store.SaveMetadata(ctx, asset.ID, meta); err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}
	return nil
}

func (o *Orchestrator) runThumbnail(ctx context.Context, asset *assetrepo.Asset) error {
	data, err := o.open(ctx, asset.FileKey)
	if err != nil {
		return fmt.Errorf("open original: %w", err)
	}

	var rendered *media.RenderedVariant
	switch media.DetectKind(asset.Filename) {
	case media.KindImage:
		rendered, err = media.RenderThumbnail(bytes.NewReader(data), o.thumbnailQuality())
		if err != nil {
			return err
		}

	case media.KindVideo:
		err = media.WithTempFile(bytes.NewReader(data), asset.Filename, func(path string) error {
			var ferr error
			rendered, ferr = o.ffmpeg.Frame(ctx, path, time.Second, 400)
			return ferr
		})
		if err != nil {
			return err
		}

	default:
		return fmt.Errorf("no thumbnail renderer for %q", asset.Filename)
	}

	return o.storeVariant(ctx, asset, VariantThumbnail, rendered)
}

// thumbnailQuality follows the "thumbnail" preset when one is configured.
func (o *Orchestrator) thumbnailQuality() int {
	for _, p := range o.presets {
		if p.Name == VariantThumbnail {
			return p.Quality
		}
	}
	return 85
}

func (o *Orchestrator) runVariantSet(ctx context.Context, asset *assetrepo.Asset) error {
	switch media.DetectKind(asset.Filename) {
	case media.KindImage:
		return o.runImageVariants(ctx, asset)
	case media.KindVideo:
		return o.runPreviewClip(ctx, asset)
	default:
		return nil
	}
}

// runImageVariants renders every configured preset. A preset failure is
// isolated: the remaining presets still render, and the successful ones are
// persisted.
func (o *Orchestrator) runImageVariants(ctx context.Context, asset *assetrepo.Asset) error {
	data, err := o.open(ctx, asset.FileKey)
	if err != nil {
		return fmt.Errorf("open original: %w", err)
	}

	var failures []assetstore.VariantFailure
	for _, preset := range o.presets {
		// The thumbnail rendition is owned by the mandatory thumbnail job.
		if preset.Name == VariantThumbnail {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rendered, err := media.RenderVariant(bytes.NewReader(data), preset)
		if err == nil {
			err = o.storeVariant(ctx, asset, preset.Name, rendered)
		}
		if err != nil {
			o.logger.Warn("variant preset failed",
				"asset_id", asset.ID, "preset", preset.Name, "err", err)
			failures = append(failures, assetstore.VariantFailure{Preset: preset.Name, Err: err})
		}
	}

	if len(failures) > 0 {
		return &assetstore.PartialVariantError{Failures: failures}
	}
	return nil
}

func (o *Orchestrator) runPreviewClip(ctx context.Context, asset *assetrepo.Asset) error {
	data, err := o.open(ctx, asset.FileKey)
	if err != nil {
		return fmt.Errorf("open original: %w", err)
	}

	var clip []byte
	err = media.WithTempFile(bytes.NewReader(data), asset.Filename, func(src string) error {
		out, cleanup, err := media.TempOutputPath(".mp4")
		if err != nil {
			return err
		}
		defer cleanup()

		if err := o.ffmpeg.PreviewClip(ctx, src, out, o.clipOffset, o.clipLength, 480); err != nil {
			return err
		}
		clip, err = os.ReadFile(out)
		return err
	})
	if err != nil {
		return fmt.Errorf("preview clip: %w", err)
	}

	return o.storeVariant(ctx, asset, VariantPreviewClip, &media.RenderedVariant{
		Data:   clip,
		Format: "mp4",
	})
}

// storeVariant writes the rendition next to the original and records it in
// the variant catalog.
func (o *Orchestrator) storeVariant(ctx context.Context, asset *assetrepo.Asset, variantType string, rendered *media.RenderedVariant) error {
	key := filekey.Derive(asset.FileKey, variantType, rendered.Format)

	obj, err := o.svc.Put(ctx, key, rendered.Data, assetstore.PutOptions{
		ContentType: contentTypeFor(rendered.Format),
		Metadata:    map[string]string{"checksum": filekey.Checksum(rendered.Data)},
	})
	if err != nil {
		return fmt.Errorf("store %s: %w", variantType, err)
	}

	variant := &assetstore.AssetVariant{
		AssetID:     asset.ID,
		VariantType: variantType,
		FileKey:     key,
		Backend:     obj.Backend,
		Width:       rendered.Width,
		Height:      rendered.Height,
		SizeBytes:   int64(len(rendered.Data)),
		Format:      rendered.Format,
		Quality:     rendered.Quality,
	}
	if err := o.store.CreateVariant(ctx, variant); err != nil {
		return fmt.Errorf("record %s: %w", variantType, err)
	}
	return nil
}

// PurgeAsset removes the asset, its variants and every backing stored
// object. Variant objects go first so a partial purge never strands
// unreachable renditions behind a deleted record.
func (o *Orchestrator) PurgeAsset(ctx context.Context, assetID uuid.UUID) error {
	asset, err := o.store.GetAsset(ctx, assetID)
	if err != nil {
		return err
	}

	variants, err := o.store.ListVariants(ctx, assetID)
	if err != nil {
		return fmt.Errorf("list variants: %w", err)
	}
	for _, v := range variants {
		if err := o.svc.Delete(ctx, v.FileKey); err != nil {
			return fmt.Errorf("delete variant object %s: %w", v.FileKey, err)
		}
	}
	if err := o.store.DeleteVariants(ctx, assetID); err != nil {
		return fmt.Errorf("delete variant records: %w", err)
	}

	if err := o.svc.Delete(ctx, asset.FileKey); err != nil {
		return fmt.Errorf("delete original object: %w", err)
	}
	return o.store.DeleteAsset(ctx, assetID)
}

func contentTypeFor(format string) string {
	switch format {
	case "jpeg", "jpg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "webp":
		return "image/webp"
	case "mp4":
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}
