// Package pipeline turns one ingest event into a resized rendition and a
// catalog record.
//
// An invocation moves through validate, fetch, resize and
// extract-metadata (run concurrently), persist-rendition and
// persist-metadata. The catalog write commits the invocation: when it
// fails the rendition written just before it is deleted again so no
// rendition exists without its record.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/fpang/licorice/internal/catalog"
	"github.com/fpang/licorice/internal/identity"
	"github.com/fpang/licorice/internal/imaging"
	"github.com/fpang/licorice/internal/metadata"
	"github.com/fpang/licorice/internal/metrics"
	"github.com/fpang/licorice/internal/objectstore"
	"github.com/fpang/licorice/internal/retry"
	"github.com/fpang/licorice/internal/tracing"
)

// Stage names an invocation state.
type Stage string

const (
	StageValidate         Stage = "validate"
	StageFetch            Stage = "fetch"
	StageResize           Stage = "resize"
	StageExtractMetadata  Stage = "extract-metadata"
	StagePersistRendition Stage = "persist-rendition"
	StagePersistMetadata  Stage = "persist-metadata"
	StageDone             Stage = "done"
	StageFailed           Stage = "failed"
)

// Skip reasons reported in Outcome.Reason.
const (
	ReasonSameBucket   = "source bucket is the destination bucket"
	ReasonNoExtension  = "key has no extension"
	ReasonNotJPEG      = "not a jpeg"
	defaultContentType = "image/jpeg"
	compensateTimeout  = 10 * time.Second
)

// DefaultTimeout bounds one invocation when Config.Timeout is zero.
const DefaultTimeout = 45 * time.Second

// Config holds the per-process pipeline settings.
type Config struct {
	TargetBucket string
	Environment  string
	MaxDimension int
	MaxPixels    int
	JPEGQuality  int
	Timeout      time.Duration
	Retry        retry.Policy
}

// Deps are the collaborators a Pipeline calls. Objects and Catalog are
// required; the rest fall back to production defaults when nil.
type Deps struct {
	Objects   objectstore.Store
	Catalog   catalog.Store
	IDs       identity.Generator
	Extractor *metadata.Extractor
	Tracer    trace.Tracer
	// Metrics receives one EMF line per invocation. Nil means stdout.
	Metrics   io.Writer
}

// Outcome is the result of an invocation that did not fail. Skipped
// invocations made no store calls.
type Outcome struct {
	Stage       Stage
	Skipped     bool
	Reason      string
	Destination string
	Width       int
	Height      int
	Record      metadata.Record
}

// Pipeline is safe for concurrent use; it holds no per-invocation state.
type Pipeline struct {
	cfg        Config
	objects    objectstore.Store
	catalog    catalog.Store
	ids        identity.Generator
	extractor  *metadata.Extractor
	tracer     trace.Tracer
	metricsOut io.Writer
}

// New validates deps and applies defaults to cfg.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Objects == nil {
		return nil, errors.New("pipeline: object store is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("pipeline: catalog is required")
	}
	if cfg.TargetBucket == "" {
		return nil, errors.New("pipeline: target bucket is required")
	}
	if cfg.MaxDimension <= 0 {
		cfg.MaxDimension = imaging.DefaultMaxDimension
	}
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = imaging.DefaultMaxPixels
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = imaging.DefaultQuality
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	p := &Pipeline{
		cfg:        cfg,
		objects:    deps.Objects,
		catalog:    deps.Catalog,
		ids:        deps.IDs,
		extractor:  deps.Extractor,
		tracer:     deps.Tracer,
		metricsOut: deps.Metrics,
	}
	if p.ids == nil {
		p.ids = identity.UUIDGenerator{}
	}
	if p.extractor == nil {
		p.extractor = metadata.NewExtractor(nil)
	}
	if p.tracer == nil {
		p.tracer = tracing.Tracer()
	}
	return p, nil
}

// Run processes ev to completion. It returns a skipped Outcome for events
// the policy ignores, a done Outcome once both writes succeeded, or a
// *StageError.
func (p *Pipeline) Run(ctx context.Context, ev IngestEvent) (Outcome, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeoutCause(ctx, p.cfg.Timeout, ErrTimeout)
	defer cancel()

	ctx, span := p.tracer.Start(ctx, "licorice.invocation", trace.WithAttributes(
		attribute.String("licorice.source_bucket", ev.SourceBucket),
		attribute.String("licorice.source_key", ev.SourceKey),
	))
	defer span.End()

	logger := log.With().
		Str("sourceBucket", ev.SourceBucket).
		Str("sourceKey", ev.SourceKey).
		Str("env", p.cfg.Environment).
		Logger()

	rec := metrics.New(metrics.Namespace).Property("sourceKey", ev.SourceKey)
	if p.metricsOut != nil {
		rec.WithWriter(p.metricsOut)
	}

	out, err := p.run(ctx, ev, logger, rec)

	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		rec.Dimension("Outcome", string(StageFailed))
	case out.Skipped:
		rec.Dimension("Outcome", "skipped")
	default:
		rec.Dimension("Outcome", string(StageDone))
	}
	rec.Metric("InvocationMs", float64(time.Since(start).Milliseconds()), metrics.UnitMilliseconds).
		Count("Invocations").
		Flush()
	return out, err
}

func (p *Pipeline) run(ctx context.Context, ev IngestEvent, logger zerolog.Logger, rec *metrics.Recorder) (Outcome, error) {
	ext, reason := p.validate(ev)
	if reason != "" {
		le := logger.Warn()
		if reason == ReasonSameBucket {
			le = logger.Error()
		}
		le.Str("reason", reason).Msg("Skipping object")
		return Outcome{Stage: StageValidate, Skipped: true, Reason: reason}, nil
	}

	dest := p.ids.New(ext)
	logger = logger.With().Str("destKey", dest).Logger()
	fail := func(stage Stage, err error) (Outcome, error) {
		if errors.Is(context.Cause(ctx), ErrTimeout) && !errors.Is(err, ErrTimeout) {
			err = fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		logger.Error().Err(err).Str("stage", string(stage)).Msg("Pipeline failed")
		return Outcome{Stage: StageFailed, Destination: dest}, &StageError{
			Stage:       stage,
			Source:      ev.Source(),
			Destination: p.cfg.TargetBucket + "/" + dest,
			Err:         err,
		}
	}

	var src objectstore.Object
	err := p.stage(ctx, StageFetch, func(ctx context.Context) error {
		return retry.Do(ctx, p.cfg.Retry, "get-source", func(ctx context.Context) error {
			obj, err := p.objects.Get(ctx, ev.SourceBucket, ev.SourceKey)
			if err != nil {
				return err
			}
			src = obj
			return nil
		})
	})
	if err != nil {
		return fail(StageFetch, fmt.Errorf("%w: %w", ErrFetch, err))
	}
	if src.ContentType == "" {
		src.ContentType = defaultContentType
	}
	rec.Metric("SourceBytes", float64(len(src.Body)), metrics.UnitBytes)
	logger.Debug().Int("size", len(src.Body)).Str("contentType", src.ContentType).Msg("Source fetched")

	var (
		rendition []byte
		plan      imaging.Plan
		record    metadata.Record
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.stage(gctx, StageResize, func(context.Context) error {
			asset, err := imaging.NewAsset(src.Body, src.ContentType)
			if err != nil {
				return err
			}
			if err := imaging.CheckPixels(asset, p.cfg.MaxPixels); err != nil {
				return err
			}
			plan = imaging.PlanFor(asset.Width, asset.Height, p.cfg.MaxDimension)
			rendition, err = imaging.Resize(asset, plan, ext, p.cfg.JPEGQuality)
			return err
		})
	})
	g.Go(func() error {
		_ = p.stage(gctx, StageExtractMetadata, func(context.Context) error {
			var err error
			record, err = p.extractor.Extract(src.Body)
			return err
		})
		return nil
	})
	if err := g.Wait(); err != nil {
		return fail(StageResize, err)
	}
	rec.Metric("RenditionBytes", float64(len(rendition)), metrics.UnitBytes)

	err = p.stage(ctx, StagePersistRendition, func(ctx context.Context) error {
		return retry.Do(ctx, p.cfg.Retry, "put-rendition", func(ctx context.Context) error {
			return p.objects.Put(ctx, p.cfg.TargetBucket, dest, objectstore.Object{
				Body:        rendition,
				ContentType: src.ContentType,
			})
		})
	})
	if err != nil {
		return fail(StagePersistRendition, fmt.Errorf("%w: put rendition: %w", ErrStoreWrite, err))
	}

	err = p.stage(ctx, StagePersistMetadata, func(ctx context.Context) error {
		return retry.Do(ctx, p.cfg.Retry, "put-record", func(ctx context.Context) error {
			return p.catalog.PutRecord(ctx, dest, record)
		})
	})
	if err != nil {
		p.compensate(ctx, dest, logger)
		return fail(StagePersistMetadata, fmt.Errorf("%w: put catalog record: %w", ErrStoreWrite, err))
	}

	logger.Info().
		Int("width", plan.TargetWidth).
		Int("height", plan.TargetHeight).
		Msg("Rendition and catalog record stored")

	return Outcome{
		Stage:       StageDone,
		Destination: dest,
		Width:       plan.TargetWidth,
		Height:      plan.TargetHeight,
		Record:      record,
	}, nil
}

// validate returns the key extension, or a non-empty skip reason.
func (p *Pipeline) validate(ev IngestEvent) (ext, reason string) {
	if ev.SourceBucket == p.cfg.TargetBucket {
		return "", ReasonSameBucket
	}
	ext, ok := ev.Extension()
	if !ok || ext == "" {
		return "", ReasonNoExtension
	}
	if !imaging.IsJPEG(ext) {
		return "", ReasonNotJPEG
	}
	return ext, ""
}

// compensate deletes a rendition whose catalog record could not be
// written. It runs detached from the invocation deadline.
func (p *Pipeline) compensate(ctx context.Context, dest string, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()

	err := retry.Do(ctx, p.cfg.Retry, "delete-rendition", func(ctx context.Context) error {
		return p.objects.Delete(ctx, p.cfg.TargetBucket, dest)
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to delete orphaned rendition")
		return
	}
	logger.Warn().Msg("Deleted rendition after catalog write failure")
}

// stage runs fn inside a child span named after s.
func (p *Pipeline) stage(ctx context.Context, s Stage, fn func(context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, "licorice."+string(s))
	defer span.End()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
