package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/pixelmask/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	StageFetchSource = "fetch_source"
	StageObscure     = "obscure"
	StageResolveLogo = "resolve_logo"
	StagePrepareLogo = "prepare_logo"
	StageComposite   = "composite"
)

type Request struct {
	RequestID string
	Params    domain.Params
}

type Result struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
	SourceBytes int
	LogoWidth   int
	LogoHeight  int
}

type SourceFetcher interface {
	FetchImage(ctx context.Context, endpoint string) ([]byte, error)
}

// StageObserver is told how long each stage took and whether it failed.
type StageObserver interface {
	ObserveStage(stage string, elapsed time.Duration, err error)
}

type Processor struct {
	sources     SourceFetcher
	logos       LogoResolver
	transformer Transformer
	observer    StageObserver
	maxPixels   int64
	tracer      trace.Tracer
}

type Option func(*Processor)

func WithObserver(observer StageObserver) Option {
	return func(p *Processor) {
		p.observer = observer
	}
}

// WithMaxPixels caps the decoded size of every image the default backend
// handles. Zero or less keeps DefaultMaxPixels.
func WithMaxPixels(limit int64) Option {
	return func(p *Processor) {
		p.maxPixels = limit
	}
}

func WithTransformer(transformer Transformer) Option {
	return func(p *Processor) {
		p.transformer = transformer
	}
}

func NewProcessor(sources SourceFetcher, logos LogoResolver, opts ...Option) (*Processor, error) {
	if sources == nil {
		return nil, errors.New("source fetcher is required")
	}
	if logos == nil {
		return nil, errors.New("logo resolver is required")
	}

	p := &Processor{
		sources: sources,
		logos:   logos,
		tracer:  otel.Tracer("pixelmask/pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.transformer == nil {
		transformer, err := newTransformer(p.maxPixels)
		if err != nil {
			return nil, fmt.Errorf("build transformer: %w", err)
		}
		p.transformer = transformer
	}
	return p, nil
}

// Process runs the five stages in order. Any failure ends the request; the
// returned error carries one of the domain sentinels.
func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	params := req.Params
	if err := params.Validate(); err != nil {
		return Result{}, err
	}

	var (
		source   []byte
		base     Encoded
		logoRaw  []byte
		logo     Encoded
		composed Encoded
	)

	err := p.runStage(ctx, StageFetchSource, func(ctx context.Context) error {
		var err error
		source, err = p.sources.FetchImage(ctx, params.URL)
		if err != nil {
			return fmt.Errorf("fetch source: %w", err)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	sourceBytes := len(source)

	err = p.runStage(ctx, StageObscure, func(ctx context.Context) error {
		var err error
		base, err = p.transformer.Obscure(ctx, source, params.Obscure())
		if err != nil {
			return processingError(StageObscure, err)
		}
		return nil
	})
	source = nil
	if err != nil {
		return Result{}, err
	}

	err = p.runStage(ctx, StageResolveLogo, func(ctx context.Context) error {
		var err error
		logoRaw, err = p.logos.Resolve(ctx, params.LogoURL)
		if err != nil {
			return fmt.Errorf("resolve logo: %w", err)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	mark := domain.NewCompositeSpec(params, domain.ShorterSide(base.Width, base.Height))
	err = p.runStage(ctx, StagePrepareLogo, func(ctx context.Context) error {
		var err error
		logo, err = p.transformer.PrepareLogo(ctx, logoRaw, mark)
		if err != nil {
			return processingError(StagePrepareLogo, err)
		}
		return nil
	})
	logoRaw = nil
	if err != nil {
		return Result{}, err
	}

	err = p.runStage(ctx, StageComposite, func(ctx context.Context) error {
		var err error
		composed, err = p.transformer.Composite(ctx, base.Data, logo.Data)
		if err != nil {
			return processingError(StageComposite, err)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	return Result{
		Data:        composed.Data,
		ContentType: contentTypeForFormat(composed.Format),
		Width:       composed.Width,
		Height:      composed.Height,
		SourceBytes: sourceBytes,
		LogoWidth:   logo.Width,
		LogoHeight:  logo.Height,
	}, nil
}

func (p *Processor) runStage(ctx context.Context, stage string, fn func(context.Context) error) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	ctx, span := p.tracer.Start(ctx, "pipeline."+stage, trace.WithAttributes(attribute.String("pipeline.stage", stage)))
	defer span.End()

	startedAt := time.Now()
	err := fn(ctx)
	if p.observer != nil {
		p.observer.ObserveStage(stage, time.Since(startedAt), err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, stage+" failed")
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// processingError keeps context cancellation distinguishable from codec
// failures.
func processingError(stage string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &domain.ProcessingError{Stage: stage, Err: err}
}
