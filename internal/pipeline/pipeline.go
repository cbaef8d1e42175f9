package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/outbreak-forecast/internal/domain"
	"github.com/couchcryptid/outbreak-forecast/internal/observability"
	"github.com/jonboulle/clockwork"
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// BatchExtractor reads up to batchSize raw requests from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error)
}

// Transformer converts a raw request into a serialized forecast.
type Transformer interface {
	Transform(ctx context.Context, raw domain.RawEvent) (domain.OutputEvent, error)
}

// BatchLoader writes multiple output events to the destination.
type BatchLoader interface {
	LoadBatch(ctx context.Context, events []domain.OutputEvent) error
}

// Pipeline orchestrates the consume-forecast-publish loop.
type Pipeline struct {
	extractor   BatchExtractor
	transformer Transformer
	loader      BatchLoader
	logger      *slog.Logger
	metrics     *observability.Metrics
	clock       clockwork.Clock
	ready       atomic.Bool
	batchSize   int

	// pending holds requests left over from a batch that hit a transient
	// failure. They are retried before anything new is extracted.
	pending []domain.RawEvent
}

// New creates a Pipeline with the given stages and observability.
func New(e BatchExtractor, t Transformer, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Pipeline {
	return &Pipeline{
		extractor:   e,
		transformer: t,
		loader:      l,
		logger:      logger,
		metrics:     metrics,
		clock:       clockwork.NewRealClock(),
		batchSize:   batchSize,
	}
}

// WithClock replaces the clock used for backoff sleeps and durations.
func (p *Pipeline) WithClock(c clockwork.Clock) *Pipeline {
	p.clock = c
	return p
}

// CheckReadiness returns nil once the pipeline has published at least one forecast.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not published any forecasts yet")
	}
	return nil
}

// Run executes the batch loop until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processBatch(ctx, &backoff) {
			return nil
		}
	}
}

// processBatch runs one cycle. Returns false if the pipeline should stop.
func (p *Pipeline) processBatch(ctx context.Context, backoff *time.Duration) bool {
	start := p.clock.Now()

	batch := p.pending
	p.pending = nil
	if len(batch) == 0 {
		var err error
		batch, err = p.extractor.ExtractBatch(ctx, p.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			p.logger.Error("extract batch failed", "error", err)
			return p.backoffOrStop(ctx, backoff)
		}
		if len(batch) == 0 {
			return ctx.Err() == nil
		}
		p.metrics.RequestsConsumed.Add(float64(len(batch)))
		p.metrics.BatchSize.Observe(float64(len(batch)))
	}

	published, failed := p.transformAndLoad(ctx, batch)
	if published > 0 {
		p.metrics.BatchProcessingDuration.Observe(p.clock.Since(start).Seconds())
		p.ready.Store(true)
	}
	if failed {
		return p.backoffOrStop(ctx, backoff)
	}

	*backoff = initialBackoff
	return true
}

// transformAndLoad forecasts each request in order. Invalid requests are
// skipped and committed. The first transient failure stops the batch: the
// requests before it are published and committed, the rest are kept pending.
func (p *Pipeline) transformAndLoad(ctx context.Context, batch []domain.RawEvent) (published int, failed bool) {
	outBatch := make([]domain.OutputEvent, 0, len(batch))
	done := make([]domain.RawEvent, 0, len(batch))

	for i, raw := range batch {
		out, err := p.transformer.Transform(ctx, raw)
		if err == nil {
			outBatch = append(outBatch, out)
			done = append(done, raw)
			continue
		}
		if errors.Is(err, domain.ErrInvalidRequest) {
			p.logger.Warn("invalid forecast request, skipping message",
				"error", err,
				"topic", raw.Topic,
				"partition", raw.Partition,
				"offset", raw.Offset,
			)
			p.metrics.RequestErrors.Inc()
			done = append(done, raw)
			continue
		}

		if ctx.Err() == nil {
			p.logger.Error("forecast failed, retrying batch remainder",
				"error", err,
				"offset", raw.Offset,
				"remaining", len(batch)-i,
			)
		}
		p.pending = batch[i:]
		failed = true
		break
	}

	if len(outBatch) > 0 {
		if err := p.loader.LoadBatch(ctx, outBatch); err != nil {
			p.logger.Error("publish batch failed", "error", err, "batch_size", len(outBatch))
			// Forecasts are persisted already; re-running the requests yields
			// cache hits, so retry the whole batch.
			p.pending = batch
			return 0, true
		}
		p.metrics.ForecastsPublished.Add(float64(len(outBatch)))
	}

	for _, raw := range done {
		p.commitOffset(ctx, raw)
	}
	return len(outBatch), failed
}

// backoffOrStop sleeps with the current backoff and advances it.
// Returns false if the pipeline should stop.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !p.sleep(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, raw domain.RawEvent) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func (p *Pipeline) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := p.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
