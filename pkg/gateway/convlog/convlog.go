package convlog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/brightfold/voicegate/pkg/gateway/store"
)

// Sink is the bulk-write side of the storage layer.
type Sink interface {
	InsertTurns(ctx context.Context, turns []store.Turn) error
}

// Metrics receives flush counters; nil-safe.
type Metrics interface {
	RecordFlush(turns int)
	RecordFlushFailure()
}

type Config struct {
	// MaxBatchSize triggers a flush when the queue reaches it.
	MaxBatchSize int
	// FlushInterval triggers a flush when it elapses since the last one.
	FlushInterval time.Duration
	// WriteTimeout bounds a single bulk write.
	WriteTimeout time.Duration
}

// Logger buffers conversation turns in an in-memory ordered queue and
// flushes them in batches. The queue is owned exclusively by this instance;
// no other component mutates it.
type Logger struct {
	sink    Sink
	cfg     Config
	logger  *slog.Logger
	metrics Metrics

	mu    sync.Mutex
	queue []store.Turn

	flushCh chan struct{}
}

func New(sink Sink, cfg Config, logger *slog.Logger, metrics Metrics) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Logger{
		sink:    sink,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		flushCh: make(chan struct{}, 1),
	}
}

// LogTurn enqueues one turn. Returns true once the entry is accepted into
// the queue; durability follows on the next flush.
func (l *Logger) LogTurn(turn store.Turn) bool {
	l.mu.Lock()
	l.queue = append(l.queue, turn)
	full := len(l.queue) >= l.cfg.MaxBatchSize
	l.mu.Unlock()

	if full {
		// Nudge the run loop; non-blocking so the hot path never waits on
		// storage.
		select {
		case l.flushCh <- struct{}{}:
		default:
		}
	}
	return true
}

// Run flushes on the timer or on batch-size nudges until the context is
// cancelled. A final flush runs on the way out.
func (l *Logger) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), l.cfg.WriteTimeout)
			_ = l.Flush(flushCtx)
			cancel()
			return
		case <-ticker.C:
			_ = l.Flush(ctx)
		case <-l.flushCh:
			_ = l.Flush(ctx)
		}
	}
}

// Flush swaps the pending queue for an empty one and attempts a single bulk
// write. On failure the batch is prepended back onto the live queue, ahead
// of anything enqueued meanwhile, so nothing is lost and the next tick
// retries naturally. There is no retry loop here.
func (l *Logger) Flush(ctx context.Context) error {
	l.mu.Lock()
	if len(l.queue) == 0 {
		l.mu.Unlock()
		return nil
	}
	batch := l.queue
	l.queue = nil
	l.mu.Unlock()

	writeCtx, cancel := context.WithTimeout(ctx, l.cfg.WriteTimeout)
	err := l.sink.InsertTurns(writeCtx, batch)
	cancel()

	if err != nil {
		l.mu.Lock()
		l.queue = append(batch, l.queue...)
		l.mu.Unlock()
		if l.metrics != nil {
			l.metrics.RecordFlushFailure()
		}
		l.logger.Error("turn flush failed, batch requeued",
			"batch_size", len(batch), "err", err)
		return err
	}

	if l.metrics != nil {
		l.metrics.RecordFlush(len(batch))
	}
	return nil
}

// FinalizeSession forces an immediate flush so a finished session's turns
// are durable before the cost record is written.
func (l *Logger) FinalizeSession(ctx context.Context) error {
	return l.Flush(ctx)
}

// Pending reports the current queue depth.
func (l *Logger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}
