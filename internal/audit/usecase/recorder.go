package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	auditDomain "github.com/allisson/phivault/internal/audit/domain"
	auditService "github.com/allisson/phivault/internal/audit/service"
	"github.com/allisson/phivault/internal/database"
	"github.com/allisson/phivault/internal/metrics"
)

// RecorderConfig holds async recorder tuning.
type RecorderConfig struct {
	BufferSize    int
	FallbackSize  int
	BatchSize     int
	FlushInterval time.Duration
	RetryInterval time.Duration
}

// AsyncRecorder persists audit events through a buffered channel and a single
// worker goroutine, so audited operations do not pay a database round trip per
// event. When the buffer is full the event spills into a bounded retry queue,
// where failed batch writes also land. The caller never waits on the audit
// store. Events are signed before they enter the pipeline, never after.
type AsyncRecorder struct {
	config    RecorderConfig
	repo      AuditLogRepository
	signer    auditService.AuditSigner
	txManager database.TxManager
	metrics   metrics.BusinessMetrics
	logger    *slog.Logger

	events chan *auditDomain.AuditEvent
	done   chan struct{}

	mu     sync.RWMutex
	closed bool

	fallbackMu sync.Mutex
	fallback   []*auditDomain.AuditEvent
}

// NewAsyncRecorder creates the recorder and starts its worker goroutine.
// Callers must Close it to drain buffered events.
func NewAsyncRecorder(
	config RecorderConfig,
	repo AuditLogRepository,
	signer auditService.AuditSigner,
	txManager database.TxManager,
	businessMetrics metrics.BusinessMetrics,
	logger *slog.Logger,
) *AsyncRecorder {
	if businessMetrics == nil {
		businessMetrics = metrics.NewNoOpBusinessMetrics()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 1024
	}
	if config.FallbackSize <= 0 {
		config.FallbackSize = 4096
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 1 * time.Second
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = 10 * time.Second
	}

	r := &AsyncRecorder{
		config:    config,
		repo:      repo,
		signer:    signer,
		txManager: txManager,
		metrics:   businessMetrics,
		logger:    logger,
		events:    make(chan *auditDomain.AuditEvent, config.BufferSize),
		done:      make(chan struct{}),
	}

	go r.worker()

	return r
}

// Record validates, signs, and enqueues an audit event. It never waits on the
// audit store: when the buffer is full the event spills into the bounded
// fallback queue, and only when that is also full does the event fail with
// ErrBacklogFull. Invalid events are refused before signing.
func (r *AsyncRecorder) Record(ctx context.Context, event *auditDomain.AuditEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}

	signature, err := r.signer.Sign(event)
	if err != nil {
		return err
	}
	event.Signature = signature

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return auditDomain.ErrRecorderClosed
	}

	select {
	case r.events <- event:
		return nil
	default:
	}

	// Buffer full. The event spills to the retry queue instead of making
	// the caller wait on a store write.
	if err := r.enqueueFallback(event); err != nil {
		r.metrics.RecordOperation(ctx, "audit", "buffer_overflow", "rejected")
		r.logger.Error("audit buffer and fallback queue full, event rejected",
			slog.String("event_id", event.ID.String()),
		)
		return err
	}

	r.metrics.RecordOperation(ctx, "audit", "buffer_overflow", "spilled")
	r.logger.Error("audit buffer full, event spilled to fallback queue",
		slog.String("event_id", event.ID.String()),
	)
	return nil
}

// Close stops accepting events, drains the buffer and the fallback queue, and
// waits for the worker to exit. Bounded by the supplied context.
func (r *AsyncRecorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.events)
	r.mu.Unlock()

	select {
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return r.drainFallback(ctx)
}

func (r *AsyncRecorder) worker() {
	defer close(r.done)

	flushTicker := time.NewTicker(r.config.FlushInterval)
	defer flushTicker.Stop()
	retryTicker := time.NewTicker(r.config.RetryInterval)
	defer retryTicker.Stop()

	batch := make([]*auditDomain.AuditEvent, 0, r.config.BatchSize)

	for {
		select {
		case event, ok := <-r.events:
			if !ok {
				r.flush(batch)
				return
			}
			batch = append(batch, event)
			if len(batch) >= r.config.BatchSize {
				r.flush(batch)
				batch = batch[:0]
			}
		case <-flushTicker.C:
			r.flush(batch)
			batch = batch[:0]
		case <-retryTicker.C:
			if err := r.drainFallback(context.Background()); err != nil {
				r.logger.Error("audit fallback retry failed", slog.Any("error", err))
			}
		}
	}
}

// flush writes a batch atomically. On failure the batch moves to the fallback
// queue instead of being discarded.
func (r *AsyncRecorder) flush(batch []*auditDomain.AuditEvent) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := r.txManager.WithTx(ctx, func(ctx context.Context) error {
		return r.repo.CreateBatch(ctx, batch)
	})
	if err != nil {
		r.logger.Error("audit batch write failed, queuing for retry",
			slog.Int("count", len(batch)),
			slog.Any("error", err),
		)
		for _, event := range batch {
			if qerr := r.enqueueFallback(event); qerr != nil {
				r.logger.Error("audit event lost",
					slog.String("event_id", event.ID.String()),
					slog.Any("error", qerr),
				)
			}
		}
	}
}

// enqueueFallback adds an event to the bounded retry queue.
func (r *AsyncRecorder) enqueueFallback(event *auditDomain.AuditEvent) error {
	r.fallbackMu.Lock()
	defer r.fallbackMu.Unlock()

	if len(r.fallback) >= r.config.FallbackSize {
		return auditDomain.ErrBacklogFull
	}
	r.fallback = append(r.fallback, event)
	return nil
}

// drainFallback retries every queued event. Events that still fail stay
// queued for the next retry tick.
func (r *AsyncRecorder) drainFallback(ctx context.Context) error {
	r.fallbackMu.Lock()
	pending := r.fallback
	r.fallback = nil
	r.fallbackMu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	err := r.txManager.WithTx(ctx, func(ctx context.Context) error {
		return r.repo.CreateBatch(ctx, pending)
	})
	if err != nil {
		r.fallbackMu.Lock()
		r.fallback = append(pending, r.fallback...)
		r.fallbackMu.Unlock()
		return err
	}

	r.logger.Info("audit fallback queue drained", slog.Int("count", len(pending)))
	return nil
}
