package usecase

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	auditDomain "github.com/allisson/phivault/internal/audit/domain"
	auditRepository "github.com/allisson/phivault/internal/audit/repository"
)

// mockAuditLogRepository is a mock implementation of AuditLogRepository for testing.
type mockAuditLogRepository struct {
	mock.Mock

	mu     sync.Mutex
	stored []*auditDomain.AuditEvent
}

func (m *mockAuditLogRepository) Create(ctx context.Context, event *auditDomain.AuditEvent) error {
	args := m.Called(ctx, event)
	if args.Error(0) == nil {
		m.mu.Lock()
		m.stored = append(m.stored, event)
		m.mu.Unlock()
	}
	return args.Error(0)
}

func (m *mockAuditLogRepository) CreateBatch(ctx context.Context, events []*auditDomain.AuditEvent) error {
	args := m.Called(ctx, events)
	if args.Error(0) == nil {
		m.mu.Lock()
		m.stored = append(m.stored, events...)
		m.mu.Unlock()
	}
	return args.Error(0)
}

func (m *mockAuditLogRepository) List(
	ctx context.Context,
	from, to time.Time,
	offset, limit int,
) ([]*auditDomain.AuditEvent, error) {
	args := m.Called(ctx, from, to, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*auditDomain.AuditEvent), args.Error(1)
}

func (m *mockAuditLogRepository) CountsByAction(
	ctx context.Context,
	from, to time.Time,
) (map[auditDomain.Action]int64, error) {
	args := m.Called(ctx, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[auditDomain.Action]int64), args.Error(1)
}

func (m *mockAuditLogRepository) SuccessFailureCounts(
	ctx context.Context,
	from, to time.Time,
) (int64, int64, error) {
	args := m.Called(ctx, from, to)
	return args.Get(0).(int64), args.Get(1).(int64), args.Error(2)
}

func (m *mockAuditLogRepository) ActorActivity(
	ctx context.Context,
	from, to time.Time,
) ([]auditRepository.ActorActivity, error) {
	args := m.Called(ctx, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]auditRepository.ActorActivity), args.Error(1)
}

func (m *mockAuditLogRepository) DistinctPHIResourceTypes(
	ctx context.Context,
	from, to time.Time,
) ([]string, error) {
	args := m.Called(ctx, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockAuditLogRepository) storedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stored)
}

// mockAuditSigner is a mock implementation of AuditSigner for testing.
type mockAuditSigner struct {
	mock.Mock
}

func (m *mockAuditSigner) Sign(event *auditDomain.AuditEvent) ([]byte, error) {
	args := m.Called(event)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *mockAuditSigner) Verify(event *auditDomain.AuditEvent) error {
	args := m.Called(event)
	return args.Error(0)
}

// mockTxManager runs the function directly without a real transaction.
type mockTxManager struct {
	mock.Mock
}

func (m *mockTxManager) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	args := m.Called(ctx, fn)
	if args.Error(0) != nil {
		return args.Error(0)
	}
	return fn(ctx)
}

// mockBusinessMetrics records metric calls for assertion.
type mockBusinessMetrics struct {
	mock.Mock
}

func (m *mockBusinessMetrics) RecordOperation(ctx context.Context, domain, operation, status string) {
	m.Called(ctx, domain, operation, status)
}

func (m *mockBusinessMetrics) RecordDuration(
	ctx context.Context,
	domain, operation string,
	duration time.Duration,
	status string,
) {
	m.Called(ctx, domain, operation, duration, status)
}

func (m *mockBusinessMetrics) RecordRotatedRows(ctx context.Context, table string, count int64) {
	m.Called(ctx, table, count)
}

func newTestEvent() *auditDomain.AuditEvent {
	return auditDomain.NewAuditEvent(
		uuid.Must(uuid.NewV7()),
		nil,
		auditDomain.ActionPHIRead,
		"patients",
		"42",
		true,
		auditDomain.SeverityLow,
		nil,
	)
}

func TestAsyncRecorder_Record(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	logger := slog.Default()

	t.Run("event is signed, buffered and flushed", func(t *testing.T) {
		mockRepo := &mockAuditLogRepository{}
		mockSigner := &mockAuditSigner{}
		txManager := &mockTxManager{}

		mockSigner.On("Sign", mock.AnythingOfType("*domain.AuditEvent")).Return([]byte("sig"), nil)
		txManager.On("WithTx", mock.Anything, mock.Anything).Return(nil)
		mockRepo.On("CreateBatch", mock.Anything, mock.Anything).Return(nil)

		recorder := NewAsyncRecorder(RecorderConfig{
			BufferSize:    16,
			FlushInterval: 10 * time.Millisecond,
		}, mockRepo, mockSigner, txManager, nil, logger)

		event := newTestEvent()
		require.NoError(t, recorder.Record(ctx, event))
		assert.Equal(t, []byte("sig"), event.Signature)

		require.NoError(t, recorder.Close(ctx))
		assert.Equal(t, 1, mockRepo.storedCount())
		mockSigner.AssertExpectations(t)
	})

	t.Run("invalid event is refused before signing", func(t *testing.T) {
		mockRepo := &mockAuditLogRepository{}
		mockSigner := &mockAuditSigner{}
		txManager := &mockTxManager{}

		recorder := NewAsyncRecorder(RecorderConfig{}, mockRepo, mockSigner, txManager, nil, logger)
		defer func() { require.NoError(t, recorder.Close(ctx)) }()

		event := newTestEvent()
		event.Metadata = map[string]any{"plaintext": "leaked"}

		err := recorder.Record(ctx, event)
		assert.ErrorIs(t, err, auditDomain.ErrMetadataUnsafe)
		mockSigner.AssertNotCalled(t, "Sign", mock.Anything)
	})

	t.Run("full buffer spills to the fallback queue without blocking", func(t *testing.T) {
		mockRepo := &mockAuditLogRepository{}
		mockSigner := &mockAuditSigner{}
		txManager := &mockTxManager{}
		businessMetrics := &mockBusinessMetrics{}

		mockSigner.On("Sign", mock.AnythingOfType("*domain.AuditEvent")).Return([]byte("sig"), nil)
		mockRepo.On("CreateBatch", mock.Anything, mock.Anything).Return(nil)
		businessMetrics.On("RecordOperation", mock.Anything, "audit", "buffer_overflow", "spilled").Return()

		// Stall the worker inside its first flush so the one-slot buffer
		// stays occupied. An unreachable store must not slow down callers.
		release := make(chan struct{})
		txManager.On("WithTx", mock.Anything, mock.Anything).
			Run(func(mock.Arguments) { <-release }).
			Return(nil)

		recorder := NewAsyncRecorder(RecorderConfig{
			BufferSize:    1,
			BatchSize:     1,
			FlushInterval: time.Hour,
			RetryInterval: time.Hour,
		}, mockRepo, mockSigner, txManager, businessMetrics, logger)

		for i := 0; i < 2; i++ {
			require.NoError(t, recorder.Record(ctx, newTestEvent()))
		}

		start := time.Now()
		require.NoError(t, recorder.Record(ctx, newTestEvent()))
		assert.Less(t, time.Since(start), 250*time.Millisecond)

		close(release)
		require.NoError(t, recorder.Close(ctx))

		// Everything lands through batch writes; no per-event store write
		// ever happens on the caller's goroutine.
		assert.Equal(t, 3, mockRepo.storedCount())
		mockRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		businessMetrics.AssertCalled(t, "RecordOperation", mock.Anything, "audit", "buffer_overflow", "spilled")
	})

	t.Run("full buffer and full fallback queue reject the event", func(t *testing.T) {
		mockRepo := &mockAuditLogRepository{}
		mockSigner := &mockAuditSigner{}
		txManager := &mockTxManager{}
		businessMetrics := &mockBusinessMetrics{}

		mockSigner.On("Sign", mock.AnythingOfType("*domain.AuditEvent")).Return([]byte("sig"), nil)
		mockRepo.On("CreateBatch", mock.Anything, mock.Anything).Return(nil)
		businessMetrics.On("RecordOperation", mock.Anything, "audit", "buffer_overflow", mock.Anything).Return()

		release := make(chan struct{})
		txManager.On("WithTx", mock.Anything, mock.Anything).
			Run(func(mock.Arguments) { <-release }).
			Return(nil)

		recorder := NewAsyncRecorder(RecorderConfig{
			BufferSize:    1,
			FallbackSize:  1,
			BatchSize:     1,
			FlushInterval: time.Hour,
			RetryInterval: time.Hour,
		}, mockRepo, mockSigner, txManager, businessMetrics, logger)

		// Channel, in-flight batch, and fallback queue hold one event each;
		// the fourth record has nowhere to go.
		var rejected error
		for i := 0; i < 4 && rejected == nil; i++ {
			rejected = recorder.Record(ctx, newTestEvent())
		}
		assert.ErrorIs(t, rejected, auditDomain.ErrBacklogFull)
		businessMetrics.AssertCalled(t, "RecordOperation", mock.Anything, "audit", "buffer_overflow", "rejected")

		close(release)
		require.NoError(t, recorder.Close(ctx))
	})

	t.Run("record after close returns ErrRecorderClosed", func(t *testing.T) {
		mockRepo := &mockAuditLogRepository{}
		mockSigner := &mockAuditSigner{}
		txManager := &mockTxManager{}

		mockSigner.On("Sign", mock.AnythingOfType("*domain.AuditEvent")).Return([]byte("sig"), nil)

		recorder := NewAsyncRecorder(RecorderConfig{}, mockRepo, mockSigner, txManager, nil, logger)
		require.NoError(t, recorder.Close(ctx))

		err := recorder.Record(ctx, newTestEvent())
		assert.ErrorIs(t, err, auditDomain.ErrRecorderClosed)
	})
}

func TestAsyncRecorder_Close(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	logger := slog.Default()

	t.Run("drains buffered events", func(t *testing.T) {
		mockRepo := &mockAuditLogRepository{}
		mockSigner := &mockAuditSigner{}
		txManager := &mockTxManager{}

		mockSigner.On("Sign", mock.AnythingOfType("*domain.AuditEvent")).Return([]byte("sig"), nil)
		txManager.On("WithTx", mock.Anything, mock.Anything).Return(nil)
		mockRepo.On("CreateBatch", mock.Anything, mock.Anything).Return(nil)

		recorder := NewAsyncRecorder(RecorderConfig{
			BufferSize:    64,
			FlushInterval: time.Hour,
			RetryInterval: time.Hour,
		}, mockRepo, mockSigner, txManager, nil, logger)

		const total = 25
		for i := 0; i < total; i++ {
			require.NoError(t, recorder.Record(ctx, newTestEvent()))
		}

		require.NoError(t, recorder.Close(ctx))
		assert.Equal(t, total, mockRepo.storedCount())
	})

	t.Run("close is idempotent", func(t *testing.T) {
		mockRepo := &mockAuditLogRepository{}
		mockSigner := &mockAuditSigner{}
		txManager := &mockTxManager{}

		recorder := NewAsyncRecorder(RecorderConfig{}, mockRepo, mockSigner, txManager, nil, logger)
		require.NoError(t, recorder.Close(ctx))
		require.NoError(t, recorder.Close(ctx))
	})

	t.Run("failed batch lands in the fallback queue and drains on close", func(t *testing.T) {
		mockRepo := &mockAuditLogRepository{}
		mockSigner := &mockAuditSigner{}
		txManager := &mockTxManager{}

		mockSigner.On("Sign", mock.AnythingOfType("*domain.AuditEvent")).Return([]byte("sig"), nil)

		// First flush fails, retry during Close succeeds.
		txManager.On("WithTx", mock.Anything, mock.Anything).
			Return(assert.AnError).Once()
		txManager.On("WithTx", mock.Anything, mock.Anything).Return(nil)
		mockRepo.On("CreateBatch", mock.Anything, mock.Anything).Return(nil)

		recorder := NewAsyncRecorder(RecorderConfig{
			BufferSize:    16,
			FlushInterval: time.Hour,
			RetryInterval: time.Hour,
		}, mockRepo, mockSigner, txManager, nil, logger)

		require.NoError(t, recorder.Record(ctx, newTestEvent()))
		require.NoError(t, recorder.Close(ctx))

		assert.Equal(t, 1, mockRepo.storedCount())
	})
}
