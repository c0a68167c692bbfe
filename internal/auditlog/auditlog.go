// Package auditlog is the operator-facing error log. Writing to it never
// fails or blocks the caller's primary operation.
package auditlog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/inspection-cli/internal/metrics"
	"github.com/sells-group/inspection-cli/internal/model"
)

// Sink accepts error log entries. Implementations swallow their own failures.
type Sink interface {
	Log(ctx context.Context, errorType model.ErrorType, message, entityType, entityID string)
}

// Writer is the store capability needed by StoreSink.
type Writer interface {
	InsertErrorLog(ctx context.Context, e *model.ErrorLogEntry) error
}

// StoreSink writes entries to the store and mirrors them to zap.
type StoreSink struct {
	store   Writer
	metrics *metrics.Metrics
	timeout time.Duration
}

// NewStoreSink creates a StoreSink. m may be nil.
func NewStoreSink(w Writer, m *metrics.Metrics) *StoreSink {
	return &StoreSink{store: w, metrics: m, timeout: 5 * time.Second}
}

// Log implements Sink. The write is detached from ctx cancellation so a
// cancelled request still leaves its trail.
func (s *StoreSink) Log(ctx context.Context, errorType model.ErrorType, message, entityType, entityID string) {
	entry := newEntry(errorType, message, entityType, entityID)
	logEntry(entry)
	s.metrics.IncErrorLog(string(errorType))

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	if err := s.store.InsertErrorLog(writeCtx, entry); err != nil {
		zap.L().Error("auditlog: failed to store entry",
			zap.String("error_type", string(errorType)), zap.Error(err))
	}
}

func newEntry(errorType model.ErrorType, message, entityType, entityID string) *model.ErrorLogEntry {
	return &model.ErrorLogEntry{
		ID:         uuid.NewString(),
		ErrorType:  errorType,
		Message:    message,
		EntityType: entityType,
		EntityID:   entityID,
		CreatedAt:  time.Now().UTC(),
	}
}

func logEntry(e *model.ErrorLogEntry) {
	zap.L().Warn("error log entry",
		zap.String("error_type", string(e.ErrorType)),
		zap.String("entity_type", e.EntityType),
		zap.String("entity_id", e.EntityID),
		zap.String("message", e.Message),
	)
}

// Async hands entries to a background writer. When the buffer is full the
// entry is dropped (it is still logged to zap).
type Async struct {
	next Sink
	ch   chan asyncEntry
	wg   sync.WaitGroup
	once sync.Once
}

type asyncEntry struct {
	ctx                           context.Context
	errorType                     model.ErrorType
	message, entityType, entityID string
}

// NewAsync starts the background writer. Close must be called to flush.
func NewAsync(next Sink, buffer int) *Async {
	if buffer <= 0 {
		buffer = 256
	}
	a := &Async{next: next, ch: make(chan asyncEntry, buffer)}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Async) run() {
	defer a.wg.Done()
	for e := range a.ch {
		a.next.Log(e.ctx, e.errorType, e.message, e.entityType, e.entityID)
	}
}

// Log implements Sink.
func (a *Async) Log(ctx context.Context, errorType model.ErrorType, message, entityType, entityID string) {
	e := asyncEntry{
		ctx:        context.WithoutCancel(ctx),
		errorType:  errorType,
		message:    message,
		entityType: entityType,
		entityID:   entityID,
	}
	select {
	case a.ch <- e:
	default:
		zap.L().Warn("auditlog: buffer full, entry dropped",
			zap.String("error_type", string(errorType)),
			zap.String("entity_id", entityID),
			zap.String("message", message),
		)
	}
}

// Close flushes pending entries and stops the writer. Log must not be
// called after Close.
func (a *Async) Close() {
	a.once.Do(func() {
		close(a.ch)
		a.wg.Wait()
	})
}

// Memory keeps entries in memory. It is used where no store is available.
type Memory struct {
	mu      sync.Mutex
	entries []model.ErrorLogEntry
}

// Log implements Sink.
func (m *Memory) Log(_ context.Context, errorType model.ErrorType, message, entityType, entityID string) {
	e := newEntry(errorType, message, entityType, entityID)
	logEntry(e)
	m.mu.Lock()
	m.entries = append(m.entries, *e)
	m.mu.Unlock()
}

// Entries returns a copy of every entry logged so far.
func (m *Memory) Entries() []model.ErrorLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ErrorLogEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Types returns the error type of every entry in order.
func (m *Memory) Types() []model.ErrorType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ErrorType, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.ErrorType
	}
	return out
}
