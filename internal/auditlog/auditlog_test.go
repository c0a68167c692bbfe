package auditlog

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sells-group/inspection-cli/internal/metrics"
	"github.com/sells-group/inspection-cli/internal/model"
)

type fakeWriter struct {
	mu      sync.Mutex
	entries []*model.ErrorLogEntry
	err     error
	block   chan struct{}
}

func (f *fakeWriter) InsertErrorLog(ctx context.Context, e *model.ErrorLogEntry) error {
	if f.block != nil {
		<-f.block
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return f.err
}

func (f *fakeWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

func TestStoreSink_Log(t *testing.T) {
	w := &fakeWriter{}
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	NewStoreSink(w, m).Log(context.Background(), model.ErrImageAccess, "file not found", model.EntityFinding, "F1")

	require.Len(t, w.entries, 1)
	e := w.entries[0]
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, model.ErrImageAccess, e.ErrorType)
	assert.Equal(t, "file not found", e.Message)
	assert.Equal(t, model.EntityFinding, e.EntityType)
	assert.Equal(t, "F1", e.EntityID)
	assert.False(t, e.CreatedAt.IsZero())
}

func TestStoreSink_SwallowsStoreErrors(t *testing.T) {
	w := &fakeWriter{err: errors.New("disk full")}
	assert.NotPanics(t, func() {
		NewStoreSink(w, nil).Log(context.Background(), model.ErrClassification, "boom", "", "")
	})
}

func TestStoreSink_WritesAfterCancel(t *testing.T) {
	w := &fakeWriter{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	NewStoreSink(w, nil).Log(ctx, model.ErrBatchClassification, "cancelled batch", model.EntityFinding, "F9")
	assert.Equal(t, 1, w.count())
}

func TestAsync_FlushesOnClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	w := &fakeWriter{}
	a := NewAsync(NewStoreSink(w, nil), 16)
	for i := 0; i < 10; i++ {
		a.Log(context.Background(), model.ErrInvalidCategory, "dropped label", model.EntityFinding, "F1")
	}
	a.Close()
	a.Close()

	assert.Equal(t, 10, w.count())
}

func TestAsync_DropsWhenFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	w := &fakeWriter{block: make(chan struct{})}
	a := NewAsync(NewStoreSink(w, nil), 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			a.Log(context.Background(), model.ErrClassification, "x", "", "")
		}
		close(done)
	}()
	<-done // Log never blocks even while the writer is stuck.

	close(w.block)
	a.Close()
	assert.Less(t, w.count(), 5)
	assert.GreaterOrEqual(t, w.count(), 1)
}

func TestMemory(t *testing.T) {
	m := &Memory{}
	m.Log(context.Background(), model.ErrFindingNotFound, "no such finding", model.EntityFinding, "F404")
	m.Log(context.Background(), model.ErrClassification, "timeout", model.EntityFinding, "F1")

	assert.Equal(t, []model.ErrorType{model.ErrFindingNotFound, model.ErrClassification}, m.Types())
	entries := m.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "F404", entries[0].EntityID)
}
