package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingWorker struct {
	started  chan struct{}
	mu       sync.Mutex
	canceled []string
}

func (w *blockingWorker) Run(ctx context.Context) {
	close(w.started)
	<-ctx.Done()
}

func (w *blockingWorker) Cancel(jobID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.canceled = append(w.canceled, jobID)
	return jobID == "running"
}

type recordingQueue struct {
	mu     sync.Mutex
	items  []string
	err    error
	closed bool
}

func (q *recordingQueue) Enqueue(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.items = append(q.items, jobID)
	return nil
}

func (q *recordingQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

func TestDispatcherRunStartsWorker(t *testing.T) {
	t.Parallel()

	queue := &recordingQueue{}
	w := &blockingWorker{started: make(chan struct{})}
	dispatch := New(queue, w)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	select {
	case <-w.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not start")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
	queue.mu.Lock()
	defer queue.mu.Unlock()
	assert.True(t, queue.closed)
}

func TestDispatcherEnqueue(t *testing.T) {
	t.Parallel()

	queue := &recordingQueue{}
	dispatch := New(queue, &blockingWorker{started: make(chan struct{})})
	require.NoError(t, dispatch.Enqueue(context.Background(), "job-1"))
	assert.Equal(t, []string{"job-1"}, queue.items)
}

func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	dispatch := New(&recordingQueue{err: errors.New("boom")}, nil)
	err := dispatch.Enqueue(context.Background(), "job")
	require.EqualError(t, err, "queue enqueue: boom")
}

func TestDispatcherCancelDelegates(t *testing.T) {
	t.Parallel()

	w := &blockingWorker{started: make(chan struct{})}
	dispatch := New(&recordingQueue{}, w)
	assert.True(t, dispatch.Cancel("running"))
	assert.False(t, dispatch.Cancel("queued"))
	assert.Equal(t, []string{"running", "queued"}, w.canceled)
}
