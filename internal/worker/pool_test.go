package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingHandler 记录执行顺序和并发度
type recordingHandler struct {
	mu      sync.Mutex
	order   []string
	running int
	peak    int
	delay   time.Duration
	fail    map[string]error
}

func (h *recordingHandler) Execute(ctx context.Context, buildID string) error {
	h.mu.Lock()
	h.running++
	if h.running > h.peak {
		h.peak = h.running
	}
	h.order = append(h.order, buildID)
	h.mu.Unlock()

	time.Sleep(h.delay)

	h.mu.Lock()
	h.running--
	h.mu.Unlock()
	return h.fail[buildID]
}

func TestPool_RunsBuildsOneAtATime(t *testing.T) {
	h := &recordingHandler{delay: 10 * time.Millisecond}
	pool := NewPool(8, h, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, pool.Dispatch(ctx, id))
	}
	require.NoError(t, pool.SubmitAndWait(ctx, &Task{BuildID: "d"}))
	pool.Stop()

	assert.Equal(t, []string{"a", "b", "c", "d"}, h.order)
	assert.Equal(t, 1, h.peak)
}

func TestPool_SubmitAndWaitReturnsError(t *testing.T) {
	boom := errors.New("boom")
	h := &recordingHandler{fail: map[string]error{"x": boom}}
	pool := NewPool(1, h, quietLogger())
	ctx := context.Background()
	pool.Start(ctx)
	defer pool.Stop()

	assert.ErrorIs(t, pool.SubmitAndWait(ctx, &Task{BuildID: "x"}), boom)
}

func TestPool_QueueFull(t *testing.T) {
	// 未启动 worker，队列不会被消费
	pool := NewPool(1, &recordingHandler{}, quietLogger())

	require.NoError(t, pool.Dispatch(context.Background(), "a"))
	assert.ErrorIs(t, pool.Dispatch(context.Background(), "b"), ErrQueueFull)
	assert.Equal(t, 1, pool.GetQueueSize())

	size, active, queued := pool.Stats()
	assert.Equal(t, 1, size)
	assert.Equal(t, 0, active)
	assert.Equal(t, 1, queued)
}

func TestPool_SubmitAfterStop(t *testing.T) {
	pool := NewPool(1, &recordingHandler{}, quietLogger())
	pool.Start(context.Background())
	pool.Stop()
	pool.Stop()

	assert.ErrorIs(t, pool.Dispatch(context.Background(), "a"), ErrPoolStopped)
}

func TestPool_StopSkipsQueuedBuilds(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	h := &blockingHandler{started: started, release: release}
	pool := NewPool(4, h, quietLogger())
	pool.Start(context.Background())

	require.NoError(t, pool.Dispatch(context.Background(), "a"))
	<-started
	require.NoError(t, pool.Dispatch(context.Background(), "b"))

	stopped := make(chan struct{})
	go func() {
		pool.Stop()
		close(stopped)
	}()
	// Stop 设置标志后再放行当前构建
	require.Eventually(t, pool.isStopped, time.Second, 5*time.Millisecond)
	close(release)
	<-stopped

	assert.Equal(t, []string{"a"}, h.executed())
}

type blockingHandler struct {
	mu      sync.Mutex
	ids     []string
	started chan struct{}
	release chan struct{}
}

func (h *blockingHandler) Execute(ctx context.Context, buildID string) error {
	h.mu.Lock()
	h.ids = append(h.ids, buildID)
	h.mu.Unlock()
	if buildID == "a" {
		close(h.started)
		<-h.release
	}
	return nil
}

func (h *blockingHandler) executed() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.ids...)
}
