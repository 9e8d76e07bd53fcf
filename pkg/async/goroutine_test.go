package async

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invoicely/gatekeeper/pkg/observability"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testLogger() (*observability.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return observability.NewLogger(observability.DebugLevel, buf), buf
}

func TestSafeGo_Success(t *testing.T) {
	logger, _ := testLogger()
	done := make(chan struct{})

	SafeGo(context.Background(), logger, time.Second, "test task", func(ctx context.Context) error {
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SafeGo did not execute function")
	}
}

func TestSafeGo_ErrorIsLogged(t *testing.T) {
	logger, buf := testLogger()

	SafeGo(context.Background(), logger, time.Second, "failing task", func(ctx context.Context) error {
		return errors.New("test error")
	})

	assert.Eventually(t, func() bool {
		return bytes.Contains([]byte(buf.String()), []byte("test error"))
	}, time.Second, 10*time.Millisecond)
}

func TestSafeGo_PanicRecovery(t *testing.T) {
	logger, buf := testLogger()

	SafeGo(context.Background(), logger, time.Second, "panicking task", func(ctx context.Context) error {
		panic("test panic")
	})

	assert.Eventually(t, func() bool {
		return bytes.Contains([]byte(buf.String()), []byte("PANIC recovered"))
	}, time.Second, 10*time.Millisecond)
}

func TestSafeGo_Timeout(t *testing.T) {
	logger, _ := testLogger()
	cancelled := make(chan struct{})

	SafeGo(context.Background(), logger, 20*time.Millisecond, "slow task", func(ctx context.Context) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("task context was not cancelled by timeout")
	}
}

func TestWorkerPool_RunsTasks(t *testing.T) {
	logger, _ := testLogger()
	pool := NewWorkerPool(context.Background(), PoolConfig{Workers: 3, QueueSize: 10, TaskName: "test", Logger: logger})

	var count atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
			count.Add(1)
			return nil
		}))
	}

	require.NoError(t, pool.Shutdown(context.Background()))
	assert.Equal(t, int32(10), count.Load())
}

func TestWorkerPool_ErrorsReachHandlerNotCaller(t *testing.T) {
	logger, _ := testLogger()
	var handled atomic.Int32
	pool := NewWorkerPool(context.Background(), PoolConfig{
		Workers:  1,
		TaskName: "test",
		Logger:   logger,
		OnError: func(taskName string, err error) {
			assert.Equal(t, "test", taskName)
			handled.Add(1)
		},
	})

	require.NoError(t, pool.TrySubmit(func(ctx context.Context) error { return errors.New("sink down") }))
	require.NoError(t, pool.TrySubmit(func(ctx context.Context) error { panic("boom") }))
	require.NoError(t, pool.Shutdown(context.Background()))

	assert.Equal(t, int32(2), handled.Load())
}

func TestWorkerPool_TrySubmitQueueFull(t *testing.T) {
	logger, _ := testLogger()
	pool := NewWorkerPool(context.Background(), PoolConfig{Workers: 1, QueueSize: 1, TaskName: "test", Logger: logger})

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, pool.TrySubmit(func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	require.NoError(t, pool.TrySubmit(func(ctx context.Context) error { return nil }))
	assert.ErrorIs(t, pool.TrySubmit(func(ctx context.Context) error { return nil }), ErrQueueFull)

	close(release)
	require.NoError(t, pool.Shutdown(context.Background()))
}

func TestWorkerPool_SubmitAfterShutdown(t *testing.T) {
	logger, _ := testLogger()
	pool := NewWorkerPool(context.Background(), PoolConfig{Workers: 1, TaskName: "test", Logger: logger})
	require.NoError(t, pool.Shutdown(context.Background()))

	assert.ErrorIs(t, pool.TrySubmit(func(ctx context.Context) error { return nil }), ErrPoolClosed)
	assert.ErrorIs(t, pool.Submit(context.Background(), func(ctx context.Context) error { return nil }), ErrPoolClosed)
	assert.NoError(t, pool.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestWorkerPool_ShutdownTimeout(t *testing.T) {
	logger, _ := testLogger()
	pool := NewWorkerPool(context.Background(), PoolConfig{Workers: 1, TaskName: "slow", Timeout: time.Minute, Logger: logger})

	started := make(chan struct{})
	require.NoError(t, pool.TrySubmit(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, pool.Shutdown(ctx))
}

func TestWorkerPool_ParentCancellationDoesNotAbortTasks(t *testing.T) {
	logger, _ := testLogger()
	parent, cancel := context.WithCancel(context.Background())
	pool := NewWorkerPool(parent, PoolConfig{Workers: 1, TaskName: "test", Logger: logger})
	cancel()

	var ran atomic.Bool
	require.NoError(t, pool.TrySubmit(func(ctx context.Context) error {
		ran.Store(ctx.Err() == nil)
		return nil
	}))
	require.NoError(t, pool.Shutdown(context.Background()))
	assert.True(t, ran.Load())
}
