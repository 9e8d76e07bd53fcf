// Package async provides safe concurrent execution primitives for background tasks.
//
// # Overview
//
// This package handles goroutine lifecycle management with panic recovery, timeout
// enforcement, and error reporting that never reaches the submitting caller.
//
// # Key Functions
//
// SafeGo: Execute a single function in a goroutine with safety features
//
//	async.SafeGo(ctx, logger, 5*time.Second, "audit write", func(ctx context.Context) error {
//		return store.Append(ctx, entry)
//	})
//
// WorkerPool: Managed pool of concurrent workers
//
//	pool := async.NewWorkerPool(ctx, async.PoolConfig{Workers: 4, QueueSize: 256, TaskName: "audit"})
//	defer pool.Shutdown(shutdownCtx)
//
//	if err := pool.TrySubmit(task); errors.Is(err, async.ErrQueueFull) {
//		async.SafeGo(ctx, logger, timeout, "audit overflow", task)
//	}
//
// # Error channel
//
// Task errors and recovered panics are logged and handed to PoolConfig.OnError,
// which callers wire to metrics. They are never returned to whoever submitted the task.
package async
