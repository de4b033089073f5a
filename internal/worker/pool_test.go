package worker

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ctxKey struct{}

func quietLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestPool_RunsTasksAndDrainsOnClose(t *testing.T) {
	var buf bytes.Buffer
	p := NewPool(Config{Workers: 3, QueueSize: 4}, quietLogger(&buf))

	var ran int32
	for i := 0; i < 20; i++ {
		require.NoError(t, p.Submit(context.Background(), Task{
			Name: "count",
			Run: func(context.Context) error {
				atomic.AddInt32(&ran, 1)
				return nil
			},
		}))
	}
	require.NoError(t, p.Close())

	assert.Equal(t, int32(20), atomic.LoadInt32(&ran))
	assert.Equal(t, Stats{Completed: 20}, p.Stats())
}

func TestPool_ReportsFailures(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	var failures []Failure

	p := NewPool(Config{Workers: 1}, quietLogger(&buf), WithFailureHook(func(f Failure) {
		mu.Lock()
		failures = append(failures, f)
		mu.Unlock()
	}))

	require.NoError(t, p.Submit(context.Background(), Task{
		Name:  "save-embedding",
		Attrs: []any{"decision_id", "d1"},
		Run:   func(context.Context) error { return errors.New("disk full") },
	}))
	require.NoError(t, p.Submit(context.Background(), Task{
		Name: "explode",
		Run:  func(context.Context) error { panic("boom") },
	}))
	require.NoError(t, p.Close())

	require.Len(t, failures, 2)
	assert.Equal(t, "save-embedding", failures[0].Task)
	assert.EqualError(t, failures[0].Err, "disk full")
	assert.Contains(t, failures[1].Err.Error(), "boom")
	assert.Equal(t, int64(2), p.Stats().Failed)

	logged := buf.String()
	assert.Contains(t, logged, "background task failed")
	assert.Contains(t, logged, "decision_id=d1")
}

func TestPool_DetachesCancellationButKeepsValues(t *testing.T) {
	var buf bytes.Buffer
	p := NewPool(Config{Workers: 1}, quietLogger(&buf))

	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "req-42"))
	done := make(chan struct{})
	var seenValue any
	var seenErr error

	require.NoError(t, p.Submit(ctx, Task{
		Name: "detached",
		Run: func(taskCtx context.Context) error {
			<-done
			seenValue = taskCtx.Value(ctxKey{})
			seenErr = taskCtx.Err()
			return nil
		},
	}))
	cancel()
	close(done)
	require.NoError(t, p.Close())

	assert.Equal(t, "req-42", seenValue)
	assert.NoError(t, seenErr)
}

func TestPool_TaskTimeout(t *testing.T) {
	var buf bytes.Buffer
	p := NewPool(Config{Workers: 1, TaskTimeout: 10 * time.Millisecond}, quietLogger(&buf))

	require.NoError(t, p.Submit(context.Background(), Task{
		Name: "slow",
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}))
	require.NoError(t, p.Close())
	assert.Equal(t, int64(1), p.Stats().Failed)
}

func TestPool_SubmitAfterClose(t *testing.T) {
	var buf bytes.Buffer
	p := NewPool(Config{}, quietLogger(&buf))
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	err := p.Submit(context.Background(), Task{Name: "late", Run: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrPoolClosed)

	err = p.Submit(context.Background(), Task{Name: "empty"})
	assert.Error(t, err)
}
