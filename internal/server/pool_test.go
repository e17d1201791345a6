package server

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipeConn(t *testing.T) net.Conn {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a
}

func TestWorkerPool_HandlesEachConnOnce(t *testing.T) {
	var handled atomic.Int64
	seen := sync.Map{}
	wp := NewWorkerPool(4, 16, func(conn net.Conn) {
		_, dup := seen.LoadOrStore(conn, true)
		assert.False(t, dup, "connection handled twice")
		handled.Add(1)
	})
	wp.Start()

	for i := 0; i < 16; i++ {
		require.True(t, wp.Submit(pipeConn(t)))
	}
	wp.Stop()

	assert.Equal(t, int64(16), handled.Load())
}

func TestWorkerPool_BoundsConcurrency(t *testing.T) {
	const workers = 3
	var running, peak atomic.Int64
	release := make(chan struct{})
	wp := NewWorkerPool(workers, 10, func(net.Conn) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
	})
	wp.Start()

	for i := 0; i < 8; i++ {
		require.True(t, wp.Submit(pipeConn(t)))
	}
	require.Eventually(t, func() bool { return running.Load() == workers }, time.Second, 5*time.Millisecond)
	close(release)
	wp.Stop()

	assert.Equal(t, int64(workers), peak.Load())
	assert.Equal(t, workers, wp.Size())
}

func TestWorkerPool_SubmitDoesNotBlockWhenFull(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	wp := NewWorkerPool(1, 1, func(net.Conn) { <-block })
	wp.Start()

	require.True(t, wp.Submit(pipeConn(t)))
	require.Eventually(t, func() bool { return len(wp.jobs) == 0 }, time.Second, time.Millisecond)
	require.True(t, wp.Submit(pipeConn(t)))

	third := pipeConn(t)
	done := make(chan bool)
	go func() { done <- wp.Submit(third) }()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on a full queue")
	}
}

func TestWorkerPool_SubmitAfterStop(t *testing.T) {
	wp := NewWorkerPool(1, 1, func(net.Conn) {})
	wp.Start()
	wp.Stop()
	wp.Stop()

	assert.False(t, wp.Submit(pipeConn(t)))
}
