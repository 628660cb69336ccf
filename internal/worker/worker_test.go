package worker

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/linkmill/internal/analysis"
	"github.com/dreamware/linkmill/internal/cluster"
	"github.com/dreamware/linkmill/internal/config"
)

var linkActions = cluster.NewActionSet(cluster.LinkFrequencies)

func makeTasks(n int) []cluster.Task {
	tasks := make([]cluster.Task, n)
	for i := range tasks {
		tasks[i] = cluster.Task{
			ID:               uint32(i + 1),
			RawMarkup:        fmt.Sprintf("<page>\n<text>[[Page%d]] [[Common]]</text>\n</page>\n", i%3),
			RequestedActions: linkActions,
		}
	}
	return tasks
}

func TestPartition(t *testing.T) {
	tests := []struct {
		name  string
		tasks int
		p     int
		sizes []int
	}{
		{"empty batch", 0, 4, nil},
		{"even split", 8, 4, []int{2, 2, 2, 2}},
		{"uneven split", 10, 4, []int{3, 3, 3, 1}},
		{"fewer tasks than chunks", 3, 8, []int{1, 1, 1}},
		{"single chunk", 5, 1, []int{5}},
		{"non-positive parallelism", 2, 0, []int{2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks := makeTasks(tt.tasks)
			chunks := Partition(tasks, tt.p)

			var sizes []int
			var ids []uint32
			for _, c := range chunks {
				sizes = append(sizes, len(c))
				for _, task := range c {
					ids = append(ids, task.ID)
				}
			}
			assert.Equal(t, tt.sizes, sizes)

			// Chunks are contiguous and cover the batch in order.
			for i, id := range ids {
				assert.Equal(t, uint32(i+1), id)
			}
			assert.Len(t, ids, tt.tasks)
		})
	}
}

// TestExecuteMatchesSequential checks that fanning a batch out over
// several chunks gives the same answers as one chunk.
func TestExecuteMatchesSequential(t *testing.T) {
	tasks := makeTasks(23)

	sequential, err := Execute(context.Background(), Partition(tasks, 1), analysis.Run)
	require.NoError(t, err)
	require.Len(t, sequential, 23)

	for _, p := range []int{2, 4, 7, 23, 64} {
		t.Run(fmt.Sprintf("p=%d", p), func(t *testing.T) {
			parallel, err := Execute(context.Background(), Partition(tasks, p), analysis.Run)
			require.NoError(t, err)
			assert.Equal(t, sequential, parallel)
		})
	}

	assert.Equal(t, map[string]uint64{"Page1": 1, "Common": 1}, sequential[2].Frequencies())
}

func TestExecutePanicFailsBatch(t *testing.T) {
	tasks := makeTasks(6)
	analyze := func(markup string, actions cluster.ActionSet) cluster.ActionResult {
		if markup == tasks[4].RawMarkup {
			panic("boom")
		}
		return analysis.Run(markup, actions)
	}

	results, err := Execute(context.Background(), Partition(tasks, 3), analyze)
	assert.ErrorIs(t, err, ErrChunkPanic)
	assert.Nil(t, results)
}

func TestExecuteEmpty(t *testing.T) {
	results, err := Execute(context.Background(), nil, analysis.Run)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.NotNil(t, results)
}

func TestExecuteCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Execute(ctx, Partition(makeTasks(4), 2), analysis.Run)
	assert.ErrorIs(t, err, context.Canceled)
}

// fakeCoordinator accepts one connection and runs serve against it.
func fakeCoordinator(t *testing.T, serve func(conn *net.TCPConn)) *config.ClientConfig {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		serve(conn.(*net.TCPConn))
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return &config.ClientConfig{CoordinatorHost: "127.0.0.1", Port: addr.Port}
}

// TestRuntimeBatchReportSymmetry sends k tasks after a Ready{n} and
// expects exactly k results back.
func TestRuntimeBatchReportSymmetry(t *testing.T) {
	tests := []struct {
		name  string
		n     int
		k     int
		close bool
	}{
		{"full batch", 4, 4, false},
		{"short batch", 4, 3, true},
		{"empty batch", 4, 0, true},
		{"single worker thread", 1, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ready := make(chan cluster.Ready, 1)
			done := make(chan cluster.Done, 1)
			tasks := makeTasks(tt.k)

			cfg := fakeCoordinator(t, func(conn *net.TCPConn) {
				msg, err := cluster.ReadMessage(conn)
				if err != nil || msg.Type != cluster.TypeReady {
					return
				}
				ready <- *msg.Ready
				for _, task := range tasks {
					if err := cluster.WriteMessage(conn, cluster.NewTask(task.ID, task.RawMarkup, task.RequestedActions)); err != nil {
						return
					}
				}
				if tt.close {
					conn.CloseWrite()
				}
				msg, err = cluster.ReadMessage(conn)
				if err != nil || msg.Type != cluster.TypeDone {
					return
				}
				done <- *msg.Done
			})
			cfg.Parallelism = tt.n

			rt := New(cfg)
			processed, err := rt.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.k, processed)

			select {
			case r := <-ready:
				assert.Equal(t, uint8(tt.n), r.TaskCount)
			case <-time.After(5 * time.Second):
				t.Fatal("no Ready received")
			}

			select {
			case d := <-done:
				assert.Len(t, d.Results, tt.k)
				for _, task := range tasks {
					assert.Contains(t, d.Results, task.ID)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("no Done received")
			}
		})
	}
}

func TestRuntimeProtocolError(t *testing.T) {
	cfg := fakeCoordinator(t, func(conn *net.TCPConn) {
		if _, err := cluster.ReadMessage(conn); err != nil {
			return
		}
		cluster.WriteFrame(conn, []byte("not a message"))
		cluster.ReadMessage(conn)
	})
	cfg.Parallelism = 2

	_, err := New(cfg).Run(context.Background())
	assert.ErrorIs(t, err, cluster.ErrMalformed)
}

func TestRuntimeUnexpectedMessage(t *testing.T) {
	cfg := fakeCoordinator(t, func(conn *net.TCPConn) {
		if _, err := cluster.ReadMessage(conn); err != nil {
			return
		}
		cluster.WriteMessage(conn, cluster.NewReady(1))
		cluster.ReadMessage(conn)
	})
	cfg.Parallelism = 2

	_, err := New(cfg).Run(context.Background())
	assert.ErrorIs(t, err, cluster.ErrMalformed)
}

// TestRuntimeCoordinatorGone treats a dropped connection as a normal end.
func TestRuntimeCoordinatorGone(t *testing.T) {
	cfg := fakeCoordinator(t, func(conn *net.TCPConn) {
		cluster.ReadMessage(conn)
		conn.SetLinger(0)
	})
	cfg.Parallelism = 2

	_, err := New(cfg).Run(context.Background())
	assert.NoError(t, err)
}

func TestRuntimeConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	rt := New(&config.ClientConfig{CoordinatorHost: "127.0.0.1", Port: port, Parallelism: 1})
	_, err = rt.Run(context.Background())
	assert.Error(t, err)
}

func TestNewClampsParallelism(t *testing.T) {
	rt := New(&config.ClientConfig{CoordinatorHost: "h", Port: 1, Parallelism: 1000})
	assert.Equal(t, config.MaxParallelism, rt.Parallelism())
	assert.Contains(t, rt.ID(), "worker-")
}
