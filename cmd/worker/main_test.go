package main

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/linkmill/internal/cluster"
)

func TestRunExitCodes(t *testing.T) {
	t.Setenv("COORDINATOR_HOST", "")

	closed, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	closedPort := strconv.Itoa(closed.Addr().(*net.TCPAddr).Port)
	closed.Close()

	tests := []struct {
		name string
		args []string
		code int
	}{
		{"help", []string{"-h"}, 0},
		{"unknown flag", []string{"-bogus"}, 2},
		{"missing coordinator", nil, 1},
		{"connection refused", []string{"-server", "127.0.0.1", "-port", closedPort}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stderr bytes.Buffer
			assert.Equal(t, tt.code, run(context.Background(), tt.args, &stderr))
		})
	}
}

// TestRunEmptyBatch talks to a coordinator that has no work left.
func TestRunEmptyBatch(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	ready := make(chan uint8, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		msg, err := cluster.ReadMessage(conn)
		if err != nil {
			return
		}
		ready <- msg.Ready.TaskCount
		conn.(*net.TCPConn).CloseWrite()
		cluster.ReadMessage(conn)
	}()

	port := strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)
	var stderr bytes.Buffer
	code := run(context.Background(), []string{"-server", "127.0.0.1", "-port", port, "-parallelism", "3"}, &stderr)

	assert.Equal(t, 0, code)
	assert.Equal(t, uint8(3), <-ready)
	assert.Contains(t, stderr.String(), "worker finished")
}
