package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/linkmill/internal/storage"
)

// TestGetenv tests the getenv utility function
func TestGetenv(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    string
		def      string
		expected string
	}{
		{"environment variable set", "LINKMILL_TEST_SET", "test_value", "default", "test_value"},
		{"environment variable not set", "LINKMILL_TEST_UNSET", "", "default_value", "default_value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				t.Setenv(tt.key, tt.value)
			}
			assert.Equal(t, tt.expected, getenv(tt.key, tt.def))
		})
	}
}

func writeJob(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunExitCodes(t *testing.T) {
	t.Setenv("JOB_FILE", "")
	dir := t.TempDir()

	tests := []struct {
		name string
		args []string
		code int
	}{
		{"help", []string{"-h"}, 0},
		{"unknown flag", []string{"-bogus"}, 2},
		{"missing job file", nil, 1},
		{"unreadable job file", []string{"-job", filepath.Join(dir, "none.yaml")}, 1},
		{"invalid job", []string{"-job", writeJob(t, dir, "actions: [LinkFrequencies]\n")}, 1},
		{"missing source", []string{"-job", writeJob(t, t.TempDir(), "source: "+filepath.Join(dir, "none.xml")+"\nactions: [LinkFrequencies]\nlisten: 127.0.0.1:0\n")}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stderr bytes.Buffer
			assert.Equal(t, tt.code, run(context.Background(), tt.args, &stderr))
		})
	}
}

// TestRunEmptySourceWritesOutput completes a run over a dump with no
// pages and leaves an empty result database behind.
func TestRunEmptySourceWritesOutput(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "dump.xml")
	require.NoError(t, os.WriteFile(source, []byte("<mediawiki>\n</mediawiki>\n"), 0o644))
	output := filepath.Join(dir, "results.db")

	job := writeJob(t, dir, "source: "+source+"\nactions: [LinkFrequencies]\nlisten: 127.0.0.1:0\noutput: "+output+"\n")

	var stderr bytes.Buffer
	require.Equal(t, 0, run(context.Background(), []string{"-job", job, "-log-level", "debug"}, &stderr))
	assert.Contains(t, stderr.String(), "run complete")

	sink, err := storage.OpenSQLite(output)
	require.NoError(t, err)
	defer sink.Close()
	loaded, err := sink.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

// TestRunInterrupted exits 0 when the run is cancelled.
func TestRunInterrupted(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "dump.xml")
	require.NoError(t, os.WriteFile(source, []byte("<page>\n<text>[[A]]</text>\n</page>\n"), 0o644))
	job := writeJob(t, dir, "source: "+source+"\nactions: [LinkFrequencies]\nlisten: 127.0.0.1:0\n")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var stderr bytes.Buffer
	assert.Equal(t, 0, run(ctx, []string{"-job", job}, &stderr))
	assert.Contains(t, stderr.String(), "coordinator stopped")
}
