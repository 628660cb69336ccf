// Package config loads coordinator and worker settings from a job file and
// the environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dreamware/linkmill/internal/cluster"
	"github.com/dreamware/linkmill/internal/queue"
)

// DefaultPort is the coordinator's TCP port.
const DefaultPort = 20057

// MaxParallelism is the largest task count a Ready can carry.
const MaxParallelism = 255

var (
	ErrMissingSource      = errors.New("job file: source is required")
	ErrMissingActions     = errors.New("job file: at least one action is required")
	ErrMissingCoordinator = errors.New("coordinator host is required")
)

// jobFile mirrors the on-disk job description.
type jobFile struct {
	Source           string   `json:"source" yaml:"source"`
	Actions          []string `json:"actions" yaml:"actions"`
	Output           string   `json:"output" yaml:"output"`
	Listen           string   `json:"listen" yaml:"listen"`
	QueueCapacity    int      `json:"queue_capacity" yaml:"queue_capacity"`
	ProgressInterval string   `json:"progress_interval" yaml:"progress_interval"`
}

// ServerConfig is everything the coordinator needs for one run.
type ServerConfig struct {
	SourcePath       string            // Page dump to stream
	Actions          cluster.ActionSet // Copied into every task
	ListenAddr       string            // Bind address, all interfaces by default
	OutputPath       string            // Optional SQLite file for the answer set
	QueueCapacity    int               // Undispatched jobs held before backpressure
	ProgressInterval time.Duration     // Period of progress log lines
}

// ClientConfig is everything a worker needs.
type ClientConfig struct {
	CoordinatorHost string // Host name or IP of the coordinator
	Port            int    // Coordinator port
	Parallelism     int    // Tasks requested per Ready, 1..MaxParallelism
}

// Addr returns host:port for dialing.
func (c ClientConfig) Addr() string {
	return net.JoinHostPort(c.CoordinatorHost, strconv.Itoa(c.Port))
}

// LoadServer reads a job file. Files ending in .json are decoded as JSON,
// anything else as YAML. COORDINATOR_LISTEN and QUEUE_CAPACITY override the
// file.
func LoadServer(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job file: %w", err)
	}

	var jf jobFile
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &jf)
	} else {
		err = yaml.Unmarshal(data, &jf)
	}
	if err != nil {
		return nil, fmt.Errorf("parse job file %s: %w", path, err)
	}

	return jf.resolve()
}

func (jf jobFile) resolve() (*ServerConfig, error) {
	if jf.Source == "" {
		return nil, ErrMissingSource
	}
	if len(jf.Actions) == 0 {
		return nil, ErrMissingActions
	}

	actions := make([]cluster.Action, 0, len(jf.Actions))
	for _, name := range jf.Actions {
		a, err := cluster.ParseAction(name)
		if err != nil {
			return nil, fmt.Errorf("job file: %w", err)
		}
		actions = append(actions, a)
	}

	cfg := &ServerConfig{
		SourcePath:       jf.Source,
		Actions:          cluster.NewActionSet(actions...),
		ListenAddr:       getenv("COORDINATOR_LISTEN", jf.Listen),
		OutputPath:       jf.Output,
		QueueCapacity:    jf.QueueCapacity,
		ProgressInterval: 10 * time.Second,
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = fmt.Sprintf(":%d", DefaultPort)
	}
	if v := os.Getenv("QUEUE_CAPACITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("QUEUE_CAPACITY: %w", err)
		}
		cfg.QueueCapacity = n
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = queue.DefaultCapacity
	}
	if jf.ProgressInterval != "" {
		d, err := time.ParseDuration(jf.ProgressInterval)
		if err != nil {
			return nil, fmt.Errorf("job file: progress_interval: %w", err)
		}
		cfg.ProgressInterval = d
	}
	return cfg, nil
}

// LoadClient builds a worker configuration. An empty host falls back to
// COORDINATOR_HOST; port and parallelism fall back to COORDINATOR_PORT and
// WORKER_PARALLELISM, then to DefaultPort and the CPU count.
func LoadClient(host string, port int) (*ClientConfig, error) {
	cfg := &ClientConfig{
		CoordinatorHost: host,
		Port:            port,
	}
	if cfg.CoordinatorHost == "" {
		cfg.CoordinatorHost = os.Getenv("COORDINATOR_HOST")
	}
	if cfg.CoordinatorHost == "" {
		return nil, ErrMissingCoordinator
	}

	if cfg.Port == 0 {
		p, err := strconv.Atoi(getenv("COORDINATOR_PORT", strconv.Itoa(DefaultPort)))
		if err != nil {
			return nil, fmt.Errorf("COORDINATOR_PORT: %w", err)
		}
		cfg.Port = p
	}

	parallelism := runtime.NumCPU()
	if v := os.Getenv("WORKER_PARALLELISM"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("WORKER_PARALLELISM: %w", err)
		}
		parallelism = n
	}
	cfg.Parallelism = ClampParallelism(parallelism)
	return cfg, nil
}

// ClampParallelism bounds n to the range a Ready can express.
func ClampParallelism(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxParallelism {
		return MaxParallelism
	}
	return n
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
