// Package config provides configuration management for go-nzbindex.
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var AppVersion = "-unset-" // will be set at build time

const (
	// NNTP protocol constants
	DOT  = "."
	CR   = "\r"
	LF   = "\n"
	CRLF = CR + LF

	// Default connection settings
	DefaultConnectTimeout = 30 * time.Second
	DefaultCommandTimeout = 30 * time.Second

	// DefaultXoverSpan is the default width of a single XOVER request.
	DefaultXoverSpan = 100

	// DefaultBackfill is how many articles a newly watched group
	// fetches on its initial sweep.
	DefaultBackfill = 1000

	// DefaultWorkerCount is the number of task workers.
	DefaultWorkerCount = 5

	// DefaultQueueSize bounds the task queue; enqueue blocks when full.
	DefaultQueueSize = 1024
)

// MainConfig holds the main configuration for go-nzbindex.
type MainConfig struct {
	// NNTP server configurations
	Servers []Server `yaml:"servers"`

	// Initial watch set: these groups are flagged watched at startup.
	Groups []string `yaml:"groups"`

	// Path to the matcher template file.
	RegexpFile string `yaml:"regexp_file"`

	// Database settings
	Database DatabaseConfig `yaml:"database"`

	WorkerCount int   `yaml:"worker_count"`
	QueueSize   int   `yaml:"queue_size"`
	Backfill    int64 `yaml:"backfill"`

	// Refresh interval for the daemon loop (seconds). 0 = run once.
	RefreshSeconds int `yaml:"refresh_seconds"`

	// Optional pprof web listener, e.g. ":51111". Empty = disabled.
	PprofAddr string `yaml:"pprof_addr"`

	AppVersion string `yaml:"-"`
}

// Server represents an NNTP server configuration.
type Server struct {
	Name           string        `yaml:"name"`
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	SSL            bool          `yaml:"ssl"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	MaxConns       int           `yaml:"connections"` // per-server session cap
	XoverSpan      int64         `yaml:"xover_span"`
	ConnectTimeout time.Duration `yaml:"-"`
	CommandTimeout time.Duration `yaml:"-"`
}

// Addr returns the provider identity used as pool key and in logs.
func (s *Server) Addr() string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"` // Path to the index database
}

// NewDefaultConfig returns a configuration with sensible defaults.
func NewDefaultConfig() *MainConfig {
	return &MainConfig{
		AppVersion:  AppVersion,
		WorkerCount: DefaultWorkerCount,
		QueueSize:   DefaultQueueSize,
		Backfill:    DefaultBackfill,
		Database: DatabaseConfig{
			Path: "data/nzbindex.sq3",
		},
		RegexpFile: "regexp.txt",
	}
}

// LoadConfig reads a YAML config file on top of the defaults and
// normalizes every server entry.
func LoadConfig(path string) (*MainConfig, error) {
	cfg := NewDefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file '%s': %w", path, err)
	}

	if len(cfg.Servers) == 0 {
		return nil, fmt.Errorf("config '%s' defines no servers", path)
	}
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = DefaultWorkerCount
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Backfill < 1 {
		cfg.Backfill = DefaultBackfill
	}
	for i := range cfg.Servers {
		cfg.Servers[i].Normalize()
	}

	log.Printf("[CONFIG] loaded '%s': %d servers, %d initial groups", path, len(cfg.Servers), len(cfg.Groups))
	return cfg, nil
}

// Normalize fills in defaults for a server entry.
func (s *Server) Normalize() {
	if s.Port == 0 {
		if s.SSL {
			s.Port = 563
		} else {
			s.Port = 119
		}
	}
	if s.MaxConns < 1 {
		s.MaxConns = 1
	}
	if s.XoverSpan < 1 {
		s.XoverSpan = DefaultXoverSpan
	}
	if s.ConnectTimeout == 0 {
		s.ConnectTimeout = DefaultConnectTimeout
	}
	if s.CommandTimeout == 0 {
		s.CommandTimeout = DefaultCommandTimeout
	}
}
