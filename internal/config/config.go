// Package config defines the validated runtime configuration for a run and
// the optional HCL run-configuration file that feeds it.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/zclconf/go-cty/cty"
)

// Store kinds selectable for the shared log client.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSocket = "socket"
)

// ErrConfiguration marks configuration errors. They surface before any log
// interaction is attempted and are fatal to the run.
var ErrConfiguration = errors.New("invalid configuration")

// Config holds all the necessary configuration for a run.
type Config struct {
	NotebookPath string

	// Shared-log connection.
	Store      string // memory, redis, or socket
	URL        string // redis address or gateway URL
	Credential string // opaque credential for the log service
	Namespace  string // notebook id / target namespace

	// Execution policy.
	StopOnError      bool
	ExecutionTimeout time.Duration
	ReadyPoll        time.Duration
	ReadyWait        time.Duration
	SettleDelay      time.Duration

	// Coordinator-configured parameter source.
	Parameters map[string]cty.Value

	// Backend bootstrap.
	BackendCommand []string
	BackendRetries int
	Environment    string // "local" or "ci"

	LogFormat       string
	LogLevel        string
	HealthcheckPort int
}

// New validates a Config and fills defaulted fields.
func New(cfg Config) (*Config, error) {
	if cfg.NotebookPath == "" {
		return nil, fmt.Errorf("%w: notebook path is required", ErrConfiguration)
	}

	switch cfg.Store {
	case "":
		cfg.Store = StoreMemory
	case StoreMemory, StoreRedis, StoreSocket:
	default:
		return nil, fmt.Errorf("%w: unknown log store %q (expected memory, redis, or socket)", ErrConfiguration, cfg.Store)
	}

	// Remote stores authenticate with an opaque credential; the in-memory
	// store needs none.
	if cfg.Store != StoreMemory {
		if cfg.Credential == "" {
			return nil, fmt.Errorf("%w: credential is required for the %s log store", ErrConfiguration, cfg.Store)
		}
		if cfg.URL == "" {
			return nil, fmt.Errorf("%w: url is required for the %s log store", ErrConfiguration, cfg.Store)
		}
	}

	if cfg.Namespace == "" {
		return nil, fmt.Errorf("%w: namespace is required", ErrConfiguration)
	}

	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = 60 * time.Second
	}
	if cfg.ReadyPoll <= 0 {
		cfg.ReadyPoll = time.Second
	}
	if cfg.ReadyWait <= 0 {
		cfg.ReadyWait = 10 * time.Second
	}
	if cfg.SettleDelay < 0 {
		return nil, fmt.Errorf("%w: settle delay cannot be negative", ErrConfiguration)
	}
	if cfg.Environment == "" {
		cfg.Environment = "local"
	}
	if cfg.Environment != "local" && cfg.Environment != "ci" {
		return nil, fmt.Errorf("%w: unknown environment %q (expected local or ci)", ErrConfiguration, cfg.Environment)
	}
	if cfg.BackendRetries < 0 {
		return nil, fmt.Errorf("%w: backend retries cannot be negative", ErrConfiguration)
	}

	return &cfg, nil
}
