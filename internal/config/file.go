package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/zclconf/go-cty/cty"
)

// fileModel is the HCL shape of an optional run-configuration file. All
// blocks and attributes are optional; CLI flags override anything set here.
type fileModel struct {
	Connection *connectionBlock `hcl:"connection,block"`
	Execution  *executionBlock  `hcl:"execution,block"`
	Parameters *parametersBlock `hcl:"parameters,block"`
	Backend    *backendBlock    `hcl:"backend,block"`
}

type connectionBlock struct {
	Store      *string `hcl:"store"`
	URL        *string `hcl:"url"`
	Credential *string `hcl:"credential"`
	Namespace  *string `hcl:"namespace"`
}

type executionBlock struct {
	StopOnError *bool   `hcl:"stop_on_error"`
	TimeoutMs   *int64  `hcl:"timeout_ms"`
	ReadyPollMs *int64  `hcl:"ready_poll_ms"`
	ReadyWaitMs *int64  `hcl:"ready_wait_ms"`
	SettleMs    *int64  `hcl:"settle_ms"`
}

type parametersBlock struct {
	Values cty.Value `hcl:"values"`
}

type backendBlock struct {
	Command     []string `hcl:"command,optional"`
	Retries     *int     `hcl:"retries"`
	Environment *string  `hcl:"environment"`
}

// ApplyFile loads an HCL run-configuration file and merges it into cfg,
// filling only fields the caller left unset so flags keep precedence.
func ApplyFile(cfg *Config, path string) error {
	var fm fileModel
	if err := hclsimple.DecodeFile(path, nil, &fm); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	if conn := fm.Connection; conn != nil {
		setString(&cfg.Store, conn.Store)
		setString(&cfg.URL, conn.URL)
		setString(&cfg.Credential, conn.Credential)
		setString(&cfg.Namespace, conn.Namespace)
	}

	if ex := fm.Execution; ex != nil {
		if ex.StopOnError != nil {
			cfg.StopOnError = *ex.StopOnError
		}
		setDuration(&cfg.ExecutionTimeout, ex.TimeoutMs)
		setDuration(&cfg.ReadyPoll, ex.ReadyPollMs)
		setDuration(&cfg.ReadyWait, ex.ReadyWaitMs)
		setDuration(&cfg.SettleDelay, ex.SettleMs)
	}

	if p := fm.Parameters; p != nil && !p.Values.IsNull() {
		ty := p.Values.Type()
		if !ty.IsObjectType() && !ty.IsMapType() {
			return fmt.Errorf("%w: parameters values must be an object", ErrConfiguration)
		}
		if cfg.Parameters == nil {
			cfg.Parameters = make(map[string]cty.Value)
		}
		for k, v := range p.Values.AsValueMap() {
			if _, set := cfg.Parameters[k]; !set {
				cfg.Parameters[k] = v
			}
		}
	}

	if b := fm.Backend; b != nil {
		if len(cfg.BackendCommand) == 0 {
			cfg.BackendCommand = b.Command
		}
		if b.Retries != nil && cfg.BackendRetries == 0 {
			cfg.BackendRetries = *b.Retries
		}
		setString(&cfg.Environment, b.Environment)
	}
	return nil
}

func setString(dst *string, src *string) {
	if *dst == "" && src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, ms *int64) {
	if *dst == 0 && ms != nil {
		*dst = time.Duration(*ms) * time.Millisecond
	}
}
