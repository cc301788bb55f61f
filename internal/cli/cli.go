// Package cli parses command-line arguments into a validated run
// configuration plus the call-time parameter overrides.
package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/runbook/internal/config"
)

// CredentialEnvVar is consulted when no --credential flag is given.
const CredentialEnvVar = "RUNBOOK_CREDENTIAL"

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// paramFlags collects repeatable --param key=value flags. Values are parsed
// as bool, number, or string literals, in that order.
type paramFlags map[string]cty.Value

func (p paramFlags) String() string { return fmt.Sprintf("%d parameters", len(p)) }

func (p paramFlags) Set(s string) error {
	key, raw, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	switch {
	case raw == "true":
		p[key] = cty.True
	case raw == "false":
		p[key] = cty.False
	default:
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			p[key] = cty.NumberIntVal(i)
		} else if f, err := strconv.ParseFloat(raw, 64); err == nil {
			p[key] = cty.NumberFloatVal(f)
		} else {
			p[key] = cty.StringVal(raw)
		}
	}
	return nil
}

// Parse processes command-line arguments. It returns the validated run
// configuration and call-time parameters, a boolean indicating if the program
// should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*config.Config, map[string]cty.Value, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("runbook", flag.ContinueOnError)
	flagSet.SetOutput(output)

	// Custom usage/help text function
	flagSet.Usage = func() {
		fmt.Fprint(output, `
Runbook - a notebook execution coordinator over a shared event log.

Usage:
  runbook [options] [NOTEBOOK_PATH]

Arguments:
  NOTEBOOK_PATH
    Path to a YAML notebook document.

Options:
`)
		flagSet.PrintDefaults()
	}

	notebookFlag := flagSet.String("notebook", "", "Path to the notebook document.")
	nFlag := flagSet.String("n", "", "Path to the notebook document (shorthand).")
	configFlag := flagSet.String("config", "", "Path to an HCL run-configuration file.")

	storeFlag := flagSet.String("log", config.StoreMemory, "Shared log store. Options: 'memory', 'redis', or 'socket'.")
	urlFlag := flagSet.String("url", "", "Address of the shared log (redis host:port or gateway URL).")
	credentialFlag := flagSet.String("credential", "", "Opaque credential for the shared log. Falls back to "+CredentialEnvVar+".")
	namespaceFlag := flagSet.String("namespace", "", "Notebook id / target namespace in the shared log.")

	continueFlag := flagSet.Bool("continue-on-error", false, "Keep executing cells after a failure.")
	timeoutFlag := flagSet.Duration("execution-timeout", 0, "Per-cell execution timeout (default 60s).")
	readyPollFlag := flagSet.Duration("ready-poll", 0, "Backend readiness poll interval (default 1s).")
	readyWaitFlag := flagSet.Duration("ready-wait", 0, "Bounded wait for a ready backend session (default 10s).")
	settleFlag := flagSet.Duration("settle", 500*time.Millisecond, "Pause between structure publish and first request.")

	backendFlag := flagSet.String("backend-cmd", "", "Command to start the execution backend (whitespace-separated).")
	retriesFlag := flagSet.Int("backend-retries", 3, "Backend start retries before giving up.")
	environmentFlag := flagSet.String("environment", "local", "Execution environment. Options: 'local' or 'ci'.")

	healthPortFlag := flagSet.Int("healthcheck-port", 0, "Port for the HTTP health check server. 0 is disabled.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	callParams := paramFlags{}
	flagSet.Var(callParams, "param", "Call-time parameter as key=value (repeatable).")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, nil, true, nil
		}
		return nil, nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	path := ""
	if *notebookFlag != "" {
		path = *notebookFlag
	} else if *nFlag != "" {
		path = *nFlag
	} else if flagSet.NArg() > 0 {
		path = flagSet.Arg(0)
	}
	slog.Debug("Notebook path determined.", "path", path)

	if path == "" {
		slog.Debug("No notebook path provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	cfg := config.Config{
		NotebookPath:    path,
		StopOnError:     true,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		HealthcheckPort: *healthPortFlag,
	}

	// Values from the run-configuration file fill the gaps, then explicitly
	// set flags override them.
	if *configFlag != "" {
		if err := config.ApplyFile(&cfg, *configFlag); err != nil {
			return nil, nil, false, &ExitError{Code: 2, Message: err.Error()}
		}
	}

	explicit := map[string]bool{}
	flagSet.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	if explicit["log"] || cfg.Store == "" {
		cfg.Store = strings.ToLower(*storeFlag)
	}
	if explicit["url"] || cfg.URL == "" {
		cfg.URL = *urlFlag
	}
	if explicit["namespace"] || cfg.Namespace == "" {
		cfg.Namespace = *namespaceFlag
	}
	if explicit["credential"] || cfg.Credential == "" {
		cfg.Credential = *credentialFlag
	}
	if cfg.Credential == "" {
		cfg.Credential = os.Getenv(CredentialEnvVar)
	}
	if explicit["continue-on-error"] {
		cfg.StopOnError = !*continueFlag
	}
	if explicit["execution-timeout"] || cfg.ExecutionTimeout == 0 {
		cfg.ExecutionTimeout = *timeoutFlag
	}
	if explicit["ready-poll"] || cfg.ReadyPoll == 0 {
		cfg.ReadyPoll = *readyPollFlag
	}
	if explicit["ready-wait"] || cfg.ReadyWait == 0 {
		cfg.ReadyWait = *readyWaitFlag
	}
	if explicit["settle"] || cfg.SettleDelay == 0 {
		cfg.SettleDelay = *settleFlag
	}
	if explicit["backend-cmd"] || len(cfg.BackendCommand) == 0 {
		cfg.BackendCommand = strings.Fields(*backendFlag)
	}
	if explicit["backend-retries"] || cfg.BackendRetries == 0 {
		cfg.BackendRetries = *retriesFlag
	}
	if explicit["environment"] || cfg.Environment == "" {
		cfg.Environment = strings.ToLower(*environmentFlag)
	}
	if cfg.Namespace == "" && path != "" {
		cfg.Namespace = defaultNamespace(path)
	}
	slog.Debug("CLI parameter validation complete.")

	validated, err := config.New(cfg)
	if err != nil {
		return nil, nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "config", validated)
	return validated, callParams, false, nil
}

// defaultNamespace derives a namespace from the notebook file name.
func defaultNamespace(path string) string {
	base := path
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	return base
}
