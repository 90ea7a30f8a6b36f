package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Config is the complete plugsift configuration. It is loaded once and not
// modified afterwards.
type Config struct {
	// Target describes the program under test.
	Target TargetConfig `json:"target" yaml:"target" validate:"required"`

	// OrderFile is the plugin order file the target reads at startup.
	OrderFile string `json:"order_file" yaml:"order_file" validate:"required"`

	// Plugins lists the baseline plugins and candidate selection rules.
	Plugins PluginsConfig `json:"plugins" yaml:"plugins"`

	// Timing controls trial timing.
	Timing TimingConfig `json:"timing" yaml:"timing"`

	// Isolation controls partitioning.
	Isolation IsolationConfig `json:"isolation" yaml:"isolation"`

	// Display controls the terminal output.
	Display DisplayConfig `json:"display" yaml:"display"`

	// Paths holds the working directories.
	Paths PathsConfig `json:"paths" yaml:"paths"`

	// Telemetry controls logging, metrics and tracing.
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
}

// TargetConfig describes the program under test.
type TargetConfig struct {
	// Executable is the launcher started for each trial.
	Executable string `json:"executable" yaml:"executable" validate:"required"`

	// Args are passed to Executable.
	Args []string `json:"args,omitempty" yaml:"args,omitempty"`

	// WorkDir is the working directory. Empty means the executable's
	// directory.
	WorkDir string `json:"work_dir,omitempty" yaml:"work_dir,omitempty"`

	// ProcessName is the image polled in the process table. It may differ
	// from Executable when a loader starts the real program.
	ProcessName string `json:"process_name" yaml:"process_name" validate:"required"`

	// CrashReporter is an image killed after every trial. Empty disables it.
	CrashReporter string `json:"crash_reporter,omitempty" yaml:"crash_reporter,omitempty"`
}

// PluginsConfig lists baseline plugins and candidate selection rules.
type PluginsConfig struct {
	// Required plugins lead every trial order.
	Required []string `json:"required" yaml:"required" validate:"dive,required"`

	// Optional plugins follow Required when present in the order file.
	Optional []string `json:"optional,omitempty" yaml:"optional,omitempty" validate:"dive,required"`

	// PatchKeywords mark candidates tested after the main group.
	PatchKeywords []string `json:"patch_keywords" yaml:"patch_keywords" validate:"dive,required"`

	// Selector is an optional Starlark script defining classify(name).
	Selector string `json:"selector,omitempty" yaml:"selector,omitempty"`
}

// TimingConfig controls trial timing. Values are seconds.
type TimingConfig struct {
	// WaitSeconds is how long the target must survive to pass.
	WaitSeconds float64 `json:"wait_seconds" yaml:"wait_seconds" validate:"gt=0"`

	// AfterCloseDelay is waited after every termination.
	AfterCloseDelay float64 `json:"after_close_delay" yaml:"after_close_delay" validate:"gte=0"`

	// StartupGrace bounds how long the target may take to appear.
	StartupGrace float64 `json:"startup_grace" yaml:"startup_grace" validate:"gt=0"`

	// FastMode shortens the fixed settle and poll delays.
	FastMode bool `json:"fast_mode" yaml:"fast_mode"`
}

// Timeout returns WaitSeconds as a duration.
func (t TimingConfig) Timeout() time.Duration { return seconds(t.WaitSeconds) }

// AfterClose returns AfterCloseDelay as a duration.
func (t TimingConfig) AfterClose() time.Duration { return seconds(t.AfterCloseDelay) }

// Grace returns StartupGrace as a duration.
func (t TimingConfig) Grace() time.Duration { return seconds(t.StartupGrace) }

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// IsolationConfig controls partitioning.
type IsolationConfig struct {
	// BatchSize is the size of top-level chunks.
	BatchSize int `json:"batch_size" yaml:"batch_size" validate:"min=1"`

	// TurboBatch enables mega attempts and re-verification.
	TurboBatch bool `json:"turbo_batch" yaml:"turbo_batch"`

	// Marker tags lines written into the order file.
	Marker string `json:"marker" yaml:"marker" validate:"required,alphanum,uppercase"`
}

// DisplayConfig controls terminal output.
type DisplayConfig struct {
	// TruncateLength caps plugin names in the progress columns.
	TruncateLength int `json:"truncate_length" yaml:"truncate_length" validate:"min=4"`

	// ShowOrder logs every trial order at debug level.
	ShowOrder bool `json:"show_order" yaml:"show_order"`
}

// PathsConfig holds the working directories.
type PathsConfig struct {
	// Home is the base directory for backups, quarantine, logs and state.
	Home string `json:"home" yaml:"home" validate:"required"`
}

// Backups returns the backup root.
func (p PathsConfig) Backups() string { return filepath.Join(p.Home, "backups") }

// Quarantine returns the quarantine root.
func (p PathsConfig) Quarantine() string { return filepath.Join(p.Home, "quarantine") }

// Logs returns the session log root.
func (p PathsConfig) Logs() string { return filepath.Join(p.Home, "logs") }

// State returns the journal database path.
func (p PathsConfig) State() string { return filepath.Join(p.Home, "plugsift.db") }

// TelemetryConfig controls logging, metrics and tracing.
type TelemetryConfig struct {
	// LogLevel is the minimum structured log level.
	LogLevel string `json:"log_level" yaml:"log_level" validate:"oneof=trace debug info warn error"`

	// LogFormat is console or json.
	LogFormat string `json:"log_format" yaml:"log_format" validate:"oneof=console json"`

	// LogFile receives structured logs. Empty means stderr.
	LogFile string `json:"log_file,omitempty" yaml:"log_file,omitempty"`

	// MetricsAddr serves /metrics when set, e.g. ":9464".
	MetricsAddr string `json:"metrics_addr,omitempty" yaml:"metrics_addr,omitempty" validate:"omitempty,hostname_port"`

	// Tracing is none, stdout or otlp.
	Tracing string `json:"tracing" yaml:"tracing" validate:"oneof=none stdout otlp"`

	// OTLPEndpoint is the collector address for otlp tracing.
	OTLPEndpoint string `json:"otlp_endpoint,omitempty" yaml:"otlp_endpoint,omitempty" validate:"required_if=Tracing otlp"`
}

// Format names a configuration file format.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatCUE  Format = "cue"
)

// FormatFor picks the format from a file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".cue":
		return FormatCUE, nil
	default:
		return "", fmt.Errorf("unsupported config format %q (want .yaml, .yml or .cue)", filepath.Ext(path))
	}
}

// ValidationError is a single configuration problem.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the field path, e.g. "timing.wait_seconds".
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

// String formats the error with its position.
func (v ValidationError) String() string {
	var b strings.Builder
	if v.File != "" {
		b.WriteString(v.File)
		if v.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", v.Line, v.Column)
		}
		b.WriteString(": ")
	}
	if v.Path != "" {
		b.WriteString(v.Path)
		b.WriteString(": ")
	}
	b.WriteString(v.Message)
	return b.String()
}

// ValidationErrors is returned when a configuration is invalid.
type ValidationErrors []ValidationError

// Error implements error.
func (ve ValidationErrors) Error() string {
	msgs := make([]string, len(ve))
	for i, v := range ve {
		msgs[i] = v.String()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}
