package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Built-in defaults.
const (
	DefaultWaitSeconds     = 11.0
	DefaultAfterCloseDelay = 3.0
	DefaultStartupGrace    = 3.0
	DefaultBatchSize       = 10
	DefaultTruncateLength  = 25
	DefaultMarker          = "PLUGSIFT"
	DefaultCrashReporter   = "CrashReportClient.exe"
)

// DefaultRequired is the stock required plugin list.
var DefaultRequired = []string{
	"Oblivion.esm",
	"DLCBattlehornCastle.esp",
	"DLCFrostcrag.esp",
	"DLCHorseArmor.esp",
	"DLCMehrunesRazor.esp",
	"DLCOrrery.esp",
	"DLCShiveringIsles.esp",
	"DLCSpellTomes.esp",
	"DLCThievesDen.esp",
	"DLCVileLair.esp",
	"Knights.esp",
	"AltarESPMain.esp",
	"AltarDeluxe.esp",
}

// DefaultOptional is the stock optional plugin list.
var DefaultOptional = []string{
	"Unofficial Oblivion Remastered Patch.esp",
	"Unofficial Oblivion Remastered Patch - Deluxe.esp",
}

// DefaultPatchKeywords mark candidates tested in the patch group.
var DefaultPatchKeywords = []string{"patch", "fix", "compat", "merge"}

const (
	defaultGameRoot    = `C:\Program Files (x86)\Steam\steamapps\common\Oblivion Remastered\OblivionRemastered`
	defaultExecutable  = defaultGameRoot + `\Binaries\Win64\obse64_loader.exe`
	defaultOrderFile   = defaultGameRoot + `\Content\Dev\ObvData\Data\plugins.txt`
	defaultProcessName = "OblivionRemastered-Win64-Shipping.exe"
)

// Default returns a configuration populated with the built-in defaults.
func Default() *Config {
	return &Config{
		Target: TargetConfig{
			Executable:    defaultExecutable,
			ProcessName:   defaultProcessName,
			CrashReporter: DefaultCrashReporter,
		},
		OrderFile: defaultOrderFile,
		Plugins: PluginsConfig{
			Required:      append([]string(nil), DefaultRequired...),
			Optional:      append([]string(nil), DefaultOptional...),
			PatchKeywords: append([]string(nil), DefaultPatchKeywords...),
		},
		Timing: TimingConfig{
			WaitSeconds:     DefaultWaitSeconds,
			AfterCloseDelay: DefaultAfterCloseDelay,
			StartupGrace:    DefaultStartupGrace,
		},
		Isolation: IsolationConfig{
			BatchSize:  DefaultBatchSize,
			TurboBatch: true,
			Marker:     DefaultMarker,
		},
		Display: DisplayConfig{
			TruncateLength: DefaultTruncateLength,
		},
		Paths: PathsConfig{
			Home: ".",
		},
		Telemetry: TelemetryConfig{
			LogLevel:  "info",
			LogFormat: "console",
			Tracing:   "none",
		},
	}
}

// WriteDefault writes the default configuration as YAML. An existing file
// is left alone unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("failed to encode default config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
