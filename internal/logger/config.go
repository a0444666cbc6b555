package logger

import "time"

// LoggingConfig holds the logging configuration
type LoggingConfig struct {
	DefaultLevel  string                  `yaml:"default_level" mapstructure:"default_level" json:"default_level"` // default log level for all modules
	Timezone      string                  `yaml:"timezone" mapstructure:"timezone" json:"timezone"`                // "Local", "UTC", or IANA name
	Console       *ConsoleOutput          `yaml:"console" mapstructure:"console" json:"console"`
	FileOutput    *FileOutput             `yaml:"file_output" mapstructure:"file_output" json:"file_output"`
	ModuleOutputs map[string]ModuleOutput `yaml:"modules" mapstructure:"modules" json:"modules"`                      // per-module file routing
	ModuleLevels  map[string]string       `yaml:"module_levels" mapstructure:"module_levels" json:"module_levels"`    // per-module log levels
	FlushInterval time.Duration           `yaml:"flush_interval" mapstructure:"flush_interval" json:"flush_interval"` // file buffer flush period, 0 means 5s
}

// ConsoleOutput configures human-readable console output
type ConsoleOutput struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	Level   string `yaml:"level" mapstructure:"level" json:"level"`
}

// FileOutput configures the main JSON log file
type FileOutput struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	Path    string `yaml:"path" mapstructure:"path" json:"path"`
	Level   string `yaml:"level" mapstructure:"level" json:"level"`
}

// ModuleOutput routes a single module to a dedicated file
type ModuleOutput struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	FilePath    string `yaml:"file_path" mapstructure:"file_path" json:"file_path"`
	Level       string `yaml:"level" mapstructure:"level" json:"level"`                      // overrides module_levels
	ConsoleAlso bool   `yaml:"console_also" mapstructure:"console_also" json:"console_also"` // also log to console
}

const (
	DefaultLogLevel         = "info"
	DefaultLogPath          = "logs/dipper.log"
	DefaultDeliveryLogPath  = "logs/delivery.log"
	DefaultConsoleEnabled   = true
	DefaultFileEnabled      = false
	defaultDeliveryModule   = "notification"
	defaultDeliveryModuleV2 = "notification.discord"
)

// applyConfigDefaults fills nil sections so a partial config still logs somewhere.
func applyConfigDefaults(cfg *LoggingConfig) {
	if cfg == nil {
		return
	}

	if cfg.DefaultLevel == "" {
		cfg.DefaultLevel = DefaultLogLevel
	}

	if cfg.Console == nil {
		cfg.Console = &ConsoleOutput{
			Enabled: DefaultConsoleEnabled,
			Level:   cfg.DefaultLevel,
		}
	}

	if cfg.FileOutput == nil {
		cfg.FileOutput = &FileOutput{
			Enabled: DefaultFileEnabled,
			Path:    DefaultLogPath,
			Level:   cfg.DefaultLevel,
		}
	}

	if cfg.ModuleOutputs == nil {
		cfg.ModuleOutputs = make(map[string]ModuleOutput)
	}

	// Delivery logs share one file when file output is on
	if cfg.FileOutput.Enabled {
		ensureModuleOutput(cfg, defaultDeliveryModule, DefaultDeliveryLogPath)
		ensureModuleOutput(cfg, defaultDeliveryModuleV2, DefaultDeliveryLogPath)
	}
}

func ensureModuleOutput(cfg *LoggingConfig, module, filePath string) {
	if _, exists := cfg.ModuleOutputs[module]; !exists {
		cfg.ModuleOutputs[module] = ModuleOutput{
			Enabled:  true,
			FilePath: filePath,
			Level:    cfg.DefaultLevel,
		}
	}
}
