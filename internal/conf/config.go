// config.go: settings struct for dipper and the functions to load and render it.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/dipper-go/internal/logger"
	"github.com/tphakala/dipper-go/internal/secrets"
)

//go:embed config.yaml
var configFiles embed.FS

// MainSettings holds node identity
type MainSettings struct {
	Name string `mapstructure:"name" yaml:"name"` // node name, used as MQTT client id prefix and Sentry server name
}

// EBirdSettings configures the sighting source client
type EBirdSettings struct {
	APIKey        string        `mapstructure:"apikey" yaml:"apikey"`         // literal or ${VAR}
	APIKeyFile    string        `mapstructure:"apikeyfile" yaml:"apikeyfile"` // read the key from this file instead
	BaseURL       string        `mapstructure:"baseurl" yaml:"baseurl"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	CacheTTL      time.Duration `mapstructure:"cachettl" yaml:"cachettl"`           // reference data cache lifetime
	RateLimit     float64       `mapstructure:"ratelimit" yaml:"ratelimit"`         // requests per second
	RetryAttempts int           `mapstructure:"retryattempts" yaml:"retryattempts"` // total attempts for recent notable fetches
	RetryDelay    time.Duration `mapstructure:"retrydelay" yaml:"retrydelay"`       // fixed delay between attempts
	BackDays      int           `mapstructure:"backdays" yaml:"backdays"`
	MaxResults    int           `mapstructure:"maxresults" yaml:"maxresults"`
	Locale        string        `mapstructure:"locale" yaml:"locale"` // taxonomy common name locale, e.g. fr, empty for English
}

// DiscordSettings configures Discord webhook delivery
type DiscordSettings struct {
	WebhookTemplate string        `mapstructure:"webhooktemplate" yaml:"webhooktemplate"` // e.g. https://discord.com/api/webhooks/{channel}, {channel} is the region channel name
	RateLimit       float64       `mapstructure:"ratelimit" yaml:"ratelimit"`             // posts per second per webhook
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// RegionSettings selects the regions a run covers and where their messages go
type RegionSettings struct {
	Parent       string            `mapstructure:"parent" yaml:"parent"` // parent region for directory sync, e.g. US-CO
	Prefix       string            `mapstructure:"prefix" yaml:"prefix"` // county code prefix, e.g. US-CO-
	Codes        []string          `mapstructure:"codes" yaml:"codes"`   // explicit region list, empty means every county under Prefix
	Destinations map[string]string `mapstructure:"destinations" yaml:"destinations"`
}

// ScheduleSettings configures the daily pipeline runs
type ScheduleSettings struct {
	Enabled        bool     `mapstructure:"enabled" yaml:"enabled"`
	Timezone       string   `mapstructure:"timezone" yaml:"timezone"`
	Times          []string `mapstructure:"times" yaml:"times"` // HH:MM wall clock times
	RefreshThreads bool     `mapstructure:"refreshthreads" yaml:"refreshthreads"`
}

// PipelineSettings tunes the RBA pipeline
type PipelineSettings struct {
	FetchConcurrency int     `mapstructure:"fetchconcurrency" yaml:"fetchconcurrency"` // 1 keeps fetches sequential
	MaxMessageLength int     `mapstructure:"maxmessagelength" yaml:"maxmessagelength"`
	ClusterRadiusKm  float64 `mapstructure:"clusterradiuskm" yaml:"clusterradiuskm"`
	MaxAlsoReported  int     `mapstructure:"maxalsoreported" yaml:"maxalsoreported"`
	Silent           bool    `mapstructure:"silent" yaml:"silent"`                 // suppress chat notifications for RBA posts
	RecencyUpdates   bool    `mapstructure:"recencyupdates" yaml:"recencyupdates"` // post a message when a thread changes bucket
}

// SQLiteSettings configures the default store
type SQLiteSettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// MySQLSettings configures the optional MySQL store
type MySQLSettings struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	Username     string `mapstructure:"username" yaml:"username"`
	Password     string `mapstructure:"password" yaml:"password"`
	PasswordFile string `mapstructure:"passwordfile" yaml:"passwordfile"`
	Host         string `mapstructure:"host" yaml:"host"`
	Port         string `mapstructure:"port" yaml:"port"`
	Database     string `mapstructure:"database" yaml:"database"`
}

// OutputSettings selects the persistent store
type OutputSettings struct {
	SQLite SQLiteSettings `mapstructure:"sqlite" yaml:"sqlite"`
	MySQL  MySQLSettings  `mapstructure:"mysql" yaml:"mysql"`
}

// CircuitBreakerSettings configures per-destination delivery circuit breakers
type CircuitBreakerSettings struct {
	MaxFailures int           `mapstructure:"maxfailures" yaml:"maxfailures"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// NotificationSettings configures delivery
type NotificationSettings struct {
	CircuitBreaker CircuitBreakerSettings `mapstructure:"circuitbreaker" yaml:"circuitbreaker"`
	Timeout        time.Duration          `mapstructure:"timeout" yaml:"timeout"` // shoutrrr send timeout
}

// MQTTSettings contains settings for MQTT summaries
type MQTTSettings struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	Broker       string `mapstructure:"broker" yaml:"broker"`
	Topic        string `mapstructure:"topic" yaml:"topic"`
	Username     string `mapstructure:"username" yaml:"username"`
	Password     string `mapstructure:"password" yaml:"password"`
	PasswordFile string `mapstructure:"passwordfile" yaml:"passwordfile"`
	Retain       bool   `mapstructure:"retain" yaml:"retain"`
}

// WebServerSettings configures the HTTP surface
type WebServerSettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    string `mapstructure:"port" yaml:"port"`
}

// MetricsSettings toggles the Prometheus endpoint
type MetricsSettings struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// SentrySettings configures error telemetry
type SentrySettings struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	DSN         string `mapstructure:"dsn" yaml:"dsn"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

// Settings is the root of the configuration tree
type Settings struct {
	Debug bool `mapstructure:"debug" yaml:"debug"`

	Main         MainSettings         `mapstructure:"main" yaml:"main"`
	EBird        EBirdSettings        `mapstructure:"ebird" yaml:"ebird"`
	Discord      DiscordSettings      `mapstructure:"discord" yaml:"discord"`
	Regions      RegionSettings       `mapstructure:"regions" yaml:"regions"`
	Schedule     ScheduleSettings     `mapstructure:"schedule" yaml:"schedule"`
	Pipeline     PipelineSettings     `mapstructure:"pipeline" yaml:"pipeline"`
	Output       OutputSettings       `mapstructure:"output" yaml:"output"`
	Notification NotificationSettings `mapstructure:"notification" yaml:"notification"`
	MQTT         MQTTSettings         `mapstructure:"mqtt" yaml:"mqtt"`
	WebServer    WebServerSettings    `mapstructure:"webserver" yaml:"webserver"`
	Metrics      MetricsSettings      `mapstructure:"metrics" yaml:"metrics"`
	Sentry       SentrySettings       `mapstructure:"sentry" yaml:"sentry"`
	Logging      logger.LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// loadMutex serializes use of the global viper instance
var loadMutex sync.Mutex

// LoadFile reads the config file and environment variables into new settings.
// An empty path searches the default locations and creates a default config
// when none exists.
func LoadFile(configFile string) (*Settings, error) {
	loadMutex.Lock()
	defer loadMutex.Unlock()

	settings := &Settings{}

	if err := initViper(configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := resolveSecrets(settings); err != nil {
		return nil, fmt.Errorf("error resolving secrets: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	return settings, nil
}

// resolveSecrets replaces credentials with their ${VAR} expansion or file contents
func resolveSecrets(s *Settings) error {
	fields := []struct {
		name  string
		file  string
		value *string
	}{
		{"ebird.apikey", s.EBird.APIKeyFile, &s.EBird.APIKey},
		{"output.mysql.password", s.Output.MySQL.PasswordFile, &s.Output.MySQL.Password},
		{"mqtt.password", s.MQTT.PasswordFile, &s.MQTT.Password},
		{"sentry.dsn", "", &s.Sentry.DSN},
		{"discord.webhooktemplate", "", &s.Discord.WebhookTemplate},
	}

	for _, f := range fields {
		resolved, err := secrets.Resolve(f.file, *f.value)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.value = resolved
	}
	for region, destination := range s.Regions.Destinations {
		resolved, err := secrets.ExpandString(destination)
		if err != nil {
			return fmt.Errorf("regions.destinations.%s: %w", region, err)
		}
		s.Regions.Destinations[region] = resolved
	}
	return nil
}

// initViper sets defaults, binds the environment and reads the config file.
func initViper(configFile string) error {
	viper.SetConfigType("yaml")

	setDefaultConfig()

	if err := bindEnvVars(); err != nil {
		// invalid env values are reported but the file still loads
		logger.Global().Module("conf").Warn("environment variable problems", logger.Error(err))
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
		return nil
	}

	viper.SetConfigName("config")
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig(configPaths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded config.yaml into dir and reads it back
func createDefaultConfig(dir string) error {
	configPath := filepath.Join(dir, "config.yaml")
	if err := WriteDefaultConfig(configPath, false); err != nil {
		return err
	}

	logger.Global().Module("conf").Info("created default config file", logger.String("path", configPath))
	viper.SetConfigFile(configPath)
	return viper.ReadInConfig()
}

// WriteDefaultConfig writes the embedded, commented config.yaml to path,
// creating parent directories. An existing file is replaced only with force.
func WriteDefaultConfig(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	defaultConfig, err := getDefaultConfig()
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, defaultConfig, 0o600); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}
	return nil
}

// getDefaultConfig returns the embedded default config.yaml
func getDefaultConfig() ([]byte, error) {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return nil, fmt.Errorf("error reading embedded config: %w", err)
	}
	return data, nil
}

// redacted replaces a non-empty credential
const redacted = "[REDACTED]"

// RedactedYAML renders settings as YAML with credentials masked and
// destination URLs reduced to scheme and host. settings is not modified.
func RedactedYAML(settings *Settings) ([]byte, error) {
	s := *settings

	for _, v := range []*string{&s.EBird.APIKey, &s.Output.MySQL.Password, &s.MQTT.Password, &s.Sentry.DSN} {
		if *v != "" {
			*v = redacted
		}
	}
	if s.Discord.WebhookTemplate != "" {
		s.Discord.WebhookTemplate = logger.RedactURL(s.Discord.WebhookTemplate)
	}
	if len(settings.Regions.Destinations) > 0 {
		s.Regions.Destinations = make(map[string]string, len(settings.Regions.Destinations))
		for region, destination := range settings.Regions.Destinations {
			s.Regions.Destinations[region] = logger.RedactURL(destination)
		}
	}

	data, err := yaml.Marshal(&s)
	if err != nil {
		return nil, fmt.Errorf("error marshaling settings to YAML: %w", err)
	}
	return data, nil
}
