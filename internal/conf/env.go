// env.go: environment variable bindings and their validation
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "DIPPER_DEBUG", validateEnvBool},

		{"ebird.apikey", "DIPPER_EBIRD_APIKEY", validateEnvAPIKey},
		{"ebird.baseurl", "DIPPER_EBIRD_BASEURL", validateEnvURL},

		{"discord.webhooktemplate", "DIPPER_DISCORD_WEBHOOKTEMPLATE", validateEnvURL},

		{"schedule.timezone", "DIPPER_SCHEDULE_TIMEZONE", nil},
		{"schedule.enabled", "DIPPER_SCHEDULE_ENABLED", validateEnvBool},

		{"pipeline.fetchconcurrency", "DIPPER_PIPELINE_FETCHCONCURRENCY", validateEnvPositiveInt},

		{"output.sqlite.path", "DIPPER_SQLITE_PATH", validateEnvPath},
		{"output.mysql.enabled", "DIPPER_MYSQL_ENABLED", validateEnvBool},
		{"output.mysql.host", "DIPPER_MYSQL_HOST", nil},
		{"output.mysql.username", "DIPPER_MYSQL_USERNAME", nil},
		{"output.mysql.password", "DIPPER_MYSQL_PASSWORD", nil},

		{"mqtt.enabled", "DIPPER_MQTT_ENABLED", validateEnvBool},
		{"mqtt.broker", "DIPPER_MQTT_BROKER", validateEnvURL},

		{"webserver.port", "DIPPER_WEBSERVER_PORT", validateEnvPort},

		{"sentry.dsn", "DIPPER_SENTRY_DSN", validateEnvURL},
	}
}

// bindEnvVars binds every variable and collects validation problems.
// Values are still bound when they fail validation; ValidateSettings has the final word.
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		if envValue := os.Getenv(binding.EnvVar); envValue != "" {
			if err := binding.Validate(envValue); err != nil {
				warnings = append(warnings, fmt.Sprintf("Invalid %s value: %v", binding.EnvVar, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

// eBird API keys are short alphanumeric tokens
func validateEnvAPIKey(value string) error {
	if len(value) < 8 {
		return fmt.Errorf("api key too short")
	}
	for _, r := range value {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return fmt.Errorf("api key must be alphanumeric")
		}
	}
	return nil
}

func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute URL")
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return fmt.Errorf("must be a positive integer")
	}
	return nil
}

func validateEnvPort(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("must be a port number between 1 and 65535")
	}
	return nil
}

func validateEnvPath(value string) error {
	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("path contains NUL byte")
	}
	return nil
}
