// conf/validate.go

package conf

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ChannelPlaceholder is expanded with a region's channel name in discord.webhooktemplate
const ChannelPlaceholder = "{channel}"

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) []string{
		validateEBirdSettings,
		validateDiscordSettings,
		validateScheduleSettings,
		validatePipelineSettings,
		validateOutputSettings,
		validateMQTTSettings,
		validateWebServerSettings,
		validateSentrySettings,
	}
	for _, validate := range validators {
		ve.Errors = append(ve.Errors, validate(settings)...)
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateEBirdSettings(s *Settings) []string {
	var errs []string
	if s.EBird.BaseURL != "" {
		if err := validateEnvURL(s.EBird.BaseURL); err != nil {
			errs = append(errs, fmt.Sprintf("ebird.baseurl: %v", err))
		}
	}
	if s.EBird.RetryAttempts < 1 {
		errs = append(errs, "ebird.retryattempts must be at least 1")
	}
	if s.EBird.RetryDelay < 0 {
		errs = append(errs, "ebird.retrydelay must not be negative")
	}
	if s.EBird.MaxResults < 1 || s.EBird.MaxResults > 10000 {
		errs = append(errs, "ebird.maxresults must be between 1 and 10000")
	}
	if s.EBird.BackDays < 1 || s.EBird.BackDays > 30 {
		errs = append(errs, "ebird.backdays must be between 1 and 30")
	}
	return errs
}

func validateDiscordSettings(s *Settings) []string {
	var errs []string
	if tmpl := s.Discord.WebhookTemplate; tmpl != "" {
		if !strings.Contains(tmpl, ChannelPlaceholder) {
			errs = append(errs, fmt.Sprintf("discord.webhooktemplate must contain %s", ChannelPlaceholder))
		}
	}
	for region, destination := range s.Regions.Destinations {
		if _, err := url.Parse(destination); err != nil || destination == "" {
			errs = append(errs, fmt.Sprintf("regions.destinations.%s: invalid destination", region))
		}
	}
	return errs
}

func validateScheduleSettings(s *Settings) []string {
	var errs []string
	if _, err := time.LoadLocation(s.Schedule.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("schedule.timezone: %v", err))
	}
	for _, t := range s.Schedule.Times {
		if _, _, err := ParseClock(t); err != nil {
			errs = append(errs, fmt.Sprintf("schedule.times: %v", err))
		}
	}
	if s.Schedule.Enabled && len(s.Schedule.Times) == 0 {
		errs = append(errs, "schedule.times must not be empty when the schedule is enabled")
	}
	return errs
}

func validatePipelineSettings(s *Settings) []string {
	var errs []string
	if s.Pipeline.FetchConcurrency < 1 {
		errs = append(errs, "pipeline.fetchconcurrency must be at least 1")
	}
	if s.Pipeline.MaxMessageLength < 100 {
		errs = append(errs, "pipeline.maxmessagelength must be at least 100")
	}
	if s.Pipeline.ClusterRadiusKm <= 0 {
		errs = append(errs, "pipeline.clusterradiuskm must be positive")
	}
	if s.Pipeline.MaxAlsoReported < 0 {
		errs = append(errs, "pipeline.maxalsoreported must not be negative")
	}
	return errs
}

func validateOutputSettings(s *Settings) []string {
	var errs []string
	if !s.Output.SQLite.Enabled && !s.Output.MySQL.Enabled {
		errs = append(errs, "one of output.sqlite or output.mysql must be enabled")
	}
	if s.Output.SQLite.Enabled && s.Output.SQLite.Path == "" {
		errs = append(errs, "output.sqlite.path is required")
	}
	if m := s.Output.MySQL; m.Enabled {
		if m.Username == "" || m.Host == "" || m.Database == "" {
			errs = append(errs, "output.mysql requires username, host and database")
		}
		if _, err := strconv.Atoi(m.Port); err != nil {
			errs = append(errs, "output.mysql.port must be numeric")
		}
	}
	return errs
}

func validateMQTTSettings(s *Settings) []string {
	if !s.MQTT.Enabled {
		return nil
	}
	var errs []string
	if err := validateEnvURL(s.MQTT.Broker); err != nil {
		errs = append(errs, fmt.Sprintf("mqtt.broker: %v", err))
	}
	if s.MQTT.Topic == "" {
		errs = append(errs, "mqtt.topic is required")
	}
	return errs
}

func validateWebServerSettings(s *Settings) []string {
	if !s.WebServer.Enabled {
		return nil
	}
	if err := validateEnvPort(s.WebServer.Port); err != nil {
		return []string{fmt.Sprintf("webserver.port: %v", err)}
	}
	return nil
}

func validateSentrySettings(s *Settings) []string {
	if s.Sentry.Enabled && s.Sentry.DSN == "" {
		return []string{"sentry.dsn is required when sentry is enabled"}
	}
	return nil
}

// ParseClock parses an HH:MM wall clock time
func ParseClock(value string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", value)
	}
	return t.Hour(), t.Minute(), nil
}
