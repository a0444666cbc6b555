// Package errors - telemetry integration (optional)
package errors

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter is an interface for reporting errors to telemetry systems
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

// SentryReporter implements TelemetryReporter for Sentry
type SentryReporter struct {
	enabled bool
}

// NewSentryReporter creates a new Sentry telemetry reporter
func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{enabled: enabled}
}

// IsEnabled returns whether Sentry telemetry is enabled
func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

// ReportError reports an enhanced error to Sentry with privacy scrubbing
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee.IsReported() {
		return
	}

	message := scrubMessageForPrivacy(fmt.Sprintf("[%s] %s", ee.Category, ee.Err.Error()))
	component := ee.GetComponent()
	title := generateErrorTitle(ee)

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("error_title", title)
		scope.SetTag("component", component)
		scope.SetTag("category", ee.GetCategory())
		if priority := ee.GetPriority(); priority != "" {
			scope.SetTag("priority", priority)
		}
		scope.SetTag("error_type", fmt.Sprintf("%T", ee.Err))

		for key, value := range ee.GetContext() {
			if s, ok := value.(string); ok {
				value = scrubMessageForPrivacy(s)
			}
			scope.SetContext(key, map[string]any{"value": value})
		}

		level := getErrorLevel(ee.Category)
		scope.SetLevel(level)
		scope.SetFingerprint([]string{title, component, string(ee.Category)})

		event := sentry.NewEvent()
		event.Message = message
		event.Level = level
		event.Exception = []sentry.Exception{{Type: title, Value: message}}
		sentry.CaptureEvent(event)
	})

	ee.MarkReported()
}

// generateErrorTitle builds "Component Category Operation" for Sentry grouping
func generateErrorTitle(ee *EnhancedError) string {
	var parts []string

	if component := ee.GetComponent(); component != "" && component != ComponentUnknown {
		parts = append(parts, titleCase(component))
	}
	if category := formatCategoryForTitle(ee.Category); category != "" {
		parts = append(parts, category)
	}
	if operation, ok := ee.GetContext()["operation"].(string); ok && operation != "" {
		words := strings.Fields(strings.ReplaceAll(operation, "_", " "))
		for i, w := range words {
			words[i] = titleCase(w)
		}
		parts = append(parts, strings.Join(words, " "))
	}

	if len(parts) == 0 {
		return fmt.Sprintf("%T", ee.Err)
	}
	return strings.Join(parts, " ")
}

func formatCategoryForTitle(category ErrorCategory) string {
	switch category {
	case CategoryValidation:
		return "Validation Error"
	case CategoryNetwork:
		return "Network Error"
	case CategoryDatabase:
		return "Database Error"
	case CategoryConfiguration:
		return "Configuration Error"
	case CategorySourceFetch:
		return "Source Fetch Error"
	case CategoryDelivery:
		return "Delivery Error"
	case CategoryTimezone:
		return "Timezone Error"
	default:
		return string(category)
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

// getErrorLevel returns the Sentry level for a category
func getErrorLevel(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryNetwork, CategorySourceFetch, CategoryDelivery, CategoryTimeout:
		return sentry.LevelWarning // usually transient
	case CategoryTimezone, CategoryRegionLookup, CategoryNotFound:
		return sentry.LevelInfo
	default:
		return sentry.LevelError
	}
}

var (
	reporterMu              sync.RWMutex
	globalTelemetryReporter TelemetryReporter
)

// SetTelemetryReporter sets the global telemetry reporter. Passing nil disables reporting.
func SetTelemetryReporter(reporter TelemetryReporter) {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	globalTelemetryReporter = reporter
	hasActiveReporting.Store(reporter != nil && reporter.IsEnabled())
}

// GetTelemetryReporter returns the current telemetry reporter
func GetTelemetryReporter() TelemetryReporter {
	reporterMu.RLock()
	defer reporterMu.RUnlock()
	return globalTelemetryReporter
}

func reportToTelemetry(ee *EnhancedError) {
	if reporter := GetTelemetryReporter(); reporter != nil && reporter.IsEnabled() {
		reporter.ReportError(ee)
	}
}

var (
	urlQueryRegex   = regexp.MustCompile(`(https?://[^?\s]+)\?\S*`)
	webhookRegex    = regexp.MustCompile(`(https?://[^/\s]*discord(?:app)?\.com/api/webhooks/)\S+`)
	apiKeyRegexes   = compileAll(`(?i)api[_-]?key[=:]\S+`, `(?i)token[=:]\S+`, `(?i)auth[=:]\S+`, `(?i)x-ebirdapitoken[=:\s]+\S+`)
	credentialRegex = regexp.MustCompile(`://[^/\s:@]+:[^/\s@]+@`)
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

// basicURLScrub removes query strings, webhook tokens, credentials and API keys
func basicURLScrub(message string) string {
	scrubbed := webhookRegex.ReplaceAllString(message, "$1[REDACTED]")
	scrubbed = urlQueryRegex.ReplaceAllString(scrubbed, "$1?[REDACTED]")
	scrubbed = credentialRegex.ReplaceAllString(scrubbed, "://[REDACTED]@")
	for _, re := range apiKeyRegexes {
		scrubbed = re.ReplaceAllString(scrubbed, "[API_KEY_REDACTED]")
	}
	return scrubbed
}

func scrubMessageForPrivacy(message string) string {
	return basicURLScrub(message)
}
