package notification

import (
	"context"
	"net/url"
	"strings"

	"github.com/tphakala/dipper-go/internal/errors"
	"github.com/tphakala/dipper-go/internal/logger"
)

// Sender names used as metric labels.
const (
	SenderDiscord  = "discord"
	SenderShoutrrr = "shoutrrr"
)

var discordHosts = map[string]bool{
	"discord.com":        true,
	"discordapp.com":     true,
	"ptb.discord.com":    true,
	"canary.discord.com": true,
}

// IsDiscordWebhook reports whether destination is a Discord webhook URL.
func IsDiscordWebhook(destination string) bool {
	u, err := url.Parse(destination)
	if err != nil {
		return false
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return false
	}
	return discordHosts[strings.ToLower(u.Hostname())] && strings.HasPrefix(u.Path, "/api/webhooks/")
}

// DestinationLabel names a destination for logs and metrics without its
// credentials. Discord webhooks keep their numeric id.
func DestinationLabel(destination string) string {
	if IsDiscordWebhook(destination) {
		u, _ := url.Parse(destination)
		id, _, _ := strings.Cut(strings.TrimPrefix(u.Path, "/api/webhooks/"), "/")
		if id != "" {
			return "discord/" + id
		}
	}
	return logger.RedactURL(destination)
}

// Router sends each message through the sender matching its destination.
type Router struct {
	discord  Sender
	shoutrrr Sender
	log      logger.Logger
	recorder MetricsRecorder
}

// NewRouter creates a router. Either sender may be nil, in which case
// destinations for it fail with ErrDeliveryFailure.
func NewRouter(discord, shoutrrr Sender, opts ...Option) *Router {
	o := applyOptions(opts)
	return &Router{
		discord:  discord,
		shoutrrr: shoutrrr,
		log:      o.log,
		recorder: o.recorder,
	}
}

// Send implements Sender.
func (r *Router) Send(ctx context.Context, destination, message string, silent bool) error {
	name, sender := r.pick(destination)
	redacted := DestinationLabel(destination)

	if sender == nil {
		r.record(name, StatusError)
		return errors.Newf("%w: no %s sender configured", ErrDeliveryFailure, name).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Context("destination", redacted).
			Build()
	}

	err := sender.Send(ctx, destination, message, silent)
	if err == nil {
		r.record(name, StatusSuccess)
		return nil
	}

	status := StatusError
	if errors.Is(err, ErrCircuitBreakerOpen) || errors.Is(err, ErrTooManyRequests) {
		status = StatusRejected
	}
	r.record(name, status)

	r.log.Warn("delivery failed",
		logger.String("sender", name),
		logger.String("destination", redacted),
		logger.Error(err))

	return errors.Newf("%w: %w", ErrDeliveryFailure, err).
		Component("notification").
		Category(errors.CategoryDelivery).
		Context("sender", name).
		Context("destination", redacted).
		Build()
}

func (r *Router) pick(destination string) (string, Sender) {
	if IsDiscordWebhook(destination) {
		return SenderDiscord, r.discord
	}
	return SenderShoutrrr, r.shoutrrr
}

func (r *Router) record(sender, status string) {
	if r.recorder != nil {
		r.recorder.RecordDelivery(sender, status)
	}
}

// BreakerReporter is implemented by senders that keep per-destination
// circuit breakers.
type BreakerReporter interface {
	BreakerStats() []BreakerStatus
}

// BreakerStats collects the breaker snapshots of both senders.
func (r *Router) BreakerStats() []BreakerStatus {
	var out []BreakerStatus
	for _, sender := range []Sender{r.discord, r.shoutrrr} {
		if reporter, ok := sender.(BreakerReporter); ok {
			out = append(out, reporter.BreakerStats()...)
		}
	}
	return out
}

// Healthy reports whether every destination circuit is closed.
func (r *Router) Healthy() bool {
	for _, status := range r.BreakerStats() {
		if !status.IsHealthy() {
			return false
		}
	}
	return true
}
