package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/tphakala/dipper-go/internal/errors"
)

// Summary describes one region's part of a pipeline run.
type Summary struct {
	RunID        string    `json:"run_id"`
	Region       string    `json:"region"`
	Observations int       `json:"observations"`
	Messages     int       `json:"messages"`
	Delivered    int       `json:"delivered"`
	Skipped      int       `json:"skipped"`
	Timestamp    time.Time `json:"timestamp"`
}

// Topic returns the topic a region's summary is published to.
func Topic(base, region string) string {
	if base == "" {
		base = DefaultTopic
	}
	return strings.TrimSuffix(base, "/") + "/" + region
}

// SummaryPublisher publishes run summaries, connecting on first use.
type SummaryPublisher struct {
	client Client
	topic  string
}

// NewSummaryPublisher creates a publisher writing below topic.
func NewSummaryPublisher(client Client, topic string) *SummaryPublisher {
	return &SummaryPublisher{client: client, topic: topic}
}

// PublishSummary marshals s and publishes it to {topic}/{region}.
func (p *SummaryPublisher) PublishSummary(ctx context.Context, s Summary) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Build()
	}

	if !p.client.IsConnected() {
		if err := p.client.Connect(ctx); err != nil {
			return err
		}
	}

	return p.client.Publish(ctx, Topic(p.topic, s.Region), payload)
}

// Close disconnects the underlying client.
func (p *SummaryPublisher) Close() {
	p.client.Disconnect()
}
