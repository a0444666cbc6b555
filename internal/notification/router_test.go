package notification

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/dipper-go/internal/errors"
	"github.com/tphakala/dipper-go/internal/logger"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, destination, message string, silent bool) error {
	return m.Called(ctx, destination, message, silent).Error(0)
}

func TestIsDiscordWebhook(t *testing.T) {
	t.Parallel()

	tests := []struct {
		destination string
		want        bool
	}{
		{"https://discord.com/api/webhooks/1/abc", true},
		{"https://discordapp.com/api/webhooks/1/abc", true},
		{"https://canary.discord.com/api/webhooks/1/abc", true},
		{"https://discord.com/channels/1/2", false},
		{"https://evil.example/api/webhooks/1/abc", false},
		{"discord://token@channel", false},
		{"slack://hook", false},
		{"::not a url", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsDiscordWebhook(tt.destination), tt.destination)
	}
}

func TestDestinationLabel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "discord/123", DestinationLabel("https://discord.com/api/webhooks/123/token"))
	assert.Equal(t, "[REDACTED]", DestinationLabel("slack://"))
	assert.Equal(t, "telegram://api.telegram.org/[REDACTED]", DestinationLabel("telegram://api.telegram.org/bot123:secret"))
}

func TestRouter_PicksSenderByScheme(t *testing.T) {
	t.Parallel()

	discord, other := &mockSender{}, &mockSender{}
	rec := newFakeRecorder()
	r := NewRouter(discord, other, WithLogger(logger.NewDiscardLogger()), WithMetrics(rec))

	discord.On("Send", mock.Anything, testWebhook, "a", true).Return(nil).Once()
	other.On("Send", mock.Anything, "slack://token@channel", "b", true).Return(nil).Once()

	require.NoError(t, r.Send(t.Context(), testWebhook, "a", true))
	require.NoError(t, r.Send(t.Context(), "slack://token@channel", "b", true))

	discord.AssertExpectations(t)
	other.AssertExpectations(t)
	assert.Equal(t, 1, rec.delivered(SenderDiscord, StatusSuccess))
	assert.Equal(t, 1, rec.delivered(SenderShoutrrr, StatusSuccess))
}

func TestRouter_WrapsFailures(t *testing.T) {
	t.Parallel()

	boom := errors.NewStd("webhook down")
	discord := &mockSender{}
	discord.On("Send", mock.Anything, testWebhook, "a", true).Return(boom)

	rec := newFakeRecorder()
	r := NewRouter(discord, nil, WithLogger(logger.NewDiscardLogger()), WithMetrics(rec))

	err := r.Send(t.Context(), testWebhook, "a", true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeliveryFailure)
	assert.ErrorIs(t, err, boom)
	assert.True(t, errors.IsCategory(err, errors.CategoryDelivery))
	assert.NotContains(t, err.Error(), "secret-token")
	assert.Equal(t, 1, rec.delivered(SenderDiscord, StatusError))
}

func TestRouter_MissingSender(t *testing.T) {
	t.Parallel()

	rec := newFakeRecorder()
	r := NewRouter(nil, nil, WithLogger(logger.NewDiscardLogger()), WithMetrics(rec))

	err := r.Send(t.Context(), "slack://token@channel", "a", true)
	require.ErrorIs(t, err, ErrDeliveryFailure)
	assert.Equal(t, 1, rec.delivered(SenderShoutrrr, StatusError))
}

func TestRouter_RecordsRejectedWhenCircuitOpen(t *testing.T) {
	t.Parallel()

	rec := newFakeRecorder()
	discord, transport, _ := newMockedDiscord(t, DiscordConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Hour, HalfOpenMaxRequests: 1},
	})
	transport.RegisterResponder(http.MethodPost, testWebhook, httpmock.NewStringResponder(http.StatusBadGateway, "down"))

	r := NewRouter(discord, nil, WithLogger(logger.NewDiscardLogger()), WithMetrics(rec))

	require.ErrorIs(t, r.Send(t.Context(), testWebhook, "a", true), ErrDeliveryFailure)
	require.ErrorIs(t, r.Send(t.Context(), testWebhook, "a", true), ErrDeliveryFailure)

	assert.Equal(t, 1, rec.delivered(SenderDiscord, StatusError))
	assert.Equal(t, 1, rec.delivered(SenderDiscord, StatusRejected))
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestRouter_HealthFollowsWebhookBreakers(t *testing.T) {
	t.Parallel()

	discord, transport, _ := newMockedDiscord(t, DiscordConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Hour, HalfOpenMaxRequests: 1},
	})
	transport.RegisterResponder(http.MethodPost, testWebhook, httpmock.NewStringResponder(http.StatusBadGateway, "down"))

	// mockSender keeps no breakers and is skipped
	r := NewRouter(discord, &mockSender{}, WithLogger(logger.NewDiscardLogger()))
	assert.True(t, r.Healthy(), "no webhook has failed yet")
	assert.Empty(t, r.BreakerStats())

	require.Error(t, r.Send(t.Context(), testWebhook, "a", true))

	assert.False(t, r.Healthy())
	stats := r.BreakerStats()
	require.Len(t, stats, 1)
	assert.Equal(t, "discord/123", stats[0].Destination)
	assert.Equal(t, StateOpen, stats[0].State)
}
