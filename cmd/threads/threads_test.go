package threads

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/dipper-go/internal/observation"
	"github.com/tphakala/dipper-go/internal/recency"
)

func TestNewThread(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		species    string
		region     string
		threadType string
		wantKey    string
		wantErr    bool
	}{
		{name: "user thread", species: " Red-eyed Vireo ", region: "us-co-013", threadType: observation.ThreadTypeUser, wantKey: "Red-eyed Vireo|US-CO-013"},
		{name: "bot thread", species: "Snowy Owl", region: "US-CO-031", threadType: observation.ThreadTypeBot, wantKey: "Snowy Owl|US-CO-031"},
		{name: "missing species", species: " ", region: "US-CO-013", threadType: observation.ThreadTypeUser, wantErr: true},
		{name: "separator in region", species: "Snowy Owl", region: "US|CO", threadType: observation.ThreadTypeUser, wantErr: true},
		{name: "unknown type", species: "Snowy Owl", region: "US-CO-013", threadType: "channel", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			thread, err := newThread(tt.species, tt.region, "https://discord.com/api/webhooks/1/x", tt.threadType)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKey, thread.TrackerKey)
			assert.Equal(t, tt.threadType, thread.Type)
			assert.Equal(t, string(recency.NoReports), thread.StatusBucket)
			assert.Equal(t, "https://discord.com/api/webhooks/1/x", thread.ThreadID)
		})
	}
}

func TestCommandTree(t *testing.T) {
	t.Parallel()

	cmd := Command(nil)
	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"list", "refresh", "add", "delete"}, names)
}
