package rba

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/dipper-go/internal/pipeline"
)

func TestPrintResult(t *testing.T) {
	t.Parallel()

	res := pipeline.RegionResult{
		Region:      "US-CO-013",
		Destination: "https://discord.com/api/webhooks/1/secret",
		Fetched:     3,
		Converted:   2,
		Skipped:     1,
		Messages:    []string{"first", "second"},
		Status:      pipeline.StatusSuccess,
	}

	var buf bytes.Buffer
	require.NoError(t, printResult(&buf, res, false))
	assert.Equal(t, "first\n---\nsecond\n\nUS-CO-013: fetched=3 converted=2 skipped=1 delivered=0 status=success\n", buf.String())

	buf.Reset()
	require.NoError(t, printResult(&buf, res, true))
	assert.Contains(t, buf.String(), `"region": "US-CO-013"`)
	assert.NotContains(t, buf.String(), "secret")
}

func TestPrintResultEmpty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, printResult(&buf, pipeline.RegionResult{Region: "US-CO-001", Status: pipeline.StatusSuccess}, false))
	assert.Contains(t, buf.String(), "No notable sightings for US-CO-001")
}

func TestCommandRequiresRegion(t *testing.T) {
	t.Parallel()

	cmd := Command(nil)
	cmd.SetArgs([]string{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	require.Error(t, cmd.Execute())
}
