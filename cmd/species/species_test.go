package species

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/dipper-go/internal/conf"
	"github.com/tphakala/dipper-go/internal/species"
)

func TestPrintMatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		match species.Match
		want  string
	}{
		{
			name:  "single",
			match: species.Match{Query: "AMDI", Results: []string{"American Dipper"}},
			want:  "American Dipper\n",
		},
		{
			name:  "ambiguous",
			match: species.Match{Query: "GRJA", Results: []string{"Gray Jay", "Grayish Jacamar"}, Ambiguous: true},
			want:  "\"GRJA\" needs disambiguation, possible answers:\n  Gray Jay\n  Grayish Jacamar\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			require.NoError(t, printMatch(&buf, tt.match, false))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestPrintMatchJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	m := species.Match{Query: "american dipper", Results: []string{"AMDI"}}
	require.NoError(t, printMatch(&buf, m, true))

	var decoded species.Match
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, m, decoded)
}

func TestCommandTree(t *testing.T) {
	t.Parallel()

	cmd := Command(&conf.Settings{})
	require.NotNil(t, cmd.PersistentFlags().Lookup("locale"))

	for _, name := range []string{"name", "code"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
		assert.NotNil(t, sub.Flags().Lookup("json"), name)
		require.Error(t, sub.Args(sub, nil), "%s requires a query", name)
	}
}
