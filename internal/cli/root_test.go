package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// decodeResponse parses a --format json envelope.
func decodeResponse(t *testing.T, out string, data any) CLIResponse {
	t.Helper()
	var resp struct {
		CLIResponse
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	if data != nil && len(resp.Data) > 0 {
		require.NoError(t, json.Unmarshal(resp.Data, data))
	}
	return resp.CLIResponse
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "tsumo", cmd.Use)
	assert.Contains(t, cmd.Long, "oracle")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"serve", "validate", "replay", "trace", "translate", "test"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)
	assert.Equal(t, "false", verbose.DefValue)

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)

	config := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, config)
	assert.Equal(t, "c", config.Shorthand)

	assert.NotNil(t, cmd.PersistentFlags().Lookup("env-file"))
}

func TestSubcommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	cases := map[string][]string{
		"serve":     {"listen", "journal", "auto"},
		"trace":     {"journal", "session", "latest", "state", "limit"},
		"replay":    {"journal", "session", "oracle", "oracle-arg"},
		"translate": {"action", "snapshot"},
		"test":      {"filter", "golden", "update"},
	}
	for name, flags := range cases {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		for _, f := range flags {
			assert.NotNil(t, sub.Flags().Lookup(f), "%s --%s", name, f)
		}
	}
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "validate", "--format", "yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `invalid format "yaml"`)
}
