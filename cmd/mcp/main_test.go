package main

import (
	"bytes"
	"testing"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeEnv(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

// stubServe records whether the command reached the stdio loop.
func stubServe(t *testing.T) *int {
	t.Helper()
	calls := 0
	orig := serveStdio
	serveStdio = func(s *server.MCPServer) error {
		assert.NotNil(t, s)
		calls++
		return nil
	}
	t.Cleanup(func() { serveStdio = orig })
	return &calls
}

func TestCheckAPIURL(t *testing.T) {
	for _, ok := range []string{"http://localhost:8080", "https://fraud.example.in/"} {
		assert.NoError(t, checkAPIURL(ok), ok)
	}
	for _, bad := range []string{"localhost:8080", "ftp://host", "http://", "://nope"} {
		assert.Error(t, checkAPIURL(bad), bad)
	}
}

func TestRootCmd_FlagDefaultsFromEnv(t *testing.T) {
	cmd := newRootCmd(fakeEnv(map[string]string{
		"FRAUDSCOPE_API_URL": "https://scoring.internal:9000",
		"FRAUDSCOPE_API_KEY": "sk_test",
	}))
	assert.Equal(t, "https://scoring.internal:9000", cmd.Flag("api-url").DefValue)
	assert.Equal(t, "sk_test", cmd.Flag("api-key").DefValue)

	cmd = newRootCmd(fakeEnv(nil))
	assert.Equal(t, defaultAPIURL, cmd.Flag("api-url").DefValue)
	assert.Empty(t, cmd.Flag("api-key").DefValue)
}

func TestRootCmd_ServesWithValidURL(t *testing.T) {
	calls := stubServe(t)
	var stderr bytes.Buffer
	cmd := newRootCmd(fakeEnv(nil))
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{"--api-url", "http://127.0.0.1:8080", "--log-level", "info"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, 1, *calls)
	assert.Contains(t, stderr.String(), "mcp server starting")
}

func TestRootCmd_BadURLDoesNotServe(t *testing.T) {
	calls := stubServe(t)
	cmd := newRootCmd(fakeEnv(map[string]string{"FRAUDSCOPE_API_URL": "localhost:8080"}))
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheme must be http or https")
	assert.Zero(t, *calls)
}

func TestRootCmd_RejectsArgs(t *testing.T) {
	calls := stubServe(t)
	cmd := newRootCmd(fakeEnv(nil))
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"extra"})

	assert.Error(t, cmd.Execute())
	assert.Zero(t, *calls)
}
