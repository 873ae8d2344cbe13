package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaharia-lab/fsmcp/config"
)

type reply struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code int `json:"code"`
	} `json:"error"`
}

func TestRun_EndToEnd(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hi there\n"), 0o644))

	cfg := config.Default()
	cfg.AllowedRoots = []string{root}
	cfg.Workers = 2
	cfg.LogFile = filepath.Join(t.TempDir(), "fsmcp.log")

	args, err := json.Marshal(map[string]string{"path": filepath.Join(root, "hello.txt")})
	require.NoError(t, err)

	in := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"read_file","arguments":` + string(args) + `}}`,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"get_file_info","arguments":{"path":"/etc/passwd"}}}`,
	}, "\n") + "\n"

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), cfg, strings.NewReader(in), &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)

	replies := make([]reply, len(lines))
	for i, line := range lines {
		require.NoError(t, json.Unmarshal([]byte(line), &replies[i]))
		assert.Nil(t, replies[i].Error, line)
	}
	assert.JSONEq(t, "1", string(replies[0].ID))
	assert.Contains(t, string(replies[0].Result), `"protocolVersion":"2024-11-05"`)

	var list struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(replies[1].Result, &list))
	assert.Len(t, list.Tools, 6)

	assert.Contains(t, string(replies[2].Result), "hi there")
	assert.Contains(t, string(replies[3].Result), "not allowed")

	logged, err := os.ReadFile(cfg.LogFile)
	require.NoError(t, err)
	assert.Contains(t, string(logged), "Starting filesystem MCP server")
}

func TestRun_BadRoot(t *testing.T) {
	cfg := config.Default()
	cfg.AllowedRoots = []string{filepath.Join(t.TempDir(), "missing")}
	cfg.LogFile = filepath.Join(t.TempDir(), "fsmcp.log")

	err := run(context.Background(), cfg, strings.NewReader(""), &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configure path guard")
}

func TestRootCommand_RejectsInvalidFlags(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCommand(strings.NewReader(""), &out)
	cmd.SetArgs([]string{"--max-results", "0", "--config", writeEmptyConfig(t)})

	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max-results")
	assert.Empty(t, out.String())
}

func writeEmptyConfig(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, nil, 0o600))
	return p
}
