package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/soyeahso/veil/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupHome points VEIL_HOME at a fresh directory and selects the offline
// mock provider.
func setupHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("VEIL_HOME", home)
	t.Setenv("VEIL_PROVIDER", "mock")
	t.Setenv("VEIL_HISTORY_BACKEND", "sqlite")
	t.Setenv("VEIL_CACHE_BACKEND", "memory")
	return home
}

// run executes the root command and returns what it wrote to stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(append([]string{"--log-level", "silent"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	setupHome(t)
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "veil "))
}

func TestConfigCmd_SetGetUnset(t *testing.T) {
	home := setupHome(t)

	out, err := run(t, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "config.yaml")+"\n", out)

	_, err = run(t, "config", "set", "cache.ttlSeconds", "120")
	require.NoError(t, err)

	out, err = run(t, "config", "get", "cache.ttlSeconds")
	require.NoError(t, err)
	assert.Equal(t, "120\n", out)

	out, err = run(t, "config", "get", "cache")
	require.NoError(t, err)
	assert.Equal(t, "ttlSeconds: 120\n", out)

	_, err = run(t, "config", "unset", "cache.ttlSeconds")
	require.NoError(t, err)

	_, err = run(t, "config", "get", "cache.ttlSeconds")
	assert.ErrorContains(t, err, "not found")
}

func TestConfigCmd_Validate(t *testing.T) {
	setupHome(t)

	out, err := run(t, "config", "validate")
	require.NoError(t, err)
	assert.Equal(t, "Config OK\n", out)

	_, err = run(t, "config", "set", "server.bind", "everywhere")
	require.NoError(t, err)

	out, err = run(t, "config", "validate")
	assert.Error(t, err)
	assert.Contains(t, out, "server.bind")
}

func TestStatusCmd(t *testing.T) {
	home := setupHome(t)

	out, err := run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "provider=mock")
	assert.Contains(t, out, "History: sqlite "+filepath.Join(home, "data", "veil.db"))
	assert.NotContains(t, out, "Validation issues")
}

func TestKnowledgeCmd(t *testing.T) {
	home := setupHome(t)
	doc := filepath.Join(home, "doc.txt")
	require.NoError(t, os.WriteFile(doc, []byte(
		"Phishing kits reuse hosting.\n\nRotate leaked API keys within an hour."), 0o600))

	out, err := run(t, "knowledge", "add", "--split", "runbook", doc)
	require.NoError(t, err)
	assert.Equal(t, "Added 2 passage(s) from runbook\n", out)

	out, err = run(t, "knowledge", "search", "leaked", "keys")
	require.NoError(t, err)
	assert.Contains(t, out, "[1] (runbook, score")
	assert.Contains(t, out, "Rotate leaked API keys")
	assert.NotContains(t, out, "Phishing")

	out, err = run(t, "knowledge", "remove", "runbook")
	require.NoError(t, err)
	assert.Equal(t, "Removed 2 passage(s)\n", out)

	out, err = run(t, "knowledge", "search", "leaked")
	require.NoError(t, err)
	assert.Equal(t, "No matching passages.\n", out)
}

func TestChatAndHistoryCmd(t *testing.T) {
	setupHome(t)

	out, err := run(t, "chat", "--session", "s1", "hello", "world")
	require.NoError(t, err)
	assert.Equal(t, "echo: hello world\n", out)

	out, err = run(t, "chat", "--session", "s1", "--stream", "second", "message")
	require.NoError(t, err)
	assert.Equal(t, "echo: second message\n", out)

	out, err = run(t, "history", "s1")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "user")
	assert.Contains(t, lines[0], "hello world")
	assert.Contains(t, lines[3], "echo: second message")

	out, err = run(t, "history")
	require.NoError(t, err)
	assert.Equal(t, "s1\n", out)
}

func TestHistoryCmd_UnknownSession(t *testing.T) {
	setupHome(t)
	out, err := run(t, "history", "nobody")
	require.NoError(t, err)
	assert.Equal(t, "no turns for session nobody\n", out)
}

func TestSplitParagraphs(t *testing.T) {
	got := splitParagraphs("one\r\n\r\ntwo\nstill two\n\n\n\nthree\n")
	assert.Equal(t, []string{"one", "two\nstill two", "three"}, got)
	assert.Nil(t, splitParagraphs(" \n\n "))
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, true, parseValue("TRUE"))
	assert.Equal(t, false, parseValue("false"))
	assert.Equal(t, 42, parseValue("42"))
	assert.Equal(t, 0.5, parseValue("0.5"))
	assert.Equal(t, "gpt-4o", parseValue("gpt-4o"))
}

func TestFormatTurn(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)

	assert.Equal(t, "2026-03-01 12:00:00 assistant hi  (gpt-4o, 7 tokens)", formatTurn(domain.Turn{
		Role: domain.RoleAssistant, Content: "hi", Model: "gpt-4o",
		Usage: domain.Usage{InputTokens: 5, OutputTokens: 2}, Timestamp: ts,
	}))

	assert.Equal(t, "2026-03-01 12:00:00 assistant -> current_time, search_knowledge", formatTurn(domain.Turn{
		Role: domain.RoleAssistant, Timestamp: ts,
		ToolCalls: []domain.ToolCallRequest{{Name: "current_time"}, {Name: "search_knowledge"}},
	}))

	assert.Equal(t, "2026-03-01 12:00:00 tool      current_time [error] Error: boom", formatTurn(domain.Turn{
		Role: domain.RoleTool, Timestamp: ts,
		ToolCall: &domain.ToolCallResult{Name: "current_time", IsError: true, Error: "boom"},
	}))
}
