package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, configDir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, configDir, configFile), []byte(content), 0o644))
}

// isolate points both config locations at fresh temp directories.
func isolate(t *testing.T) (home, project string) {
	t.Helper()
	home = t.TempDir()
	project = t.TempDir()
	t.Setenv("HOME", home)
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(project))
	t.Cleanup(func() { _ = os.Chdir(prev) })
	return home, project
}

func TestLoadConfigDefaults(t *testing.T) {
	isolate(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "codex", cfg.Backend.Command)
	assert.Equal(t, []string{"mcp-server"}, cfg.Backend.Args)
	assert.Equal(t, defaultTailLines, cfg.TailLines)
	assert.Equal(t, 30*time.Second, cfg.Chat.PollTimeout.Std())
	assert.Zero(t, cfg.CallTimeout.Std())
}

func TestLoadConfigFromProjectFile(t *testing.T) {
	_, project := isolate(t)
	writeConfig(t, project, `
backend:
  command: /opt/codex/bin/codex
  args: [mcp-server, --verbose]
codex:
  model: o4-mini
  approval_policy: never
  include_plan_tool: true
  overrides:
    model_reasoning_effort: high
chat:
  base_url: http://inbox.local
  token: secret
  poll_timeout: 45
  allowed_senders: [alice, ops-*]
call_timeout: 10m
tail_lines: 200
`)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "/opt/codex/bin/codex", cfg.Backend.Command)
	assert.Equal(t, []string{"mcp-server", "--verbose"}, cfg.Backend.Args)
	assert.Equal(t, "o4-mini", cfg.Codex.Model)
	assert.Equal(t, "never", cfg.Codex.ApprovalPolicy)
	require.NotNil(t, cfg.Codex.IncludePlanTool)
	assert.True(t, *cfg.Codex.IncludePlanTool)
	assert.Equal(t, "high", cfg.Codex.Overrides["model_reasoning_effort"])
	assert.Equal(t, "http://inbox.local", cfg.Chat.BaseURL)
	assert.Equal(t, 45*time.Second, cfg.Chat.PollTimeout.Std())
	assert.Equal(t, []string{"alice", "ops-*"}, cfg.Chat.AllowedSenders)
	assert.Equal(t, 10*time.Minute, cfg.CallTimeout.Std())
	assert.Equal(t, 200, cfg.TailLines)
}

func TestProjectConfigOverridesUserConfig(t *testing.T) {
	home, project := isolate(t)
	writeConfig(t, home, `
codex:
  model: user-model
  profile: user-profile
chat:
  base_url: http://user.local
`)
	writeConfig(t, project, `
codex:
  model: project-model
`)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "project-model", cfg.Codex.Model)
	// Fields the project file does not set keep the user-level values.
	assert.Equal(t, "user-profile", cfg.Codex.Profile)
	assert.Equal(t, "http://user.local", cfg.Chat.BaseURL)
}

func TestLoadConfigRejectsEmptyBackendCommand(t *testing.T) {
	_, project := isolate(t)
	writeConfig(t, project, `
backend:
  command: ""
`)

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend.command")
}

func TestLoadConfigRejectsMalformedYAML(t *testing.T) {
	_, project := isolate(t)
	writeConfig(t, project, "backend: [broken")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestDurationForms(t *testing.T) {
	_, project := isolate(t)
	writeConfig(t, project, `
call_timeout: 90s
chat:
  poll_timeout: 2m
`)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.CallTimeout.Std())
	assert.Equal(t, 2*time.Minute, cfg.Chat.PollTimeout.Std())

	writeConfig(t, project, `call_timeout: nonsense`)
	_, err = LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}
