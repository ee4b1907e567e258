package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolateEnv(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, ".config"))
	t.Setenv("LIMCODE_CONFIG", "")
	t.Setenv("LIMCODE_CONFIG_CONTENT", "")
	t.Setenv("LIMCODE_MODEL", "")
	t.Setenv("LIMCODE_LOG_LEVEL", "")
	t.Setenv("LIMCODE_PORT", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	return tmpDir
}

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoadProjectJSONC(t *testing.T) {
	isolateEnv(t)
	project := t.TempDir()

	writeConfig(t, filepath.Join(project, "limcode.jsonc"), `{
		// model used for new conversations
		"model": "anthropic/claude-sonnet-4-20250514",
		"logLevel": "DEBUG",
		"provider": {
			"anthropic": {
				"apiKey": "sk-ant-test123",
				"maxTokens": 8192
			}
		},
		"tools": { "webfetch": false }
	}`)

	cfg, err := Load(project)
	require.NoError(t, err)

	assert.Equal(t, "anthropic/claude-sonnet-4-20250514", cfg.Model)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "sk-ant-test123", cfg.Provider["anthropic"].APIKey)
	assert.Equal(t, 8192, cfg.Provider["anthropic"].MaxTokens)
	require.NotNil(t, cfg.Tools)
	assert.False(t, cfg.Tools["webfetch"])
}

func TestLoadYAML(t *testing.T) {
	isolateEnv(t)
	project := t.TempDir()

	writeConfig(t, filepath.Join(project, "limcode.yaml"), `
model: openai/gpt-4o
server:
  port: 9000
  hostname: 0.0.0.0
engine:
  fast:
    type: remote
    endpoint: https://engine.example.com/remove
    apiKey: ek-123
mcp:
  files:
    enabled: true
    type: stdio
    command: ["mcp-files", "--root", "."]
`)

	cfg, err := Load(project)
	require.NoError(t, err)

	assert.Equal(t, "openai/gpt-4o", cfg.Model)
	require.NotNil(t, cfg.Server)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Hostname)
	assert.Equal(t, "remote", cfg.Engine["fast"].Type)
	assert.Equal(t, "ek-123", cfg.Engine["fast"].APIKey)
	require.Contains(t, cfg.MCP, "files")
	assert.True(t, cfg.MCP["files"].Enabled)
	assert.Equal(t, []string{"mcp-files", "--root", "."}, cfg.MCP["files"].Command)
}

func TestProjectOverridesGlobal(t *testing.T) {
	home := isolateEnv(t)
	project := t.TempDir()

	writeConfig(t, filepath.Join(home, ".limcode", "limcode.json"), `{
		"model": "anthropic/claude-sonnet-4-20250514",
		"logLevel": "INFO"
	}`)
	writeConfig(t, filepath.Join(project, ".limcode", "limcode.json"), `{
		"model": "openai/gpt-4o"
	}`)

	cfg, err := Load(project)
	require.NoError(t, err)

	// Project model wins, untouched global fields survive the merge.
	assert.Equal(t, "openai/gpt-4o", cfg.Model)
	assert.Equal(t, "INFO", cfg.LogLevel)
}

func TestEnvInterpolation(t *testing.T) {
	isolateEnv(t)
	project := t.TempDir()
	t.Setenv("TEST_API_KEY", "sk-from-env")

	writeConfig(t, filepath.Join(project, "limcode.json"), `{
		"provider": {
			"openai": { "apiKey": "${TEST_API_KEY}" },
			"anthropic": { "apiKey": "{env:TEST_API_KEY}" }
		}
	}`)

	cfg, err := Load(project)
	require.NoError(t, err)

	assert.Equal(t, "sk-from-env", cfg.Provider["openai"].APIKey)
	assert.Equal(t, "sk-from-env", cfg.Provider["anthropic"].APIKey)
}

func TestFileInterpolation(t *testing.T) {
	isolateEnv(t)
	project := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(project, "key.txt"), []byte("sk-from-file"), 0600))
	writeConfig(t, filepath.Join(project, "limcode.json"), `{
		"provider": {
			"openai": { "apiKey": "{file:key.txt}" }
		}
	}`)

	cfg, err := Load(project)
	require.NoError(t, err)
	assert.Equal(t, "sk-from-file", cfg.Provider["openai"].APIKey)
}

func TestDotEnvLoaded(t *testing.T) {
	isolateEnv(t)
	project := t.TempDir()

	writeConfig(t, filepath.Join(project, ".env"), "DOTENV_KEY=sk-dotenv\n")
	writeConfig(t, filepath.Join(project, "limcode.json"), `{
		"provider": {
			"openai": { "apiKey": "${DOTENV_KEY}" }
		}
	}`)

	cfg, err := Load(project)
	require.NoError(t, err)
	assert.Equal(t, "sk-dotenv", cfg.Provider["openai"].APIKey)
}

func TestEnvOverridesWin(t *testing.T) {
	isolateEnv(t)
	project := t.TempDir()

	writeConfig(t, filepath.Join(project, "limcode.json"), `{
		"model": "anthropic/claude-sonnet-4-20250514"
	}`)

	t.Setenv("LIMCODE_MODEL", "openai/gpt-4o")
	t.Setenv("LIMCODE_PORT", "7777")
	t.Setenv("OPENAI_API_KEY", "sk-env-openai")

	cfg, err := Load(project)
	require.NoError(t, err)

	assert.Equal(t, "openai/gpt-4o", cfg.Model)
	require.NotNil(t, cfg.Server)
	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "sk-env-openai", cfg.Provider["openai"].APIKey)
}

func TestConfigFileOverrideVar(t *testing.T) {
	isolateEnv(t)
	project := t.TempDir()
	other := t.TempDir()

	writeConfig(t, filepath.Join(project, "limcode.json"), `{"logLevel": "INFO"}`)

	extraPath := filepath.Join(other, "extra.jsonc")
	writeConfig(t, extraPath, `{"logLevel": "ERROR"}`)
	t.Setenv("LIMCODE_CONFIG", extraPath)

	cfg, err := Load(project)
	require.NoError(t, err)
	assert.Equal(t, "ERROR", cfg.LogLevel)
}

func TestLoadMissingConfigIsEmpty(t *testing.T) {
	isolateEnv(t)
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, cfg.Model)
	assert.Empty(t, cfg.Provider)
}
