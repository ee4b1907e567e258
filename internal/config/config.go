package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/HCPTangHY/Lim-Code/pkg/types"
)

// Load loads configuration from multiple sources (priority order, later wins):
// 1. Global config (~/.limcode/)
// 2. Global config (XDG, ~/.config/limcode/)
// 3. Project config (limcode.json[c], limcode.yaml, .limcode/)
// 4. LIMCODE_CONFIG file
// 5. LIMCODE_CONFIG_CONTENT inline JSON
// 6. Environment variables
//
// A .env file in the project directory is loaded into the process
// environment first so both interpolation and env overrides see it.
func Load(directory string) (*types.Config, error) {
	if directory != "" {
		// Existing environment variables take precedence over .env values.
		_ = godotenv.Load(filepath.Join(directory, ".env"))
	}

	config := &types.Config{
		Provider: make(map[string]types.ProviderConfig),
	}

	// Track loaded files to avoid duplicates
	loaded := make(map[string]bool)

	loadOnce := func(path string, baseDir string) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if loaded[absPath] {
			return
		}
		if loadConfigFile(path, config, baseDir) == nil {
			loaded[absPath] = true
		}
	}

	loadDir := func(dir string) {
		loadOnce(filepath.Join(dir, "limcode.json"), dir)
		loadOnce(filepath.Join(dir, "limcode.jsonc"), dir)
		loadOnce(filepath.Join(dir, "limcode.yaml"), dir)
	}

	// 1. Home-dotdir global config (~/.limcode/)
	home := os.Getenv("HOME")
	if home != "" {
		loadDir(filepath.Join(home, ".limcode"))
	}

	// 2. XDG global config (~/.config/limcode/)
	loadDir(GetPaths().Config)

	// 3. Project config
	if directory != "" {
		loadDir(directory)
		loadDir(filepath.Join(directory, ".limcode"))
	}

	// 4. LIMCODE_CONFIG file override
	if configPath := os.Getenv("LIMCODE_CONFIG"); configPath != "" {
		loadOnce(configPath, filepath.Dir(configPath))
	}

	// 5. LIMCODE_CONFIG_CONTENT inline JSON
	if configContent := os.Getenv("LIMCODE_CONFIG_CONTENT"); configContent != "" {
		var inlineConfig types.Config
		if err := json.Unmarshal(interpolate([]byte(configContent), directory), &inlineConfig); err == nil {
			mergeConfig(config, &inlineConfig)
		}
	}

	// 6. Environment variables (highest priority)
	applyEnvOverrides(config)

	return config, nil
}

// loadConfigFile loads a single config file with interpolation support.
// The format is chosen by extension: .yaml parses as YAML, everything
// else as JSON with comments stripped.
func loadConfigFile(path string, config *types.Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err // File doesn't exist, skip
	}

	data = interpolate(data, baseDir)

	var fileConfig types.Config
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		if err := yaml.Unmarshal(data, &fileConfig); err != nil {
			return err
		}
	} else {
		data = jsonc.ToJSON(data)
		if err := json.Unmarshal(data, &fileConfig); err != nil {
			return err
		}
	}

	mergeConfig(config, &fileConfig)
	return nil
}

var (
	envPattern  = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}|\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// interpolate processes ${VAR}, {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := string(data)

	str = envPattern.ReplaceAllStringFunc(str, func(match string) string {
		groups := envPattern.FindStringSubmatch(match)
		name := groups[1]
		if name == "" {
			name = groups[2]
		}
		return os.Getenv(name)
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]

		if strings.HasPrefix(filePath, "~/") {
			filePath = filepath.Join(os.Getenv("HOME"), filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match // Keep original if file not found
		}

		// Escape for embedding in a JSON string
		escaped := strings.ReplaceAll(string(content), "\\", "\\\\")
		escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
		escaped = strings.ReplaceAll(escaped, "\n", "\\n")
		escaped = strings.ReplaceAll(escaped, "\r", "\\r")
		escaped = strings.ReplaceAll(escaped, "\t", "\\t")
		return escaped
	})

	return []byte(str)
}

// mergeConfig merges source config into target.
func mergeConfig(target, source *types.Config) {
	if source.Schema != "" {
		target.Schema = source.Schema
	}
	if source.Model != "" {
		target.Model = source.Model
	}
	if source.LogLevel != "" {
		target.LogLevel = source.LogLevel
	}

	if source.Provider != nil {
		if target.Provider == nil {
			target.Provider = make(map[string]types.ProviderConfig)
		}
		for k, v := range source.Provider {
			target.Provider[k] = v
		}
	}

	if source.MCP != nil {
		if target.MCP == nil {
			target.MCP = make(map[string]types.MCPServerConfig)
		}
		for k, v := range source.MCP {
			target.MCP[k] = v
		}
	}

	if source.Engine != nil {
		if target.Engine == nil {
			target.Engine = make(map[string]types.EngineConfig)
		}
		for k, v := range source.Engine {
			target.Engine[k] = v
		}
	}

	if source.Tools != nil {
		if target.Tools == nil {
			target.Tools = make(map[string]bool)
		}
		for k, v := range source.Tools {
			target.Tools[k] = v
		}
	}

	if source.Server != nil {
		target.Server = source.Server
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *types.Config) {
	// Provider API keys
	providerEnvMap := map[string]string{
		"anthropic": "ANTHROPIC_API_KEY",
		"openai":    "OPENAI_API_KEY",
	}

	for provider, envVar := range providerEnvMap {
		if apiKey := os.Getenv(envVar); apiKey != "" {
			if config.Provider == nil {
				config.Provider = make(map[string]types.ProviderConfig)
			}
			p := config.Provider[provider]
			if p.APIKey == "" {
				p.APIKey = apiKey
				config.Provider[provider] = p
			}
		}
	}

	if model := os.Getenv("LIMCODE_MODEL"); model != "" {
		config.Model = model
	}

	if level := os.Getenv("LIMCODE_LOG_LEVEL"); level != "" {
		config.LogLevel = level
	}

	if port := os.Getenv("LIMCODE_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			if config.Server == nil {
				config.Server = &types.ServerConfig{}
			}
			config.Server.Port = n
		}
	}
}

// Save saves the configuration to a file.
func Save(config *types.Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
