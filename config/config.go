// Package config loads bridge configuration from YAML files. A user-level
// file under the home directory is loaded first, then a project-level file
// from the working directory overrides it.
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"codexbridge/errors"
)

// Backend describes the Codex app-server subprocess to launch.
type Backend struct {
	Command    string   `yaml:"command"`
	Args       []string `yaml:"args"`
	WorkingDir string   `yaml:"working_dir"`
	Env        []string `yaml:"env"`
}

// Codex carries the optional argument bag forwarded on every new-conversation
// tool call. Zero values are omitted from the call.
type Codex struct {
	Model            string         `yaml:"model"`
	Profile          string         `yaml:"profile"`
	Sandbox          string         `yaml:"sandbox"`
	ApprovalPolicy   string         `yaml:"approval_policy"`
	Cwd              string         `yaml:"cwd"`
	BaseInstructions string         `yaml:"base_instructions"`
	IncludePlanTool  *bool          `yaml:"include_plan_tool"`
	Overrides        map[string]any `yaml:"overrides"`
}

// Chat configures the long-poll inbox client and the sender gate.
type Chat struct {
	BaseURL        string   `yaml:"base_url"`
	Token          string   `yaml:"token"`
	PollTimeout    Duration `yaml:"poll_timeout"`
	AllowedSenders []string `yaml:"allowed_senders"`
}

type Config struct {
	Backend     Backend  `yaml:"backend"`
	Codex       Codex    `yaml:"codex"`
	Chat        Chat     `yaml:"chat"`
	CallTimeout Duration `yaml:"call_timeout"` // 0 waits indefinitely
	TailLines   int      `yaml:"tail_lines"`
}

const (
	configDir  = ".codexbridge"
	configFile = "config.yaml"

	defaultTailLines   = 50
	defaultPollTimeout = 30 * time.Second
)

// LoadConfig loads configuration from the user's home directory and the
// current working directory, with the latter taking precedence.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	cfg.Backend.Command = "codex"
	cfg.Backend.Args = []string{"mcp-server"}
	cfg.TailLines = defaultTailLines
	cfg.Chat.PollTimeout = Duration(defaultPollTimeout)

	// User-level config first
	home, err := os.UserHomeDir()
	if err == nil {
		userConfigPath := filepath.Join(home, configDir, configFile)
		if _, err := os.Stat(userConfigPath); err == nil {
			if err := loadFromFile(userConfigPath, cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading user config")
			}
		}
	}

	// Project-level config, overriding user-level
	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	projectConfigPath := filepath.Join(wd, configDir, configFile)
	if _, err := os.Stat(projectConfigPath); err == nil {
		if err := loadFromFile(projectConfigPath, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading project config")
		}
	}

	if cfg.Backend.Command == "" {
		return nil, errors.New("backend.command must not be empty")
	}
	if cfg.TailLines <= 0 {
		cfg.TailLines = defaultTailLines
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Unmarshal overwrites fields present in the YAML, which gives a simple
	// merge where project-level config replaces user-level.
	return yaml.Unmarshal(data, cfg)
}
