package conf

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/mentionwatch/mentionwatch/internal/biz/domain"
)

// PromptsConfig contains all prompt configurations loaded from YAML
type PromptsConfig struct {
	Suggest SuggestPrompts `yaml:"suggest"`

	// Source is the file the prompts came from, empty for built-ins
	Source string `yaml:"-"`
}

// SuggestPrompts contains reply suggestion prompts. UserTemplate takes the
// message text through a single %q verb.
type SuggestPrompts struct {
	SystemPrompt string `yaml:"system_prompt"`
	UserTemplate string `yaml:"user_template"`
}

// DefaultPromptsConfig returns the built-in prompts
func DefaultPromptsConfig() *PromptsConfig {
	d := domain.DefaultSuggestPrompts()
	return &PromptsConfig{
		Suggest: SuggestPrompts{
			SystemPrompt: d.System,
			UserTemplate: d.UserTemplate,
		},
	}
}

// LoadPromptsConfig loads prompts configuration from YAML file. An explicit
// path must exist; without one the usual locations are tried and the
// built-ins are used when none is found.
func LoadPromptsConfig(configPath string) (*PromptsConfig, error) {
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read prompts file: %w", err)
		}
		return parsePrompts(data, configPath)
	}

	paths := []string{
		"configs/prompts.yaml",
		"/etc/mentionwatch/prompts.yaml",
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".mentionwatch", "prompts.yaml"))
	}
	if execPath, err := os.Executable(); err == nil {
		paths = append(paths, filepath.Join(filepath.Dir(execPath), "configs", "prompts.yaml"))
	}

	for _, p := range paths {
		if data, err := os.ReadFile(p); err == nil {
			return parsePrompts(data, p)
		}
	}
	return DefaultPromptsConfig(), nil
}

func parsePrompts(data []byte, source string) (*PromptsConfig, error) {
	var config PromptsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", source, err)
	}
	config.Source = source
	config.fillDefaults()
	return &config, nil
}

// fillDefaults fills in default values for empty fields
func (c *PromptsConfig) fillDefaults() {
	defaults := DefaultPromptsConfig()

	if c.Suggest.SystemPrompt == "" {
		c.Suggest.SystemPrompt = defaults.Suggest.SystemPrompt
	}
	if c.Suggest.UserTemplate == "" {
		c.Suggest.UserTemplate = defaults.Suggest.UserTemplate
	}
}

// ToSuggestPrompts converts to domain prompts
func (c *PromptsConfig) ToSuggestPrompts() domain.SuggestPrompts {
	return domain.SuggestPrompts{
		System:       c.Suggest.SystemPrompt,
		UserTemplate: c.Suggest.UserTemplate,
	}
}
