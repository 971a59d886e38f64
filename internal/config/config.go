package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models opsdesk.yml.
type Config struct {
	Agency struct {
		Name string `yaml:"name"`
	} `yaml:"agency"`
	Categories map[string]string `yaml:"categories"`
	Fork       ForkDefaults      `yaml:"fork"`
	RBAC       struct {
		Roles map[string]RBACRole `yaml:"roles"`
	} `yaml:"rbac"`
}

// ForkDefaults are applied when a fork regenerates tasks and settings.
type ForkDefaults struct {
	TaskDueDays         int    `yaml:"task_due_days"`
	TaskPriority        string `yaml:"task_priority"`
	TaskDurationMinutes int    `yaml:"task_duration_minutes"`
	AdditionFrequency   int    `yaml:"addition_frequency"`
	AdditionPeriod      string `yaml:"addition_period"`
	FallbackCategory    string `yaml:"fallback_category"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// CategoryForType resolves an asset type to its task category name.
func (c *Config) CategoryForType(assetType string) string {
	if name, ok := c.Categories[assetType]; ok {
		return name
	}
	return c.Fork.FallbackCategory
}

// Load reads and validates config from workspace, falling back to defaults
// when opsdesk.yml does not exist.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Categories) == 0 {
		return fmt.Errorf("config.categories is required")
	}
	for assetType, category := range c.Categories {
		if assetType == "" {
			return fmt.Errorf("config.categories contains empty asset type")
		}
		if category == "" {
			return fmt.Errorf("config.categories.%s has empty category name", assetType)
		}
	}
	if c.Fork.TaskDueDays <= 0 {
		return fmt.Errorf("config.fork.task_due_days must be positive")
	}
	switch c.Fork.TaskPriority {
	case "low", "medium", "high":
	default:
		return fmt.Errorf("config.fork.task_priority must be low, medium or high")
	}
	if c.Fork.TaskDurationMinutes <= 0 {
		return fmt.Errorf("config.fork.task_duration_minutes must be positive")
	}
	if c.Fork.AdditionFrequency <= 0 {
		return fmt.Errorf("config.fork.addition_frequency must be positive")
	}
	if c.Fork.AdditionPeriod == "" {
		return fmt.Errorf("config.fork.addition_period is required")
	}
	if c.Fork.FallbackCategory == "" {
		return fmt.Errorf("config.fork.fallback_category is required")
	}
	for roleID, role := range c.RBAC.Roles {
		if roleID == "" {
			return fmt.Errorf("config.rbac.roles contains empty role id")
		}
		for _, perm := range role.Permissions {
			if perm == "" {
				return fmt.Errorf("role %s has empty permission id", roleID)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "opsdesk.yml")
}

// Default returns the built-in default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `agency:
  name: default-agency

categories:
  social_profile: Social Media
  gmb_listing: Local Listings
  web2_site: Web 2.0 Properties
  citation: Citations
  blog: Content
  press_release: Content
  video_channel: Video
  directory: Directories

fork:
  task_due_days: 7
  task_priority: medium
  task_duration_minutes: 30
  addition_frequency: 3
  addition_period: monthly
  fallback_category: General

rbac:
  roles:
    owner:
      description: "Full access to agency operations"
      permissions:
        - client.create
        - template.create
        - template.read
        - assignment.create
        - assignment.read
        - assignment.fork
        - task.list
        - audit.read
    account_manager:
      description: "Manages client assignments and forks"
      permissions:
        - template.read
        - assignment.read
        - assignment.fork
        - task.list
        - audit.read
    viewer:
      description: "Read-only access"
      permissions:
        - template.read
        - assignment.read
        - task.list
`
