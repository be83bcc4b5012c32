package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

const defaultLockWait = 5 * time.Second

// Config models buildline.yml.
type Config struct {
	Inventory struct {
		LockWait          string `yaml:"lock_wait" json:"lock_wait"`
		LockBackend       string `yaml:"lock_backend" json:"lock_backend"`
		LowStockThreshold int    `yaml:"low_stock_threshold" json:"low_stock_threshold"`
	} `yaml:"inventory" json:"inventory"`
	Redis RedisConfig `yaml:"redis" json:"redis"`
	RBAC  struct {
		Roles map[string]RBACRole `yaml:"roles" json:"roles"`
	} `yaml:"rbac" json:"rbac"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks,omitempty"`
	Log      struct {
		Level  string `yaml:"level" json:"level"`
		Format string `yaml:"format" json:"format"`
	} `yaml:"log" json:"log"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password" json:"-"`
	DB        int    `yaml:"db" json:"db"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

type RBACRole struct {
	Description string   `yaml:"description" json:"description"`
	Permissions []string `yaml:"permissions" json:"permissions"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	Secret         string   `yaml:"secret" json:"-"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

// LockWaitDuration is the bounded wait for a resource hold.
func (c *Config) LockWaitDuration() time.Duration {
	if c == nil || strings.TrimSpace(c.Inventory.LockWait) == "" {
		return defaultLockWait
	}
	d, err := time.ParseDuration(c.Inventory.LockWait)
	if err != nil || d <= 0 {
		return defaultLockWait
	}
	return d
}

// Permissions returns the permission ids granted to role.
func (c *Config) Permissions(role string) []string {
	if c == nil {
		return nil
	}
	return c.RBAC.Roles[role].Permissions
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Inventory.LockWait != "" {
		d, err := time.ParseDuration(c.Inventory.LockWait)
		if err != nil {
			return fmt.Errorf("config.inventory.lock_wait: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("config.inventory.lock_wait must be positive")
		}
	}
	switch c.Inventory.LockBackend {
	case "", LockBackendMemory:
	case LockBackendRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return fmt.Errorf("config.redis.addr is required for lock_backend redis")
		}
	default:
		return fmt.Errorf("config.inventory.lock_backend must be memory or redis, got %q", c.Inventory.LockBackend)
	}
	if c.Inventory.LowStockThreshold < 0 {
		return fmt.Errorf("config.inventory.low_stock_threshold cannot be negative")
	}
	for roleID, role := range c.RBAC.Roles {
		if roleID != "manager" && roleID != "supervisor" {
			return fmt.Errorf("config.rbac.roles: unknown role %s", roleID)
		}
		for _, perm := range role.Permissions {
			if perm == "" {
				return fmt.Errorf("role %s has empty permission id", roleID)
			}
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds cannot be negative", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "buildline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Load reads the workspace config, falling back to defaults when absent.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Sections left
// out of data keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

const defaultTemplate = `inventory:
  lock_wait: 5s
  lock_backend: memory
  low_stock_threshold: 10

redis:
  addr: ""
  db: 0
  key_prefix: "buildline:hold:"

rbac:
  roles:
    manager:
      description: "Runs projects, owns inventory and documents"
      permissions:
        - project.create
        - project.read
        - project.update
        - project.delete
        - resource.create
        - resource.read
        - resource.restock
        - resource.delete
        - worker.create
        - worker.read
        - worker.update
        - worker.delete
        - task.create
        - task.read
        - task.update
        - task.delete
        - document.create
        - document.read
        - events.read
    supervisor:
      description: "Runs tasks on site"
      permissions:
        - project.read
        - resource.read
        - worker.read
        - worker.update
        - task.create
        - task.read
        - task.update
        - task.delete
        - document.read
        - events.read

log:
  level: info
  format: text
`
