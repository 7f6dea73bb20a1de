// ABOUTME: Configuration loading and parsing for tinytodo-gateway
// ABOUTME: Supports YAML files with environment variable expansion

package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config represents the complete tinytodo-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Authz     AuthzConfig     `yaml:"authz"`
	Provision ProvisionConfig `yaml:"provision"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds the paths of the two stores. They are separate
// databases on purpose: list/task records and policy grants live in
// independent consistency domains.
type DatabaseConfig struct {
	TablePath  string `yaml:"table_path"`
	PolicyPath string `yaml:"policy_path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// AuthzConfig names the two fixed policy templates. The ids are
// deployment-provided, mirroring how the policy store is provisioned.
type AuthzConfig struct {
	EditorTemplateID string `yaml:"editor_template_id"`
	ViewerTemplateID string `yaml:"viewer_template_id"`
}

// ProvisionConfig holds signup provisioning configuration
type ProvisionConfig struct {
	// StarterListPath is the TOML template seeded into every new
	// user's account. Empty disables starter-list seeding.
	StarterListPath string `yaml:"starter_list_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.TablePath == "" {
		return fmt.Errorf("database.table_path is required")
	}
	if c.Database.PolicyPath == "" {
		return fmt.Errorf("database.policy_path is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Authz.EditorTemplateID == "" {
		return fmt.Errorf("authz.editor_template_id is required")
	}
	if c.Authz.ViewerTemplateID == "" {
		return fmt.Errorf("authz.viewer_template_id is required")
	}
	if c.Authz.EditorTemplateID == c.Authz.ViewerTemplateID {
		return fmt.Errorf("authz template ids must differ")
	}
	return nil
}
