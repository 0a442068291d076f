// ABOUTME: Bootstrap configuration loading for conclave
// ABOUTME: TOML file with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the bootstrap configuration: everything that requires a process
// restart to change. Policy (identities, rooms, permissions) lives in a
// separate hot-reloadable file, see policy.go.
type Config struct {
	Matrix   MatrixConfig   `toml:"matrix"`
	Gateway  GatewayConfig  `toml:"gateway"`
	Decision DecisionConfig `toml:"decision"`
	Policy   PolicyRef      `toml:"policy"`
	Logging  LoggingConfig  `toml:"logging"`
}

// MatrixConfig holds homeserver connection settings and the per-identity
// account credentials.
type MatrixConfig struct {
	Homeserver string `toml:"homeserver"`
	// Domain is the server name of this deployment. Senders on this domain
	// that appear in the policy's internal list are always authorized.
	Domain string `toml:"domain"`
	// RecoveryKey enables E2EE when set.
	RecoveryKey string          `toml:"recovery_key"`
	Accounts    []AccountConfig `toml:"accounts"`
}

// AccountConfig is one Matrix account owned by an agent identity.
type AccountConfig struct {
	// Name must match an agent (or the router) declared in the policy file.
	Name        string `toml:"name"`
	UserID      string `toml:"user_id"`
	AccessToken string `toml:"access_token"`
}

// GatewayConfig points at the agent gateway that performs model inference.
type GatewayConfig struct {
	URL string `toml:"url"`
}

// DecisionConfig configures the AI decision service used for routing
// classification, team-mode decisions, and schedule parsing.
type DecisionConfig struct {
	URL    string `toml:"url"`
	APIKey string `toml:"api_key"`
	Model  string `toml:"model"`

	Timeout time.Duration `toml:"-"`
	// Raw string value for TOML unmarshaling
	TimeoutRaw string `toml:"timeout"`
}

// PolicyRef locates the hot-reloadable policy file.
type PolicyRef struct {
	Path string `toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `toml:"level"`
}

// DefaultDecisionTimeout bounds AI-assisted decisions before the
// deterministic fallback fires.
const DefaultDecisionTimeout = 10 * time.Second

// Load reads the bootstrap configuration from the given path.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := toml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if cfg.Decision.TimeoutRaw != "" {
		var err error
		cfg.Decision.Timeout, err = time.ParseDuration(cfg.Decision.TimeoutRaw)
		if err != nil {
			return nil, fmt.Errorf("parsing decision.timeout %q: %w", cfg.Decision.TimeoutRaw, err)
		}
	}
	if cfg.Decision.Timeout == 0 {
		cfg.Decision.Timeout = DefaultDecisionTimeout
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
	if c.Matrix.Homeserver == "" {
		return fmt.Errorf("matrix.homeserver is required")
	}
	if c.Matrix.Domain == "" {
		return fmt.Errorf("matrix.domain is required")
	}
	if len(c.Matrix.Accounts) == 0 {
		return fmt.Errorf("at least one matrix account is required")
	}
	seen := make(map[string]bool, len(c.Matrix.Accounts))
	for i, acct := range c.Matrix.Accounts {
		if acct.Name == "" {
			return fmt.Errorf("matrix.accounts[%d].name is required", i)
		}
		if acct.UserID == "" {
			return fmt.Errorf("matrix account %q: user_id is required", acct.Name)
		}
		if acct.AccessToken == "" {
			return fmt.Errorf("matrix account %q: access_token is required", acct.Name)
		}
		if seen[acct.Name] {
			return fmt.Errorf("duplicate matrix account name %q", acct.Name)
		}
		seen[acct.Name] = true
	}
	if c.Policy.Path == "" {
		return fmt.Errorf("policy.path is required")
	}
	return nil
}
