package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"nexusallow/internal/domain"
)

// Config is the root configuration for the sidecar.
type Config struct {
	Manager    ManagerConfig              `json:"manager"`
	Ecosystems map[string]EcosystemConfig `json:"ecosystems"`
	Reconcile  ReconcileConfig            `json:"reconcile"`
	History    HistoryConfig              `json:"history"`
	Metrics    MetricsConfig              `json:"metrics"`
	LogLevel   string                     `json:"logLevel"`
}

// ManagerConfig locates and authenticates against the repository manager.
type ManagerConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	PathPrefix     string `json:"pathPrefix,omitempty"` // context path behind a proxy
	AdminUsername  string `json:"adminUsername"`
	AdminPassword  string `json:"adminPassword"` // usually ${NEXUSALLOW_ADMIN_PASSWORD}
	DataDir        string `json:"dataDir"`       // manager data dir holding admin.password
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

// EcosystemConfig configures allowlisting for one ecosystem.
type EcosystemConfig struct {
	Enabled       bool   `json:"enabled"`
	Mode          string `json:"mode"` // "all" | "selected"
	AllowlistFile string `json:"allowlistFile,omitempty"`
}

// ReconcileConfig tunes the trigger loop and bootstrap wait.
type ReconcileConfig struct {
	DebounceSeconds      int    `json:"debounceSeconds"`
	ResyncMinutes        int    `json:"resyncMinutes"`
	BootstrapPollSeconds int    `json:"bootstrapPollSeconds"`
	EcosystemDir         string `json:"ecosystemDir,omitempty"` // YAML ecosystem overrides
}

// HistoryConfig configures the reconciliation history database.
type HistoryConfig struct {
	Enabled       bool   `json:"enabled"`
	DBPath        string `json:"dbPath"`
	RetentionDays int    `json:"retentionDays"`
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen"`
}

// DefaultConfigDir returns the default config directory (~/.nexusallow).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nexusallow"
	}
	return filepath.Join(home, ".nexusallow")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Manager.DataDir = expandPath(cfg.Manager.DataDir)
	cfg.History.DBPath = expandPath(cfg.History.DBPath)
	cfg.Reconcile.EcosystemDir = expandPath(cfg.Reconcile.EcosystemDir)
	for key, eco := range cfg.Ecosystems {
		eco.AllowlistFile = expandPath(eco.AllowlistFile)
		cfg.Ecosystems[key] = eco
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset
// or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks cross-field constraints the JSON schema cannot express.
func Validate(cfg *Config) error {
	if cfg.Manager.Host == "" {
		return fmt.Errorf("manager.host must not be empty")
	}
	if cfg.Manager.Port < 1 || cfg.Manager.Port > 65535 {
		return fmt.Errorf("manager.port %d out of range", cfg.Manager.Port)
	}
	if cfg.Manager.TimeoutSeconds < 1 {
		return fmt.Errorf("manager.timeoutSeconds must be at least 1")
	}
	for key, eco := range cfg.Ecosystems {
		if !eco.Enabled {
			continue
		}
		mode, err := domain.ParseMode(eco.Mode)
		if err != nil {
			return fmt.Errorf("ecosystems.%s: %w", key, err)
		}
		if mode == domain.ModeSelected && eco.AllowlistFile == "" {
			return fmt.Errorf("ecosystems.%s: mode %q requires allowlistFile", key, mode)
		}
	}
	return nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
