package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Resolve.
const (
	DefaultNamespace        = "com.benaskins.biokey"
	DefaultChallengeTimeout = 60 * time.Second
	DefaultRatePerSecond    = 1.0
	DefaultRateBurst        = 5
)

// Config holds persistent configuration loaded from ~/.biokey/config.yaml.
type Config struct {
	// Namespace scopes entry store items to this installation.
	Namespace string `yaml:"namespace"`
	IndexPath string `yaml:"index_path"`
	AuditLog  string `yaml:"audit_log"`
	Socket    string `yaml:"socket"`
	APIAddr   string `yaml:"api_addr"`

	ChallengeTimeout Duration `yaml:"challenge_timeout"`
	DefaultReason    string   `yaml:"default_reason"`
	SaveReason       string   `yaml:"save_reason"`
	StrictDelete     bool     `yaml:"strict_delete"`
	PolkitAction     string   `yaml:"polkit_action"`

	RateLimit RateLimit `yaml:"rate_limit"`
}

// RateLimit throttles challenge-bearing calls on the API.
type RateLimit struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// Duration wraps time.Duration for YAML unmarshaling from strings like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// DefaultPath returns the default config file path: ~/.biokey/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".biokey", "config.yaml")
}

// Load reads a YAML config file from path. If the file does not exist,
// it returns an empty Config and no error. An empty or all-comment file
// also returns an empty Config with no error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve fills unset fields with defaults. Relative paths are taken
// relative to home, the biokey state directory.
func (c *Config) Resolve(home string) {
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	c.IndexPath = resolvePath(home, c.IndexPath, "presence.json")
	c.AuditLog = resolvePath(home, c.AuditLog, "audit.log")
	c.Socket = resolvePath(home, c.Socket, "biokey.sock")
	if c.ChallengeTimeout.Duration == 0 {
		c.ChallengeTimeout.Duration = DefaultChallengeTimeout
	}
	if c.RateLimit.PerSecond == 0 {
		c.RateLimit.PerSecond = DefaultRatePerSecond
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = DefaultRateBurst
	}
}

func resolvePath(home, path, fallback string) string {
	if path == "" {
		path = fallback
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(home, path)
}

var namespacePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Validate checks the config for values that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if c.Namespace != "" && !namespacePattern.MatchString(c.Namespace) {
		errs = append(errs, fmt.Errorf("namespace %q: must be letters, digits, '.', '_' or '-'", c.Namespace))
	}
	if c.ChallengeTimeout.Duration < 0 {
		errs = append(errs, errors.New("challenge_timeout: must not be negative"))
	}
	if c.RateLimit.PerSecond < 0 {
		errs = append(errs, errors.New("rate_limit.per_second: must not be negative"))
	}
	if c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("rate_limit.burst: must not be negative"))
	}
	return errors.Join(errs...)
}
