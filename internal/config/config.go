package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the workspace config file.
const FileName = "intakeline.yml"

// Config models intakeline.yml.
type Config struct {
	Intake        Intake        `yaml:"intake"`
	Notifications Notifications `yaml:"notifications"`
}

type Intake struct {
	ExecutionWindow Duration `yaml:"execution_window"`
	RetryCooldown   Duration `yaml:"retry_cooldown"`
	GatePlatform    string   `yaml:"gate_platform"`
	UploadPlatforms []string `yaml:"upload_platforms"`
}

type Notifications struct {
	LinkBase string    `yaml:"link_base"`
	Webhooks []Webhook `yaml:"webhooks"`
}

// Webhook receives a signed copy of every notification whose type is listed
// in Types. An empty Types list receives all of them.
type Webhook struct {
	URL     string   `yaml:"url"`
	Secret  string   `yaml:"secret"`
	Enabled *bool    `yaml:"enabled"`
	Types   []string `yaml:"types"`
}

// IsEnabled defaults to true when enabled is omitted.
func (w Webhook) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

// Accepts reports whether the hook subscribes to notification type t.
func (w Webhook) Accepts(t string) bool {
	if len(w.Types) == 0 {
		return true
	}
	for _, v := range w.Types {
		if strings.EqualFold(v, t) {
			return true
		}
	}
	return false
}

// Duration is a time.Duration written as "72h" in YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// DefaultUploadPlatforms are the accounts an agent documents during execution.
var DefaultUploadPlatforms = []string{
	"PAYPAL",
	"EDGEBOOST",
	"BANK",
	"BETMGM",
	"CAESARS",
	"FANDUEL",
	"DRAFTKINGS",
	"BET365",
	"FANATICS",
	"BALLYBET",
	"BETRIVERS",
}

// Default returns the config used when no intakeline.yml exists.
func Default() *Config {
	var cfg Config
	cfg.Intake.ExecutionWindow = Duration(72 * time.Hour)
	cfg.Intake.RetryCooldown = Duration(24 * time.Hour)
	cfg.Intake.GatePlatform = "PAYPAL"
	cfg.Intake.UploadPlatforms = append([]string(nil), DefaultUploadPlatforms...)
	cfg.Notifications.LinkBase = "/clients"
	return &cfg
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Intake.ExecutionWindow <= 0 {
		return fmt.Errorf("config.intake.execution_window must be positive")
	}
	if c.Intake.RetryCooldown <= 0 {
		return fmt.Errorf("config.intake.retry_cooldown must be positive")
	}
	if strings.TrimSpace(c.Intake.GatePlatform) == "" {
		return fmt.Errorf("config.intake.gate_platform is required")
	}
	if len(c.Intake.UploadPlatforms) == 0 {
		return fmt.Errorf("config.intake.upload_platforms is required")
	}
	seen := map[string]bool{}
	for _, p := range c.Intake.UploadPlatforms {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("config.intake.upload_platforms contains empty platform")
		}
		if seen[p] {
			return fmt.Errorf("config.intake.upload_platforms lists %s twice", p)
		}
		seen[p] = true
	}
	for i, hook := range c.Notifications.Webhooks {
		u, err := url.Parse(hook.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("config.notifications.webhooks[%d].url must be an absolute url", i)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("config.notifications.webhooks[%d].url must use http or https", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with intake config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional falls back to Default when the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes. Omitted keys keep
// their defaults.
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

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
