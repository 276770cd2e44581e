// Package config loads and validates the NodeWatch configuration.
// Configuration is read once at process start and treated as immutable
// for the process lifetime.
package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	// Nodes maps node name to its configuration. Names are unique by
	// construction of the YAML mapping.
	Nodes map[string]*NodeConfig `yaml:"nodes" validate:"required,min=1,dive"`

	Thresholds Thresholds      `yaml:"thresholds"`
	Monitor    MonitorConfig   `yaml:"monitor"`
	Notifiers  NotifiersConfig `yaml:"notifiers"`
	Dashboard  DashboardConfig `yaml:"dashboard"`
	Logging    LoggingConfig   `yaml:"logging"`
}

// Thresholds holds warning/critical bounds for the numeric metrics.
// Memory and disk bounds are percentages; load bounds apply to the
// 1-minute load average normalized by CPU count.
type Thresholds struct {
	MemoryWarning  float64 `yaml:"memory_warning" validate:"gte=0"`
	MemoryCritical float64 `yaml:"memory_critical" validate:"gte=0"`
	DiskWarning    float64 `yaml:"disk_warning" validate:"gte=0"`
	DiskCritical   float64 `yaml:"disk_critical" validate:"gte=0"`
	LoadWarning    float64 `yaml:"load_warning" validate:"gte=0"`
	LoadCritical   float64 `yaml:"load_critical" validate:"gte=0"`
}

// Bound is a (warning, critical) pair for one metric.
type Bound struct {
	Warning  float64
	Critical float64
}

// Bounds returns the thresholds keyed by alert-key name.
func (t Thresholds) Bounds() map[string]Bound {
	return map[string]Bound{
		"memory": {Warning: t.MemoryWarning, Critical: t.MemoryCritical},
		"disk":   {Warning: t.DiskWarning, Critical: t.DiskCritical},
		"load":   {Warning: t.LoadWarning, Critical: t.LoadCritical},
	}
}

// validateOrdering enforces warning < critical for every metric.
func (t Thresholds) validateOrdering(scope string) error {
	for key, b := range t.Bounds() {
		if b.Warning >= b.Critical {
			return fmt.Errorf("%s: %s_warning (%.1f) must be below %s_critical (%.1f)",
				scope, key, b.Warning, key, b.Critical)
		}
	}
	return nil
}

// DefaultThresholds mirrors the shipped example configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MemoryWarning:  80,
		MemoryCritical: 90,
		DiskWarning:    80,
		DiskCritical:   90,
		LoadWarning:    4,
		LoadCritical:   8,
	}
}

// SSHConfig describes an SSH connection to a remote node.
type SSHConfig struct {
	Host       string `yaml:"host" validate:"required"`
	Port       int    `yaml:"port"`
	Username   string `yaml:"username" validate:"required"`
	Password   string `yaml:"password"`
	KeyFile    string `yaml:"key_file"`
	Passphrase string `yaml:"passphrase"`
	TimeoutMS  int    `yaml:"timeout_ms"`
}

// GetPort returns the configured port or the SSH default.
func (s *SSHConfig) GetPort() int {
	if s.Port <= 0 {
		return 22
	}
	return s.Port
}

// GetTimeout returns the connect timeout, defaulting to 10s.
func (s *SSHConfig) GetTimeout() time.Duration {
	if s.TimeoutMS <= 0 {
		return 10 * time.Second
	}
	return time.Duration(s.TimeoutMS) * time.Millisecond
}

// WinRMConfig describes a WinRM connection to a Windows node.
type WinRMConfig struct {
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username" validate:"required"`
	Password string `yaml:"password" validate:"required"`
	Domain   string `yaml:"domain"`
	UseHTTPS bool   `yaml:"use_https"`
}

// GetPort returns the configured port or the WinRM default for the
// chosen transport.
func (w *WinRMConfig) GetPort() int {
	if w.Port > 0 {
		return w.Port
	}
	if w.UseHTTPS {
		return 5986
	}
	return 5985
}

// RemediationConfig configures per-node auto-remediation. Actions are
// script paths (resolved against ScriptsDir) or shell commands.
type RemediationConfig struct {
	Enabled       bool              `yaml:"enabled"`
	DryRun        bool              `yaml:"dry_run"`
	ScriptsDir    string            `yaml:"scripts_dir"`
	OnHighMemory  string            `yaml:"on_high_memory"`
	OnHighDisk    string            `yaml:"on_high_disk"`
	OnHighLoad    string            `yaml:"on_high_load"`
	OnServiceDown map[string]string `yaml:"on_service_down"`
}

// NodeConfig describes one monitored machine. Exactly one of Local,
// SSH or WinRM must be set.
type NodeConfig struct {
	// Name is filled from the YAML mapping key after load.
	Name string `yaml:"-"`

	Platform string `yaml:"platform" validate:"omitempty,oneof=linux darwin windows"`
	Disabled bool   `yaml:"disabled"`

	Local bool         `yaml:"local"`
	SSH   *SSHConfig   `yaml:"ssh"`
	WinRM *WinRMConfig `yaml:"winrm"`

	Services    []string           `yaml:"services"`
	Thresholds  *Thresholds        `yaml:"thresholds"`
	Remediation *RemediationConfig `yaml:"remediation"`
	Tags        []string           `yaml:"tags"`
}

// Address returns the host this node is reached at, "localhost" for
// local nodes.
func (n *NodeConfig) Address() string {
	switch {
	case n.SSH != nil:
		return n.SSH.Host
	case n.WinRM != nil:
		return n.WinRM.Host
	default:
		return "localhost"
	}
}

// EffectiveThresholds returns the node override or the global
// defaults.
func (n *NodeConfig) EffectiveThresholds(global Thresholds) Thresholds {
	if n.Thresholds != nil {
		return *n.Thresholds
	}
	return global
}

// MonitorConfig tunes the check scheduler.
type MonitorConfig struct {
	CheckIntervalSeconds int `yaml:"check_interval_seconds"`
	// MaxInFlight bounds concurrent collector calls within a cycle.
	MaxInFlight     int `yaml:"max_in_flight"`
	NodeTimeoutMS   int `yaml:"node_timeout_ms"`
	CycleTimeoutMS  int `yaml:"cycle_timeout_ms"`
	CooldownSeconds int `yaml:"cooldown_seconds"`
}

// GetCheckInterval returns the watch-mode interval, defaulting to 60s.
func (m MonitorConfig) GetCheckInterval() time.Duration {
	if m.CheckIntervalSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(m.CheckIntervalSeconds) * time.Second
}

// GetMaxInFlight returns the concurrency bound, defaulting to 10.
func (m MonitorConfig) GetMaxInFlight() int {
	if m.MaxInFlight <= 0 {
		return 10
	}
	return m.MaxInFlight
}

// GetNodeTimeout returns the per-node collection timeout, defaulting
// to 30s.
func (m MonitorConfig) GetNodeTimeout() time.Duration {
	if m.NodeTimeoutMS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(m.NodeTimeoutMS) * time.Millisecond
}

// GetCycleTimeout returns the whole-cycle timeout; zero disables it.
func (m MonitorConfig) GetCycleTimeout() time.Duration {
	if m.CycleTimeoutMS <= 0 {
		return 0
	}
	return time.Duration(m.CycleTimeoutMS) * time.Millisecond
}

// GetCooldown returns the re-notify cooldown, defaulting to 5m.
func (m MonitorConfig) GetCooldown() time.Duration {
	if m.CooldownSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(m.CooldownSeconds) * time.Second
}

// TelegramConfig configures the Telegram bot notifier.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token" validate:"required"`
	ChatID   string `yaml:"chat_id" validate:"required"`
}

// SlackConfig configures the Slack incoming-webhook notifier.
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url" validate:"required,url"`
	Channel    string `yaml:"channel"`
}

// WebhookConfig configures the generic HTTP notifier.
type WebhookConfig struct {
	URL      string            `yaml:"url" validate:"required,url"`
	Method   string            `yaml:"method" validate:"omitempty,oneof=POST PUT"`
	Headers  map[string]string `yaml:"headers"`
	Username string            `yaml:"username"`
	Password string            `yaml:"password"`
}

// NotifiersConfig enables zero or more notifier backends.
type NotifiersConfig struct {
	Telegram *TelegramConfig `yaml:"telegram"`
	Slack    *SlackConfig    `yaml:"slack"`
	Webhook  *WebhookConfig  `yaml:"webhook"`
}

// DashboardConfig configures the web dashboard and its API.
type DashboardConfig struct {
	Enabled                bool   `yaml:"enabled"`
	Host                   string `yaml:"host"`
	Port                   int    `yaml:"port"`
	RefreshIntervalSeconds int    `yaml:"refresh_interval_seconds"`
	AuthEnabled            bool   `yaml:"auth_enabled"`
	Username               string `yaml:"username"`
	Password               string `yaml:"password"`
	JWTSecret              string `yaml:"jwt_secret"`
	JWTExpiryHours         int    `yaml:"jwt_expiry_hours"`
}

// Addr returns the listen address.
func (d DashboardConfig) Addr() string {
	host := d.Host
	if host == "" {
		host = "0.0.0.0"
	}
	port := d.Port
	if port <= 0 {
		port = 8080
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// GetRefreshInterval returns the dashboard auto-refresh interval.
func (d DashboardConfig) GetRefreshInterval() time.Duration {
	if d.RefreshIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(d.RefreshIntervalSeconds) * time.Second
}

// GetJWTExpiry returns the token lifetime, defaulting to 24h.
func (d DashboardConfig) GetJWTExpiry() time.Duration {
	if d.JWTExpiryHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(d.JWTExpiryHours) * time.Hour
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

var validate = validator.New()

// Load reads the configuration file, applies environment overrides and
// validates the result. Validation failures are fatal: no cycle may
// run against an invalid configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML. Split out of Load for tests.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{Thresholds: DefaultThresholds()}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	for name, node := range cfg.Nodes {
		if node == nil {
			cfg.Nodes[name] = &NodeConfig{}
			node = cfg.Nodes[name]
		}
		node.Name = name
		if node.Platform == "" {
			node.Platform = "linux"
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks struct tags plus the invariants the tags cannot
// express: threshold ordering and connection descriptors.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	if err := c.Thresholds.validateOrdering("thresholds"); err != nil {
		return err
	}

	for _, name := range c.NodeNames() {
		node := c.Nodes[name]

		mechanisms := 0
		if node.Local {
			mechanisms++
		}
		if node.SSH != nil {
			mechanisms++
		}
		if node.WinRM != nil {
			mechanisms++
		}
		if mechanisms != 1 {
			return fmt.Errorf("node %q: exactly one of local, ssh or winrm must be set", name)
		}

		if node.Thresholds != nil {
			if err := node.Thresholds.validateOrdering("node " + name); err != nil {
				return err
			}
		}
	}

	if c.Dashboard.AuthEnabled {
		if c.Dashboard.Username == "" || c.Dashboard.Password == "" {
			return fmt.Errorf("dashboard auth requires username and password")
		}
		if len(c.Dashboard.JWTSecret) < 32 {
			return fmt.Errorf("dashboard jwt_secret must be at least 32 characters")
		}
	}

	return nil
}

// NodeNames returns all configured node names in sorted order.
func (c *Config) NodeNames() []string {
	names := make([]string, 0, len(c.Nodes))
	for name := range c.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EnabledNodes returns the enabled nodes sorted by name.
func (c *Config) EnabledNodes() []*NodeConfig {
	nodes := make([]*NodeConfig, 0, len(c.Nodes))
	for _, name := range c.NodeNames() {
		if node := c.Nodes[name]; !node.Disabled {
			nodes = append(nodes, node)
		}
	}
	return nodes
}

// applyEnvOverrides checks for environment variables with NW_ prefix.
// Secrets are the usual candidates for injection outside the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NW_TELEGRAM_BOT_TOKEN"); v != "" {
		if cfg.Notifiers.Telegram == nil {
			cfg.Notifiers.Telegram = &TelegramConfig{}
		}
		cfg.Notifiers.Telegram.BotToken = v
	}
	if v := os.Getenv("NW_TELEGRAM_CHAT_ID"); v != "" {
		if cfg.Notifiers.Telegram == nil {
			cfg.Notifiers.Telegram = &TelegramConfig{}
		}
		cfg.Notifiers.Telegram.ChatID = v
	}
	if v := os.Getenv("NW_SLACK_WEBHOOK_URL"); v != "" {
		if cfg.Notifiers.Slack == nil {
			cfg.Notifiers.Slack = &SlackConfig{}
		}
		cfg.Notifiers.Slack.WebhookURL = v
	}
	if v := os.Getenv("NW_DASHBOARD_PASSWORD"); v != "" {
		cfg.Dashboard.Password = v
	}
	if v := os.Getenv("NW_DASHBOARD_JWT_SECRET"); v != "" {
		cfg.Dashboard.JWTSecret = v
	}
}
