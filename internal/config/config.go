package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Alerting      AlertingConfig      `mapstructure:"alerting"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	SwitchBot     SwitchBotConfig     `mapstructure:"switchbot"`
	Discovery     DiscoveryConfig     `mapstructure:"discovery"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	Mode            string        `mapstructure:"mode"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type AuthConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	JWTSecret   string `mapstructure:"jwt_secret"`
	TokenExpiry int    `mapstructure:"token_expiry"`
}

// TokenTTL is the lifetime of issued tokens; token_expiry is in seconds.
func (a AuthConfig) TokenTTL() time.Duration {
	return time.Duration(a.TokenExpiry) * time.Second
}

type DatabaseConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Path           string        `mapstructure:"path"`
	MaxConnections int           `mapstructure:"max_connections"`
	Retention      time.Duration `mapstructure:"retention"`
	PruneSchedule  string        `mapstructure:"prune_schedule"`
}

// AlertingConfig drives rule loading and the evaluation schedule.
type AlertingConfig struct {
	RulesFile          string        `mapstructure:"rules_file"`
	Namespace          string        `mapstructure:"namespace"`
	Timezone           string        `mapstructure:"timezone"`
	EvaluationDelay    time.Duration `mapstructure:"evaluation_delay"`
	MaxConcurrentEvals int           `mapstructure:"max_concurrent_evals"`
	TickTimeout        time.Duration `mapstructure:"tick_timeout"`
	Meters             []string      `mapstructure:"meters"`
	PiPlug             string        `mapstructure:"pi_plug"`
	FanPlug            string        `mapstructure:"fan_plug"`
	PiAction           string        `mapstructure:"pi_action"`
}

// Location resolves the configured timezone.
func (a AlertingConfig) Location() (*time.Location, error) {
	if a.Timezone == "" || strings.EqualFold(a.Timezone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(a.Timezone)
}

type NotificationsConfig struct {
	QueueCapacity  int             `mapstructure:"queue_capacity"`
	SendTimeout    time.Duration   `mapstructure:"send_timeout"`
	BackoffInitial time.Duration   `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration   `mapstructure:"backoff_max"`
	DedupSize      int             `mapstructure:"dedup_size"`
	Bindings       []BindingConfig `mapstructure:"bindings"`
	Channels       ChannelsConfig  `mapstructure:"channels"`
}

// BindingConfig overrides the channels for one severity and direction.
type BindingConfig struct {
	Severity  string   `mapstructure:"severity"`
	Direction string   `mapstructure:"direction"`
	Channels  []string `mapstructure:"channels"`
}

type ChannelsConfig struct {
	Pushover    PushoverConfig `mapstructure:"pushover"`
	Webhook     WebhookConfig  `mapstructure:"webhook"`
	Email       EmailConfig    `mapstructure:"email"`
	WebSocket   ToggleConfig   `mapstructure:"websocket"`
	Remediation ToggleConfig   `mapstructure:"remediation"`
}

type ToggleConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type PushoverConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	APIKey   string        `mapstructure:"api_key"`
	UserKey  string        `mapstructure:"user_key"`
	URL      string        `mapstructure:"url"`
	Priority int           `mapstructure:"priority"`
	Retry    time.Duration `mapstructure:"retry"`
	Expire   time.Duration `mapstructure:"expire"`
	Sound    string        `mapstructure:"sound"`
}

type WebhookConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
}

type EmailConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

type SwitchBotConfig struct {
	Enabled    bool                    `mapstructure:"enabled"`
	Token      string                  `mapstructure:"token"`
	Secret     string                  `mapstructure:"secret"`
	BaseURL    string                  `mapstructure:"base_url"`
	DeviceType string                  `mapstructure:"device_type"`
	MaxRetries int                     `mapstructure:"max_retries"`
	BaseDelay  time.Duration           `mapstructure:"base_delay"`
	Poll       PollConfig              `mapstructure:"poll"`
	Plugs      []PlugConfig            `mapstructure:"plugs"`
	Actions    map[string]ActionConfig `mapstructure:"actions"`
}

type PollConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

type PlugConfig struct {
	Name     string `mapstructure:"name"`
	DeviceID string `mapstructure:"device_id"`
}

type ActionConfig struct {
	Device  string `mapstructure:"device"`
	Command string `mapstructure:"command"`
}

type DiscoveryConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Instance string `mapstructure:"instance"`
	Service  string `mapstructure:"service"`
	Domain   string `mapstructure:"domain"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Prefix  string `mapstructure:"prefix"`
}

// Load reads configuration from path, or from ./configs/config.yaml and
// ./config.yaml when path is empty. Environment variables override files.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Secrets and deployment overrides
	bindings := map[string]string{
		"server.port":                              "PORT",
		"logging.level":                            "LOG_LEVEL",
		"auth.jwt_secret":                          "JWT_SECRET",
		"database.path":                            "DATABASE_PATH",
		"alerting.rules_file":                      "RULES_FILE",
		"alerting.namespace":                       "METRIC_NAMESPACE",
		"notifications.channels.pushover.api_key":  "PUSHOVER_API_KEY",
		"notifications.channels.pushover.user_key": "PAGEE_USER_KEY",
		"notifications.channels.email.to":          "EMAIL_ADDRESS",
		"notifications.channels.email.password":    "SMTP_PASSWORD",
		"notifications.channels.webhook.url":       "ALERT_WEBHOOK_URL",
		"switchbot.token":                          "SB_TOKEN",
		"switchbot.secret":                         "SB_SECRET_KEY",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// Validate validates the configuration for completeness and correctness
func (c *Config) Validate() error {
	var errors []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errors = append(errors, "server.port must be between 1 and 65535")
	}
	if c.Server.Host == "" {
		errors = append(errors, "server.host is required")
	}

	if c.Auth.Enabled && (c.Auth.JWTSecret == "" || c.Auth.JWTSecret == "your-secret-key-here") {
		errors = append(errors, "auth.jwt_secret must be set to a secure value when enabled")
	}
	if c.Auth.Enabled && c.Auth.TokenExpiry <= 0 {
		errors = append(errors, "auth.token_expiry must be greater than 0 when enabled")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errors = append(errors, "database.path is required when the journal is enabled")
	}

	if c.Alerting.Namespace == "" {
		errors = append(errors, "alerting.namespace is required")
	}
	if c.Alerting.EvaluationDelay < 0 {
		errors = append(errors, "alerting.evaluation_delay must not be negative")
	}
	if c.Alerting.MaxConcurrentEvals <= 0 {
		errors = append(errors, "alerting.max_concurrent_evals must be greater than 0")
	}
	if _, err := c.Alerting.Location(); err != nil {
		errors = append(errors, fmt.Sprintf("alerting.timezone is invalid: %v", err))
	}

	n := c.Notifications
	if n.QueueCapacity <= 0 {
		errors = append(errors, "notifications.queue_capacity must be greater than 0")
	}
	if n.SendTimeout <= 0 {
		errors = append(errors, "notifications.send_timeout must be greater than 0")
	}
	for i, b := range n.Bindings {
		switch strings.ToUpper(b.Severity) {
		case "HIGH", "LOW":
		default:
			errors = append(errors, fmt.Sprintf("notifications.bindings[%d].severity must be HIGH or LOW", i))
		}
		switch strings.ToUpper(b.Direction) {
		case "ENTERING_ALARM", "RECOVERING":
		default:
			errors = append(errors, fmt.Sprintf("notifications.bindings[%d].direction must be ENTERING_ALARM or RECOVERING", i))
		}
	}
	if p := n.Channels.Pushover; p.Enabled && (p.APIKey == "" || p.UserKey == "") {
		errors = append(errors, "notifications.channels.pushover requires api_key and user_key when enabled")
	}
	if w := n.Channels.Webhook; w.Enabled && w.URL == "" {
		errors = append(errors, "notifications.channels.webhook.url is required when enabled")
	}
	if e := n.Channels.Email; e.Enabled {
		if e.Host == "" || e.From == "" || len(e.To) == 0 {
			errors = append(errors, "notifications.channels.email requires host, from and to when enabled")
		}
	}

	if c.SwitchBot.Enabled {
		if c.SwitchBot.Token == "" || c.SwitchBot.Secret == "" {
			errors = append(errors, "switchbot.token and switchbot.secret are required when enabled")
		}
		if c.SwitchBot.MaxRetries < 0 {
			errors = append(errors, "switchbot.max_retries must be non-negative")
		}
		for id, a := range c.SwitchBot.Actions {
			if a.Device == "" {
				errors = append(errors, fmt.Sprintf("switchbot.actions.%s.device is required", id))
			}
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", "30s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Auth defaults
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.token_expiry", 3600)

	// Database defaults
	v.SetDefault("database.enabled", true)
	v.SetDefault("database.path", "./data/alerting.db")
	v.SetDefault("database.max_connections", 4)
	v.SetDefault("database.retention", "720h")
	v.SetDefault("database.prune_schedule", "0 30 3 * * *")

	// Alerting defaults
	v.SetDefault("alerting.rules_file", "")
	v.SetDefault("alerting.namespace", "NHomeZero")
	v.SetDefault("alerting.timezone", "Local")
	v.SetDefault("alerting.evaluation_delay", "10s")
	v.SetDefault("alerting.max_concurrent_evals", 4)
	v.SetDefault("alerting.tick_timeout", "30s")
	v.SetDefault("alerting.meters", []string{"N. Meter 1", "N. Meter 2"})
	v.SetDefault("alerting.pi_plug", "N.Pi")
	v.SetDefault("alerting.fan_plug", "N.Fan")
	v.SetDefault("alerting.pi_action", "pi-plug-on")

	// Notification defaults
	v.SetDefault("notifications.queue_capacity", 64)
	v.SetDefault("notifications.send_timeout", "10s")
	v.SetDefault("notifications.backoff_initial", "1s")
	v.SetDefault("notifications.backoff_max", "2m")
	v.SetDefault("notifications.dedup_size", 1024)
	v.SetDefault("notifications.channels.pushover.enabled", false)
	v.SetDefault("notifications.channels.pushover.priority", 2)
	v.SetDefault("notifications.channels.pushover.retry", "120s")
	v.SetDefault("notifications.channels.pushover.expire", "900s")
	v.SetDefault("notifications.channels.pushover.sound", "Narita")
	v.SetDefault("notifications.channels.webhook.enabled", false)
	v.SetDefault("notifications.channels.email.enabled", false)
	v.SetDefault("notifications.channels.email.port", 587)
	v.SetDefault("notifications.channels.websocket.enabled", true)
	v.SetDefault("notifications.channels.remediation.enabled", true)

	// SwitchBot defaults
	v.SetDefault("switchbot.enabled", false)
	v.SetDefault("switchbot.base_url", "https://api.switch-bot.com/v1.1")
	v.SetDefault("switchbot.device_type", "Plug Mini (JP)")
	v.SetDefault("switchbot.max_retries", 2)
	v.SetDefault("switchbot.base_delay", "500ms")
	v.SetDefault("switchbot.poll.enabled", true)
	v.SetDefault("switchbot.poll.schedule", "0 */2 * * * *")
	v.SetDefault("switchbot.plugs", []map[string]interface{}{
		{"name": "N. Pi"},
		{"name": "N. Fan"},
	})
	v.SetDefault("switchbot.actions", map[string]interface{}{
		"pi-plug-on": map[string]interface{}{"device": "N. Pi", "command": "turnOn"},
	})

	// Discovery defaults
	v.SetDefault("discovery.enabled", false)
	v.SetDefault("discovery.instance", "pma-alerting")
	v.SetDefault("discovery.service", "_pma-alerting._tcp")
	v.SetDefault("discovery.domain", "local.")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.prefix", "pma_alerting")
}
