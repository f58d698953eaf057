// Package config loads and validates service configuration from an
// optional config file and environment variables. Environment variables
// use the SUPPORTCHAT_ prefix and override file values.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/silverpines/supportchat/internal/constants"
)

// Config holds all application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Chat         ChatConfig         `mapstructure:"chat"`
	Bot          BotConfig          `mapstructure:"bot"`
	Notification NotificationConfig `mapstructure:"notification"`
	Security     SecurityConfig     `mapstructure:"security"`
	LogLevel     string             `mapstructure:"log_level"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	PathPrefix     string        `mapstructure:"path_prefix"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	TrustedProxies []string      `mapstructure:"trusted_proxies"`
}

// ChatConfig holds session and routing configuration
type ChatConfig struct {
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	BotSessionTTL    time.Duration `mapstructure:"bot_session_ttl"`
	MaxMessageSize   int64         `mapstructure:"max_message_size"`
	VisitorRateLimit int           `mapstructure:"visitor_rate_limit"`
	MaxConnsPerUser  int           `mapstructure:"max_conns_per_user"`
}

// BotConfig holds responder configuration
type BotConfig struct {
	Greeting           string   `mapstructure:"greeting"`
	Fallback           string   `mapstructure:"fallback"`
	EscalationKeywords []string `mapstructure:"escalation_keywords"`
}

// NotificationConfig holds escalation alert configuration
type NotificationConfig struct {
	SMTPHost    string   `mapstructure:"smtp_host"`
	SMTPPort    int      `mapstructure:"smtp_port"`
	SMTPUser    string   `mapstructure:"smtp_user"`
	SMTPPass    string   `mapstructure:"smtp_pass"`
	FromAddress string   `mapstructure:"from_address"`
	StaffEmails []string `mapstructure:"staff_emails"`
	ConsoleURL  string   `mapstructure:"console_url"`
}

// SecurityConfig holds authentication and network security configuration
type SecurityConfig struct {
	JWTSecret              string   `mapstructure:"jwt_secret"`
	AllowedOrigins         []string `mapstructure:"allowed_origins"`
	MetricsAllowedNetworks []string `mapstructure:"metrics_allowed_networks"`
}

// setDefaults registers every default value with viper
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", constants.DefaultPort)
	v.SetDefault("server.path_prefix", constants.DefaultPathPrefix)
	v.SetDefault("server.read_timeout", constants.HTTPReadTimeout)
	v.SetDefault("server.write_timeout", constants.HTTPWriteTimeout)
	v.SetDefault("server.idle_timeout", constants.HTTPIdleTimeout)
	v.SetDefault("server.trusted_proxies", strings.Split(constants.DefaultTrustedProxies, ","))

	v.SetDefault("chat.idle_timeout", constants.DefaultIdleTimeout)
	v.SetDefault("chat.bot_session_ttl", constants.DefaultBotSessionTTL)
	v.SetDefault("chat.max_message_size", int64(constants.DefaultMaxMessageSize))
	v.SetDefault("chat.visitor_rate_limit", constants.DefaultVisitorRateLimit)
	v.SetDefault("chat.max_conns_per_user", constants.MaxConnectionsPerUser)

	v.SetDefault("bot.greeting", constants.DefaultGreeting)
	v.SetDefault("bot.fallback", constants.DefaultFallback)
	v.SetDefault("bot.escalation_keywords", constants.DefaultEscalationKeywords)

	v.SetDefault("notification.smtp_port", 587)

	v.SetDefault("security.metrics_allowed_networks", strings.Split(constants.DefaultMetricsAllowedNetworks, ","))

	v.SetDefault("log_level", constants.DefaultLogLevel)
}

// Load reads configuration from the given file (optional) and the
// environment. A missing file is not an error; defaults apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SUPPORTCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		// No else needed: early return pattern (guard clause)
		if _, err := os.Stat(configPath); err != nil {
			return nil, fmt.Errorf("config file not readable: %w", err)
		}
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration. It collects all problems rather
// than stopping at the first one.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, errors.New("server port must be between 1 and 65535"))
	}
	if c.Server.PathPrefix == "" {
		errs = append(errs, errors.New("path prefix cannot be empty"))
	} else if !strings.HasPrefix(c.Server.PathPrefix, "/") {
		errs = append(errs, errors.New("path prefix must start with '/'"))
	}

	if c.Chat.IdleTimeout <= 0 {
		errs = append(errs, errors.New("chat idle timeout must be positive"))
	}
	if c.Chat.BotSessionTTL <= 0 {
		errs = append(errs, errors.New("bot session TTL must be positive"))
	}
	if c.Chat.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("max message size must be positive"))
	}
	if c.Chat.VisitorRateLimit <= 0 {
		errs = append(errs, errors.New("visitor rate limit must be positive"))
	}

	if c.Security.JWTSecret == "" {
		errs = append(errs, errors.New("JWT secret is required"))
	} else {
		if len(c.Security.JWTSecret) < constants.MinJWTSecretLength {
			errs = append(errs, fmt.Errorf(
				"JWT secret must be at least %d characters (got %d). "+
					"Generate a strong secret with: openssl rand -base64 32",
				constants.MinJWTSecretLength, len(c.Security.JWTSecret)))
		}

		lowerSecret := strings.ToLower(c.Security.JWTSecret)
		for _, weak := range constants.WeakSecrets {
			if strings.Contains(lowerSecret, weak) {
				errs = append(errs, fmt.Errorf(
					"JWT secret appears to be weak (contains '%s'). "+
						"Use a cryptographically random secret generated with: openssl rand -base64 32",
					weak))
				break
			}
		}
	}

	// SMTP settings are optional, but when a host is set the alert path
	// must be completely configured.
	if c.Notification.SMTPHost != "" {
		if c.Notification.FromAddress == "" {
			errs = append(errs, errors.New("notification from address is required when SMTP host is set"))
		}
		if len(c.Notification.StaffEmails) == 0 {
			errs = append(errs, errors.New("at least one staff email is required when SMTP host is set"))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}
