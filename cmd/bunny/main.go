package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	bunny "github.com/bunny-social/bunny/sdk/golang"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.bunny/config.toml.
type Config struct {
	Default   ConfigDefault   `toml:"default"`
	Auth      ConfigAuth      `toml:"auth"`
	Broadcast ConfigBroadcast `toml:"broadcast"`
	Chat      bunny.Config    `toml:"chat"`
}

// ConfigDefault holds general SDK settings.
type ConfigDefault struct {
	BaseURL string `toml:"base_url"`
}

// ConfigAuth holds the signed-in session.
type ConfigAuth struct {
	Token    string `toml:"token"`
	UserID   string `toml:"user_id"`
	Username string `toml:"username"`
}

// ConfigBroadcast selects the channel used to share logouts between
// running instances. NATS wins when both are set.
type ConfigBroadcast struct {
	NATSURL   string `toml:"nats_url"`
	RedisAddr string `toml:"redis_addr"`
	Channel   string `toml:"channel"`
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.bunny, creating it if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".bunny")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

// configPath returns the full path to the config file.
func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads and parses the config file.
// If the file does not exist, it returns a zero-value Config.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "default.base_url").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. default.base_url)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "default":
		switch field {
		case "base_url":
			cfg.Default.BaseURL = value
		default:
			return fmt.Errorf("unknown field %q in section [default]", field)
		}
	case "auth":
		switch field {
		case "token":
			cfg.Auth.Token = value
		case "user_id":
			cfg.Auth.UserID = value
		case "username":
			cfg.Auth.Username = value
		default:
			return fmt.Errorf("unknown field %q in section [auth]", field)
		}
	case "broadcast":
		switch field {
		case "nats_url":
			cfg.Broadcast.NATSURL = value
		case "redis_addr":
			cfg.Broadcast.RedisAddr = value
		case "channel":
			cfg.Broadcast.Channel = value
		default:
			return fmt.Errorf("unknown field %q in section [broadcast]", field)
		}
	case "chat":
		return setChatValue(&cfg.Chat, field, value)
	default:
		return fmt.Errorf("unknown config section %q (valid: default, auth, broadcast, chat)", section)
	}
	return nil
}

func setChatValue(c *bunny.Config, field, value string) error {
	intField := func(dst *int) error {
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("%s must be a positive integer", field)
		}
		*dst = n
		return nil
	}
	switch field {
	case "messages_page_size":
		return intField(&c.MessagesPageSize)
	case "conversations_page_size":
		return intField(&c.ConversationsPageSize)
	case "notifications_page_size":
		return intField(&c.NotificationsPageSize)
	case "comments_page_size":
		return intField(&c.CommentsPageSize)
	case "friends_page_size":
		return intField(&c.FriendsPageSize)
	case "read_receipt_cache_size":
		return intField(&c.ReadReceiptCacheSize)
	case "typing_debounce":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("typing_debounce: %w", err)
		}
		c.TypingDebounce = bunny.Duration(d)
	case "clear_presence_on_disconnect":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("clear_presence_on_disconnect: %w", err)
		}
		c.ClearPresenceOnDisconnect = b
	case "reconnect_on_roster_change":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("reconnect_on_roster_change: %w", err)
		}
		c.ReconnectOnRosterChange = &b
	default:
		return fmt.Errorf("unknown field %q in section [chat]", field)
	}
	return nil
}

// ============================================================================
// Root command
// ============================================================================

var (
	debug  bool
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "bunny",
	Short: "Bunny SDK CLI",
	Long:  "Command-line interface for the Bunny social network SDK.\nManage configuration, chat in real time and browse notifications.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := newLogger(debug)
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func newLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	cfg.OutputPaths = []string{"stderr"}
	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return l, nil
}

func main() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Log debug output to stderr")
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
