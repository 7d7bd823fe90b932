package bunny

import (
	"fmt"
	"time"
)

// Duration is a time.Duration that reads and writes as a Go duration
// string ("4s", "1m30s") in TOML.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", b, err)
	}
	*d = Duration(v)
	return nil
}

// Config tunes the chat engine and the paginated pages.
type Config struct {
	MessagesPageSize      int `toml:"messages_page_size"`
	ConversationsPageSize int `toml:"conversations_page_size"`
	NotificationsPageSize int `toml:"notifications_page_size"`
	CommentsPageSize      int `toml:"comments_page_size"`
	FriendsPageSize       int `toml:"friends_page_size"`

	// TypingDebounce is how long a typing indicator stays up after the
	// last typing signal of a conversation.
	TypingDebounce Duration `toml:"typing_debounce"`

	// ClearPresenceOnDisconnect empties the online set when the transport
	// drops. Off keeps the last known presence until fresh snapshots arrive.
	ClearPresenceOnDisconnect bool `toml:"clear_presence_on_disconnect"`

	// ReconnectOnRosterChange reconnects the transport on add_friend and
	// remove_friend so the server resends the contact snapshot.
	ReconnectOnRosterChange *bool `toml:"reconnect_on_roster_change"`

	ReadReceiptCacheSize int `toml:"read_receipt_cache_size"`
}

// DefaultConfig returns a Config with every field set to its default.
func DefaultConfig() Config {
	var c Config
	c.defaults()
	return c
}

// WithDefaults returns a copy of c with every unset field defaulted.
func (c Config) WithDefaults() Config {
	c.defaults()
	return c
}

func configOrDefault(cfg *Config) Config {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	c.defaults()
	return c
}

func (c *Config) defaults() {
	if c.MessagesPageSize <= 0 {
		c.MessagesPageSize = 20
	}
	if c.ConversationsPageSize <= 0 {
		c.ConversationsPageSize = 10
	}
	if c.NotificationsPageSize <= 0 {
		c.NotificationsPageSize = 10
	}
	if c.CommentsPageSize <= 0 {
		c.CommentsPageSize = 5
	}
	if c.FriendsPageSize <= 0 {
		c.FriendsPageSize = 20
	}
	if c.TypingDebounce <= 0 {
		c.TypingDebounce = Duration(4 * time.Second)
	}
	if c.ReconnectOnRosterChange == nil {
		on := true
		c.ReconnectOnRosterChange = &on
	}
	if c.ReadReceiptCacheSize <= 0 {
		c.ReadReceiptCacheSize = 1024
	}
}

func (c *Config) reconnectOnRosterChange() bool {
	return c.ReconnectOnRosterChange == nil || *c.ReconnectOnRosterChange
}
