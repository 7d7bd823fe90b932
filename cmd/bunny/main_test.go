package main

import (
	"strings"
	"testing"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/require"

	bunny "github.com/bunny-social/bunny/sdk/golang"
)

func TestSetConfigValue(t *testing.T) {
	t.Run("sections", func(t *testing.T) {
		var cfg Config
		require.NoError(t, setConfigValue(&cfg, "default.base_url", "http://localhost:8000"))
		require.NoError(t, setConfigValue(&cfg, "auth.user_id", "p1"))
		require.NoError(t, setConfigValue(&cfg, "broadcast.redis_addr", "localhost:6379"))
		require.Equal(t, "http://localhost:8000", cfg.Default.BaseURL)
		require.Equal(t, "p1", cfg.Auth.UserID)
		require.Equal(t, "localhost:6379", cfg.Broadcast.RedisAddr)
	})

	t.Run("chat fields", func(t *testing.T) {
		var cfg Config
		require.NoError(t, setConfigValue(&cfg, "chat.messages_page_size", "50"))
		require.NoError(t, setConfigValue(&cfg, "chat.typing_debounce", "2500ms"))
		require.NoError(t, setConfigValue(&cfg, "chat.reconnect_on_roster_change", "false"))
		require.Equal(t, 50, cfg.Chat.MessagesPageSize)
		require.Equal(t, bunny.Duration(2500*time.Millisecond), cfg.Chat.TypingDebounce)
		require.NotNil(t, cfg.Chat.ReconnectOnRosterChange)
		require.False(t, *cfg.Chat.ReconnectOnRosterChange)
	})

	t.Run("rejects bad input", func(t *testing.T) {
		var cfg Config
		require.Error(t, setConfigValue(&cfg, "base_url", "x"))
		require.Error(t, setConfigValue(&cfg, "nope.field", "x"))
		require.Error(t, setConfigValue(&cfg, "auth.password", "x"))
		require.Error(t, setConfigValue(&cfg, "chat.friends_page_size", "0"))
		require.Error(t, setConfigValue(&cfg, "chat.typing_debounce", "soon"))
	})
}

func TestConfigRoundTripKeepsUnsetChatFieldsEmpty(t *testing.T) {
	cfg := Config{Auth: ConfigAuth{Token: "tok", UserID: "p1"}}
	require.NoError(t, setConfigValue(&cfg, "chat.comments_page_size", "7"))

	data, err := toml.Marshal(cfg)
	require.NoError(t, err)
	var back Config
	require.NoError(t, toml.Unmarshal(data, &back))

	require.Equal(t, 7, back.Chat.CommentsPageSize)
	require.Zero(t, back.Chat.MessagesPageSize)
	require.Equal(t, 20, back.Chat.WithDefaults().MessagesPageSize)
}

func TestParseSection(t *testing.T) {
	for in, want := range map[string]bunny.FriendsSection{
		"":            bunny.SectionFriends,
		"Mutual":      bunny.SectionMutualFriends,
		"suggestions": bunny.SectionFriendSuggestions,
		"incoming":    bunny.SectionIncomingFriendRequest,
		"OUTGOING":    bunny.SectionOutgoingFriendRequest,
	} {
		got, err := parseSection(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := parseSection("enemies")
	require.Error(t, err)
}

func TestMaskKey(t *testing.T) {
	require.Equal(t, "****", maskKey("short"))
	require.Equal(t, "abcdef...6789", maskKey("abcdefXXXXXXX6789"))
}

func TestReadLinesStopsWhenDone(t *testing.T) {
	lines := make(chan string)
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		readLines(strings.NewReader("g1 hello\ng1 again\n"), lines, done)
		close(finished)
	}()

	require.Equal(t, "g1 hello", <-lines)
	close(done)

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("reader still blocked after done")
	}
	for range lines {
	}
}
