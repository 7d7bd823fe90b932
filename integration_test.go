//go:build integration

package bunny_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	bunny "github.com/bunny-social/bunny/sdk/golang"
)

// helpers ---------------------------------------------------------------

func envOrSkip(t *testing.T, key string) string {
	t.Helper()
	v := os.Getenv(key)
	if v == "" {
		t.Skipf("%s not set", key)
	}
	return v
}

func newClient(t *testing.T) *bunny.Client {
	t.Helper()
	opts := []bunny.ClientOption{bunny.WithLogger(zaptest.NewLogger(t))}
	if base := os.Getenv("BUNNY_BASE_URL_TEST"); base != "" {
		opts = append(opts, bunny.WithBaseURL(base))
	}
	return bunny.NewClient(envOrSkip(t, "BUNNY_TOKEN_TEST"), opts...)
}

// waitFor receives one message or fails after a timeout.
func waitFor(t *testing.T, ch <-chan bunny.ChannelMessage) bunny.ChannelMessage {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("no channel message")
		return bunny.ChannelMessage{}
	}
}

// =======================================================================
// Tab channels
// =======================================================================

func TestIntegration_NATSChannel_Logout(t *testing.T) {
	nc, err := nats.Connect(envOrSkip(t, "BUNNY_NATS_URL_TEST"))
	require.NoError(t, err)
	defer nc.Close()

	subject := "bunny.test." + time.Now().Format("150405.000000")
	a, err := bunny.NewNATSChannel(nc, subject, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()
	b, err := bunny.NewNATSChannel(nc, subject, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer b.Close()

	got := make(chan bunny.ChannelMessage, 1)
	b.Subscribe(func(m bunny.ChannelMessage) { got <- m })
	require.NoError(t, nc.Flush())

	require.NoError(t, a.Publish(context.Background(), bunny.ChannelEventLogout, nil))
	m := waitFor(t, got)
	require.Equal(t, bunny.ChannelEventLogout, m.Event)
	require.Equal(t, a.ID(), m.Origin)
}

func TestIntegration_RedisChannel_Logout(t *testing.T) {
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{envOrSkip(t, "BUNNY_REDIS_ADDR_TEST")},
	})
	defer rdb.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	channel := "bunny.test." + time.Now().Format("150405.000000")
	a, err := bunny.NewRedisChannel(ctx, rdb, channel, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()
	b, err := bunny.NewRedisChannel(ctx, rdb, channel, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer b.Close()

	got := make(chan bunny.ChannelMessage, 1)
	b.Subscribe(func(m bunny.ChannelMessage) { got <- m })

	require.NoError(t, a.Publish(ctx, bunny.ChannelEventLogout, nil))
	m := waitFor(t, got)
	require.Equal(t, bunny.ChannelEventLogout, m.Event)
}

// =======================================================================
// Live API
// =======================================================================

func TestIntegration_Conversations_FirstPage(t *testing.T) {
	client := newClient(t)
	profileID := envOrSkip(t, "BUNNY_PROFILE_ID_TEST")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	session := bunny.StaticSession{ID: profileID, Credential: os.Getenv("BUNNY_TOKEN_TEST")}
	page := bunny.NewConversationsPage(client.Chat, session, nil, zaptest.NewLogger(t))
	_, err := page.LoadMore(ctx)
	require.NoError(t, err)

	items := page.Items()
	if len(items) == 0 {
		t.Skip("no conversations for this profile")
	}
	msgs, err := client.Chat.GetMessages(ctx, items[0].ChatGroupID, "", 5)
	require.NoError(t, err)
	for i := 1; i < len(msgs); i++ {
		require.GreaterOrEqual(t, msgs[i-1].CreatedAt, msgs[i].CreatedAt, "history is newest first")
	}
}

func TestIntegration_Realtime_Connect(t *testing.T) {
	client := newClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	transport := client.NewTransport(&bunny.RealtimeConfig{Logger: zaptest.NewLogger(t)})
	contacts := make(chan struct{}, 1)
	transport.On(bunny.EventPrivateChats, func(json.RawMessage) {
		select {
		case contacts <- struct{}{}:
		default:
		}
	})

	require.NoError(t, transport.Connect(ctx, os.Getenv("BUNNY_TOKEN_TEST")))
	defer transport.Disconnect()
	require.NoError(t, transport.Ping(ctx))

	select {
	case <-contacts:
	case <-ctx.Done():
		t.Fatal("no contact snapshot after connect")
	}
}
