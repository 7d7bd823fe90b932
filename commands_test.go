package bunny

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestChatServiceCommands(t *testing.T) {
	tr := newFakeTransport()
	svc := NewChatService(tr, &ChatServiceOptions{Logger: zaptest.NewLogger(t)})
	ctx := context.Background()

	require.NoError(t, svc.SendMessage(ctx, "hi", "g1", nil))
	require.NoError(t, svc.IsTyping(ctx, "g1"))

	require.Equal(t, []sentCommand{{
		Event:   CommandChatMessage,
		Payload: chatMessageCommand{Message: "hi", To: "g1"},
	}}, tr.sentOf(CommandChatMessage))
	require.Equal(t, []sentCommand{{
		Event:   CommandIsTyping,
		Payload: isTypingCommand{ChatGroupID: "g1"},
	}}, tr.sentOf(CommandIsTyping))
}

func TestMarkChatAsRead(t *testing.T) {
	ctx := context.Background()

	t.Run("suppresses repeated receipts", func(t *testing.T) {
		tr := newFakeTransport()
		svc := NewChatService(tr, nil)

		sent, err := svc.MarkChatAsRead(ctx, "g1", "m1")
		require.NoError(t, err)
		require.True(t, sent)

		sent, err = svc.MarkChatAsRead(ctx, "g1", "m1")
		require.NoError(t, err)
		require.False(t, sent)

		sent, err = svc.MarkChatAsRead(ctx, "g1", "m2")
		require.NoError(t, err)
		require.True(t, sent)

		sent, err = svc.MarkChatAsRead(ctx, "g2", "m2")
		require.NoError(t, err)
		require.True(t, sent)

		require.Len(t, tr.sentOf(CommandMarkChatAsRead), 3)
		last, ok := svc.LastRead("g1")
		require.True(t, ok)
		require.Equal(t, "m2", last)
	})

	t.Run("failed send can be retried", func(t *testing.T) {
		tr := newFakeTransport()
		svc := NewChatService(tr, nil)
		tr.setSendErr(ErrNotConnected)

		sent, err := svc.MarkChatAsRead(ctx, "g1", "m1")
		require.ErrorIs(t, err, ErrNotConnected)
		require.False(t, sent)

		tr.setSendErr(nil)
		sent, err = svc.MarkChatAsRead(ctx, "g1", "m1")
		require.NoError(t, err)
		require.True(t, sent)
	})

	t.Run("forget clears remembered receipts", func(t *testing.T) {
		tr := newFakeTransport()
		svc := NewChatService(tr, nil)

		_, err := svc.MarkChatAsRead(ctx, "g1", "m1")
		require.NoError(t, err)
		svc.Forget()

		sent, err := svc.MarkChatAsRead(ctx, "g1", "m1")
		require.NoError(t, err)
		require.True(t, sent)
	})

	t.Run("cache is bounded", func(t *testing.T) {
		tr := newFakeTransport()
		svc := NewChatService(tr, &ChatServiceOptions{ReadReceiptCacheSize: 1})

		_, err := svc.MarkChatAsRead(ctx, "g1", "m1")
		require.NoError(t, err)
		_, err = svc.MarkChatAsRead(ctx, "g2", "m1")
		require.NoError(t, err)

		_, ok := svc.LastRead("g1")
		require.False(t, ok)
		_, ok = svc.LastRead("g2")
		require.True(t, ok)
	})

	t.Run("wraps transport errors", func(t *testing.T) {
		tr := newFakeTransport()
		boom := errors.New("boom")
		tr.setSendErr(boom)
		svc := NewChatService(tr, nil)

		require.ErrorIs(t, svc.SendMessage(ctx, "x", "g1", nil), boom)
		require.ErrorIs(t, svc.IsTyping(ctx, "g1"), boom)
	})
}
