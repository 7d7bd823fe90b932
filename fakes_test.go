package bunny

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// ============================================================================
// Fake transport
// ============================================================================

type sentCommand struct {
	Event   string
	Payload any
}

type fakeTransport struct {
	mu           sync.Mutex
	handlers     map[string][]EventHandler
	disconnected []func(int, string)
	sent         []sentCommand
	sendErr      error
	reconnects   atomic.Int32
	disconnects  atomic.Int32
}

var _ Transport = (*fakeTransport)(nil)

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string][]EventHandler)}
}

func (f *fakeTransport) Connect(context.Context, string) error { return nil }

func (f *fakeTransport) Disconnect() error {
	f.disconnects.Add(1)
	return nil
}

func (f *fakeTransport) Reconnect(context.Context, string) error {
	f.reconnects.Add(1)
	return nil
}

func (f *fakeTransport) Send(_ context.Context, event string, payload any, _ AckFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentCommand{Event: event, Payload: payload})
	return nil
}

func (f *fakeTransport) On(event string, h EventHandler) {
	f.mu.Lock()
	f.handlers[event] = append(f.handlers[event], h)
	f.mu.Unlock()
}

func (f *fakeTransport) OnDisconnected(h func(int, string)) {
	f.mu.Lock()
	f.disconnected = append(f.disconnected, h)
	f.mu.Unlock()
}

func (f *fakeTransport) setSendErr(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

// emit delivers payload to the handlers of event on the calling goroutine.
func (f *fakeTransport) emit(t *testing.T, event string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	f.mu.Lock()
	handlers := slices.Clone(f.handlers[event])
	f.mu.Unlock()
	for _, h := range handlers {
		h(raw)
	}
}

func (f *fakeTransport) drop(code int, reason string) {
	f.mu.Lock()
	handlers := slices.Clone(f.disconnected)
	f.mu.Unlock()
	for _, h := range handlers {
		h(code, reason)
	}
}

func (f *fakeTransport) sentOf(event string) []sentCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentCommand
	for _, c := range f.sent {
		if c.Event == event {
			out = append(out, c)
		}
	}
	return out
}

// ============================================================================
// Fake history API
// ============================================================================

type historyCall struct {
	ChatGroupID string
	OlderThan   string
	Limit       int
}

// fakeHistory serves conversation history newest first, keyed on
// CreatedAt. When gate is set every call blocks until it is closed.
type fakeHistory struct {
	mu       sync.Mutex
	messages map[string][]ChatMessage // oldest first
	calls    []historyCall
	err      error
	gate     chan struct{}
	started  chan struct{}
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{messages: make(map[string][]ChatMessage)}
}

func (h *fakeHistory) add(msgs ...ChatMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range msgs {
		h.messages[m.ChatGroupID] = append(h.messages[m.ChatGroupID], m)
	}
}

func (h *fakeHistory) GetMessages(ctx context.Context, chatGroupID, olderThan string, limit int) ([]ChatMessage, error) {
	h.mu.Lock()
	h.calls = append(h.calls, historyCall{chatGroupID, olderThan, limit})
	gate, started, err := h.gate, h.started, h.err
	all := slices.Clone(h.messages[chatGroupID])
	h.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	var page []ChatMessage
	for i := len(all) - 1; i >= 0 && len(page) < limit; i-- {
		if olderThan != "" && all[i].CreatedAt >= olderThan {
			continue
		}
		page = append(page, all[i])
	}
	return page, nil
}

func (h *fakeHistory) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

func (h *fakeHistory) lastCall() historyCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[len(h.calls)-1]
}

// ============================================================================
// Builders
// ============================================================================

func chatMsg(id, group, from string, second int) ChatMessage {
	return ChatMessage{
		ID:            id,
		Content:       "content of " + id,
		ChatGroupID:   group,
		FromProfileID: from,
		CreatedAt:     fmt.Sprintf("2024-05-01T10:00:%02dZ", second),
	}
}

func messageIDs(msgs []ChatMessage) []string {
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	return ids
}
