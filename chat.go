package bunny

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// HistoryFetcher loads conversation history, newest first. ChatAPI
// implements it.
type HistoryFetcher interface {
	GetMessages(ctx context.Context, chatGroupID, olderThan string, limit int) ([]ChatMessage, error)
}

// ============================================================================
// Per-conversation view state
// ============================================================================

// ConversationMeta holds the display flags of a conversation. An empty
// TypingUsername means nobody is typing.
type ConversationMeta struct {
	IsOpen         bool
	UnreadCount    int
	TypingUsername string
}

// ConversationState is a snapshot of a ConversationView.
type ConversationState struct {
	Messages          []ChatMessage
	IsLoadingMessages bool
	NoMoreHistory     bool
	IsOpen            bool
	UnreadCount       int
	TypingUsername    string
}

// ConversationView is the client-side state of one conversation. Messages
// are ordered oldest first and unique by id.
type ConversationView struct {
	id      string
	history *Paginator[ChatMessage]
	meta    *Value[ConversationMeta]
	scroll  *Signal[ScrollDirection]

	// typingGen is only touched inside meta updates.
	typingGen uint64

	timerMu     sync.Mutex
	typingTimer clockwork.Timer
}

func newConversationView(id string, limit int, history HistoryFetcher, logger *zap.Logger) *ConversationView {
	fetch := func(ctx context.Context, cursor string, limit int) ([]ChatMessage, error) {
		return history.GetMessages(ctx, id, cursor, limit)
	}
	return &ConversationView{
		id: id,
		history: NewPaginator(limit, func(m ChatMessage) string { return m.CreatedAt }, fetch,
			&PaginatorOptions[ChatMessage]{
				Direction: Backward,
				Identity:  func(m ChatMessage) string { return m.ID },
				Logger:    logger,
			}),
		meta:   NewValue(ConversationMeta{}),
		scroll: newSignal[ScrollDirection](),
	}
}

func (v *ConversationView) ID() string { return v.id }

// History exposes the message list with its loading and exhaustion flags.
func (v *ConversationView) History() Observable[PageState[ChatMessage]] { return v.history.state }

// Meta exposes the open flag, unread count and typing indicator.
func (v *ConversationView) Meta() Observable[ConversationMeta] { return v.meta }

// Scroll delivers scroll intents. Each emission is received at most once;
// an unconsumed intent is replaced by the next.
func (v *ConversationView) Scroll() <-chan ScrollDirection { return v.scroll.C() }

// State returns a snapshot of the view.
func (v *ConversationView) State() ConversationState {
	h := v.history.State()
	m := v.meta.Get()
	return ConversationState{
		Messages:          h.Items,
		IsLoadingMessages: h.Loading,
		NoMoreHistory:     h.Exhausted,
		IsOpen:            m.IsOpen,
		UnreadCount:       m.UnreadCount,
		TypingUsername:    m.TypingUsername,
	}
}

func (v *ConversationView) setTyping(username string) uint64 {
	var gen uint64
	v.meta.Update(func(m ConversationMeta) (ConversationMeta, bool) {
		v.typingGen++
		gen = v.typingGen
		if m.TypingUsername == username {
			return m, false
		}
		m.TypingUsername = username
		return m, true
	})
	return gen
}

// clearTyping clears the indicator if gen is still the latest typing
// generation. gen 0 clears unconditionally.
func (v *ConversationView) clearTyping(gen uint64) {
	v.meta.Update(func(m ConversationMeta) (ConversationMeta, bool) {
		if gen != 0 && gen != v.typingGen {
			return m, false
		}
		v.typingGen++
		if m.TypingUsername == "" {
			return m, false
		}
		m.TypingUsername = ""
		return m, true
	})
}

func (v *ConversationView) replaceTypingTimer(t clockwork.Timer) {
	v.timerMu.Lock()
	defer v.timerMu.Unlock()
	if v.typingTimer != nil {
		v.typingTimer.Stop()
	}
	v.typingTimer = t
}

func (v *ConversationView) isOpen() bool { return v.meta.Get().IsOpen }

func (v *ConversationView) setOpen(open bool) {
	v.meta.Update(func(m ConversationMeta) (ConversationMeta, bool) {
		changed := m.IsOpen != open || (open && m.UnreadCount != 0)
		m.IsOpen = open
		if open {
			m.UnreadCount = 0
		}
		return m, changed
	})
}

func (v *ConversationView) incrementUnread() {
	v.meta.Update(func(m ConversationMeta) (ConversationMeta, bool) {
		m.UnreadCount++
		return m, true
	})
}

// ============================================================================
// ChatStore
// ============================================================================

// ChatStoreOptions configures a ChatStore.
type ChatStoreOptions struct {
	Config *Config
	Clock  clockwork.Clock
	Logger *zap.Logger
}

// ChatStore reconciles live transport events with paginated history into
// per-conversation views, the footer, the unread set and the roster.
//
// Event handlers and user actions may run on different goroutines. Every
// cell update is atomic; subscribers run synchronously on the goroutine
// that made the change and must not call back into the store.
type ChatStore struct {
	transport Transport
	session   Session
	history   HistoryFetcher
	commands  *ChatService
	cfg       Config
	clock     clockwork.Clock
	logger    *zap.Logger

	roster *Roster
	footer *Value[[]FooterEntry]
	unread *Value[[]string]

	mu    sync.Mutex
	views map[string]*ConversationView

	startOnce sync.Once
	bg        sync.WaitGroup
}

// NewChatStore creates a store reading events from transport. commands may
// be nil, in which case a ChatService over transport is used.
func NewChatStore(transport Transport, session Session, history HistoryFetcher, commands *ChatService, opts *ChatStoreOptions) *ChatStore {
	var (
		cfg    Config
		clock  clockwork.Clock
		logger *zap.Logger
	)
	if opts != nil {
		if opts.Config != nil {
			cfg = *opts.Config
		}
		clock = opts.Clock
		logger = opts.Logger
	}
	cfg.defaults()
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger = orNop(logger).Named("chat")
	if commands == nil {
		commands = NewChatService(transport, &ChatServiceOptions{
			ReadReceiptCacheSize: cfg.ReadReceiptCacheSize,
			Logger:               logger,
		})
	}
	return &ChatStore{
		transport: transport,
		session:   session,
		history:   history,
		commands:  commands,
		cfg:       cfg,
		clock:     clock,
		logger:    logger,
		roster:    NewRoster(),
		footer:    NewValue[[]FooterEntry](nil),
		unread:    NewValue[[]string](nil),
		views:     make(map[string]*ConversationView),
	}
}

// Start subscribes the store to the transport events. Calling it again is
// a no-op.
func (s *ChatStore) Start() {
	s.startOnce.Do(func() {
		t, l := s.transport, s.logger
		onEvent(t, l, EventPrivateChats, s.roster.SetContacts)
		onEvent(t, l, EventAddFriend, func(Contact) { s.handleRosterChange() })
		onEvent(t, l, EventRemoveFriend, s.handleRemoveFriend)
		onEvent(t, l, EventIsTyping, s.handleTyping)
		onEvent(t, l, EventOnlineFriends, s.roster.SetOnline)
		onEvent(t, l, EventUnreadConversationsIDs, s.mergeUnread)
		onEvent(t, l, EventChatMessage, s.handleChatMessage)
		s.transport.OnDisconnected(s.handleDisconnected)
	})
}

// Wait blocks until background history loads and reconnects finish.
func (s *ChatStore) Wait() { s.bg.Wait() }

// Commands returns the outbound command facade.
func (s *ChatStore) Commands() *ChatService { return s.commands }

func (s *ChatStore) Roster() *Roster { return s.roster }

func (s *ChatStore) Footer() Observable[[]FooterEntry] { return s.footer }

func (s *ChatStore) UnreadConversationIDs() Observable[[]string] { return s.unread }

// Conversation returns the view of a conversation if it exists.
func (s *ChatStore) Conversation(chatGroupID string) (*ConversationView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[chatGroupID]
	return v, ok
}

func (s *ChatStore) view(chatGroupID string) *ConversationView {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[chatGroupID]
	if !ok {
		v = newConversationView(chatGroupID, s.cfg.MessagesPageSize, s.history,
			s.logger.With(zap.String("conversation", chatGroupID)))
		s.views[chatGroupID] = v
	}
	return v
}

func (s *ChatStore) isCurrent(v *ConversationView) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.views[v.id] == v
}

// ============================================================================
// Inbound events
// ============================================================================

func (s *ChatStore) handleRosterChange() {
	if !s.cfg.reconnectOnRosterChange() {
		return
	}
	// Reconnect closes the connection whose read loop is delivering this
	// event, so it cannot run inline.
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		s.logger.Info("reconnecting to refresh contacts")
		if err := s.transport.Reconnect(context.Background(), s.session.Token()); err != nil {
			s.logger.Warn("reconnect after roster change", zap.Error(err))
		}
	}()
}

func (s *ChatStore) handleRemoveFriend(profileID string) {
	var removed []string
	s.footer.Update(func(entries []FooterEntry) ([]FooterEntry, bool) {
		kept := make([]FooterEntry, 0, len(entries))
		for _, e := range entries {
			if e.ProfileID == profileID {
				removed = append(removed, e.ChatGroupID)
				continue
			}
			kept = append(kept, e)
		}
		return kept, len(removed) > 0
	})
	for _, id := range removed {
		s.destroyView(id)
	}
	s.handleRosterChange()
}

func (s *ChatStore) handleTyping(sig TypingSignal) {
	v := s.view(sig.ChatGroupID)
	gen := v.setTyping(sig.Username)
	v.replaceTypingTimer(s.clock.AfterFunc(time.Duration(s.cfg.TypingDebounce), func() {
		v.clearTyping(gen)
	}))
}

// mergeUnread unions the server list with the local set. Server order
// comes first; ids only known locally are kept.
func (s *ChatStore) mergeUnread(ids []string) {
	s.unread.Update(func(local []string) ([]string, bool) {
		merged := slices.Clone(ids)
		for _, id := range local {
			if !slices.Contains(merged, id) {
				merged = append(merged, id)
			}
		}
		return merged, !slices.Equal(merged, local)
	})
}

func (s *ChatStore) handleDisconnected(code int, reason string) {
	s.logger.Debug("transport disconnected", zap.Int("code", code), zap.String("reason", reason))
	if s.cfg.ClearPresenceOnDisconnect {
		s.roster.SetOnline(nil)
	}
}

func (s *ChatStore) handleChatMessage(msg ChatMessage) {
	id := msg.ChatGroupID
	v := s.view(id)
	if msg.FromProfileID != s.session.UserID() {
		v.clearTyping(0)
	}

	if !s.inFooter(id) {
		s.addFooter(s.footerEntryFor(id))
		v.setOpen(true)

		h := v.history.State()
		if len(h.Items) == 0 && !h.Exhausted {
			s.background(func(ctx context.Context) {
				if _, err := v.history.LoadMore(ctx); err != nil {
					s.logger.Warn("load history for incoming message",
						zap.String("conversation", id), zap.Error(err))
				}
				v.history.Append(msg)
				v.scroll.Emit(ScrollBottom)
				if !s.isCurrent(v) {
					return
				}
				s.markRead(ctx, v)
				s.removeUnread(id)
			})
			return
		}
		v.history.Append(msg)
		s.markRead(context.Background(), v)
		s.removeUnread(id)
		v.scroll.Emit(ScrollBottom)
		return
	}

	if v.history.Contains(msg.ID) {
		s.logger.Debug("duplicate message", zap.String("conversation", id), zap.String("message", msg.ID))
		return
	}
	if v.history.Append(msg) == 0 {
		// loaded by a concurrent history fetch
		return
	}
	if !v.isOpen() {
		v.incrementUnread()
		s.addUnread(id)
		return
	}
	s.markRead(context.Background(), v)
	v.scroll.Emit(ScrollBottom)
}

// ============================================================================
// User actions
// ============================================================================

// SetChatOpen opens or closes a conversation. Opening adds it to the
// footer, resets its unread count and marks loaded history read. With
// loadHistory set, an empty conversation loads its latest page first.
func (s *ChatStore) SetChatOpen(ctx context.Context, chatGroupID string, open, loadHistory bool) error {
	v := s.view(chatGroupID)
	if !open {
		v.setOpen(false)
		return nil
	}

	s.addFooter(s.footerEntryFor(chatGroupID))
	if v.history.Len() > 0 && s.isUnread(chatGroupID) {
		s.markRead(ctx, v)
		s.removeUnread(chatGroupID)
	}
	v.scroll.Emit(ScrollBottom)
	v.setOpen(true)

	h := v.history.State()
	if !loadHistory || len(h.Items) > 0 || h.Exhausted {
		return nil
	}
	if _, err := v.history.LoadMore(ctx); err != nil {
		return err
	}
	if v.history.Len() == 0 {
		return nil
	}
	v.scroll.Emit(ScrollBottom)
	if s.isUnread(chatGroupID) {
		s.markRead(ctx, v)
		s.removeUnread(chatGroupID)
	}
	return nil
}

// LoadMoreMessages loads the page of history preceding the oldest loaded
// message. It returns the number of messages added.
func (s *ChatStore) LoadMoreMessages(ctx context.Context, chatGroupID string) (int, error) {
	return s.view(chatGroupID).history.LoadMore(ctx)
}

// ScrolledToTop loads older history and signals ScrollTop when anything
// was prepended.
func (s *ChatStore) ScrolledToTop(ctx context.Context, chatGroupID string) error {
	v := s.view(chatGroupID)
	n, err := v.history.LoadMore(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		v.scroll.Emit(ScrollTop)
	}
	return nil
}

// AddToFooter surfaces a conversation in the footer. It is a no-op if the
// conversation is already there.
func (s *ChatStore) AddToFooter(entry FooterEntry) {
	s.view(entry.ChatGroupID)
	s.addFooter(entry)
}

// RemoveFromFooter drops a conversation from the footer and discards its
// view. The unread set is left as is.
func (s *ChatStore) RemoveFromFooter(chatGroupID string) {
	s.footer.Update(func(entries []FooterEntry) ([]FooterEntry, bool) {
		i := slices.IndexFunc(entries, func(e FooterEntry) bool { return e.ChatGroupID == chatGroupID })
		if i < 0 {
			return entries, false
		}
		return slices.Delete(slices.Clone(entries), i, i+1), true
	})
	s.destroyView(chatGroupID)
}

// SendMessage sends content to a conversation.
func (s *ChatStore) SendMessage(ctx context.Context, content, chatGroupID string, ack AckFunc) error {
	return s.commands.SendMessage(ctx, content, chatGroupID, ack)
}

// IsTyping signals the user is typing in a conversation.
func (s *ChatStore) IsTyping(ctx context.Context, chatGroupID string) error {
	return s.commands.IsTyping(ctx, chatGroupID)
}

// Reset discards every view, the footer, the unread set, the roster and
// the remembered read receipts.
func (s *ChatStore) Reset() {
	s.mu.Lock()
	views := s.views
	s.views = make(map[string]*ConversationView)
	s.mu.Unlock()
	for _, v := range views {
		v.replaceTypingTimer(nil)
	}

	s.footer.Set(nil)
	s.unread.Set(nil)
	s.roster.Reset()
	s.commands.Forget()
	s.logger.Info("chat state reset")
}

// ============================================================================
// Helpers
// ============================================================================

func (s *ChatStore) background(fn func(ctx context.Context)) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		fn(context.Background())
	}()
}

func (s *ChatStore) destroyView(chatGroupID string) {
	s.mu.Lock()
	v, ok := s.views[chatGroupID]
	delete(s.views, chatGroupID)
	s.mu.Unlock()
	if ok {
		v.replaceTypingTimer(nil)
	}
}

func (s *ChatStore) markRead(ctx context.Context, v *ConversationView) {
	last, ok := v.history.Last()
	if !ok {
		return
	}
	if _, err := s.commands.MarkChatAsRead(ctx, v.id, last.ID); err != nil {
		s.logger.Warn("mark chat as read", zap.String("conversation", v.id), zap.Error(err))
	}
}

func (s *ChatStore) footerEntryFor(chatGroupID string) FooterEntry {
	if c, ok := s.roster.Lookup(chatGroupID); ok {
		return c
	}
	return FooterEntry{ChatGroupID: chatGroupID}
}

func (s *ChatStore) inFooter(chatGroupID string) bool {
	return slices.ContainsFunc(s.footer.Get(), func(e FooterEntry) bool { return e.ChatGroupID == chatGroupID })
}

func (s *ChatStore) addFooter(entry FooterEntry) {
	s.footer.Update(func(entries []FooterEntry) ([]FooterEntry, bool) {
		if slices.ContainsFunc(entries, func(e FooterEntry) bool { return e.ChatGroupID == entry.ChatGroupID }) {
			return entries, false
		}
		return append(slices.Clip(entries), entry), true
	})
}

func (s *ChatStore) isUnread(chatGroupID string) bool {
	return slices.Contains(s.unread.Get(), chatGroupID)
}

func (s *ChatStore) addUnread(chatGroupID string) {
	s.unread.Update(func(ids []string) ([]string, bool) {
		if slices.Contains(ids, chatGroupID) {
			return ids, false
		}
		return append(slices.Clip(ids), chatGroupID), true
	})
}

func (s *ChatStore) removeUnread(chatGroupID string) {
	s.unread.Update(func(ids []string) ([]string, bool) {
		i := slices.Index(ids, chatGroupID)
		if i < 0 {
			return ids, false
		}
		return slices.Delete(slices.Clone(ids), i, i+1), true
	})
}
