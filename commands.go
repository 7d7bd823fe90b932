package bunny

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// Sender is the outbound half of a Transport.
type Sender interface {
	Send(ctx context.Context, event string, payload any, ack AckFunc) error
}

type chatMessageCommand struct {
	Message string `json:"message"`
	To      string `json:"to"`
}

type isTypingCommand struct {
	ChatGroupID string `json:"chatGroupId"`
}

type markChatAsReadCommand struct {
	ChatGroupID   string `json:"chatGroupId"`
	ChatMessageID string `json:"chatMessageId"`
}

// ChatServiceOptions configures a ChatService.
type ChatServiceOptions struct {
	// ReadReceiptCacheSize bounds the number of conversations whose last
	// read message is remembered.
	ReadReceiptCacheSize int
	Logger               *zap.Logger
}

// ChatService turns chat intents into outbound transport commands.
type ChatService struct {
	sender   Sender
	lastRead *lru.Cache[string, string]
	logger   *zap.Logger
}

func NewChatService(sender Sender, opts *ChatServiceOptions) *ChatService {
	size := 0
	var logger *zap.Logger
	if opts != nil {
		size = opts.ReadReceiptCacheSize
		logger = opts.Logger
	}
	if size <= 0 {
		size = DefaultConfig().ReadReceiptCacheSize
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		// only fails for a non-positive size
		panic(err)
	}
	return &ChatService{
		sender:   sender,
		lastRead: cache,
		logger:   orNop(logger).Named("commands"),
	}
}

// SendMessage sends content to the conversation to. ack, if set, receives
// the server acknowledgement.
func (s *ChatService) SendMessage(ctx context.Context, content, to string, ack AckFunc) error {
	if err := s.sender.Send(ctx, CommandChatMessage, chatMessageCommand{Message: content, To: to}, ack); err != nil {
		return fmt.Errorf("send message to %s: %w", to, err)
	}
	return nil
}

// IsTyping tells the other participants the user is typing.
func (s *ChatService) IsTyping(ctx context.Context, chatGroupID string) error {
	if err := s.sender.Send(ctx, CommandIsTyping, isTypingCommand{ChatGroupID: chatGroupID}, nil); err != nil {
		return fmt.Errorf("send typing to %s: %w", chatGroupID, err)
	}
	return nil
}

// MarkChatAsRead sends a read receipt for messageID. A receipt for the
// message already acknowledged last in that conversation is suppressed. It
// reports whether a receipt was sent.
func (s *ChatService) MarkChatAsRead(ctx context.Context, chatGroupID, messageID string) (bool, error) {
	if prev, ok := s.lastRead.Peek(chatGroupID); ok && prev == messageID {
		return false, nil
	}
	s.lastRead.Add(chatGroupID, messageID)

	err := s.sender.Send(ctx, CommandMarkChatAsRead, markChatAsReadCommand{
		ChatGroupID:   chatGroupID,
		ChatMessageID: messageID,
	}, nil)
	if err != nil {
		if cur, ok := s.lastRead.Peek(chatGroupID); ok && cur == messageID {
			s.lastRead.Remove(chatGroupID)
		}
		return false, fmt.Errorf("mark %s as read: %w", chatGroupID, err)
	}
	s.logger.Debug("read receipt sent",
		zap.String("conversation", chatGroupID),
		zap.String("message", messageID),
	)
	return true, nil
}

// LastRead returns the last message acknowledged in a conversation.
func (s *ChatService) LastRead(chatGroupID string) (string, bool) {
	return s.lastRead.Peek(chatGroupID)
}

// Forget drops every remembered read receipt.
func (s *ChatService) Forget() {
	s.lastRead.Purge()
}
