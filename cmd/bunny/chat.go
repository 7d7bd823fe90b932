package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	bunny "github.com/bunny-social/bunny/sdk/golang"
)

var (
	chatHistoryLimit int
	chatHistoryPages int
	chatHistoryJSON  bool

	chatSendWait time.Duration
)

// ============================================================================
// chat watch
// ============================================================================

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Realtime chat commands",
}

// resetFunc adapts a function to bunny.Resetter.
type resetFunc func()

func (f resetFunc) Reset() { f() }

var chatWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream chat events and send messages from stdin",
	Long: "Connect to the realtime service and print incoming messages, typing and presence.\n" +
		"Each stdin line of the form '<chat-group-id> <message>' is sent to that conversation.\n" +
		"A logout broadcast from another instance ends the session.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, client, session, err := loadClient()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		transport := client.NewTransport(&bunny.RealtimeConfig{
			AutoReconnect:        true,
			MaxReconnectAttempts: -1,
			Logger:               logger,
		})
		chatCfg := cfg.Chat
		store := bunny.NewChatStore(transport, session, client.Chat, nil, &bunny.ChatStoreOptions{
			Config: &chatCfg,
			Logger: logger,
		})
		notif := bunny.NewNotificationsService(logger)
		notif.Bind(transport)
		store.Start()

		printEvents(transport, store, notif)

		channel, release, err := openChannel(ctx, cfg.Broadcast)
		if err != nil {
			return err
		}
		defer release()
		if channel != nil {
			cancel := bunny.BindChannel(channel, store, notif, resetFunc(func() {
				fmt.Println("* logged out from another instance")
				stop()
			}))
			defer cancel()
		}

		if err := transport.Connect(ctx, session.Token()); err != nil {
			return err
		}
		fmt.Println("* connected, type '<chat-group-id> <message>' to send")

		lines := make(chan string)
		go readLines(os.Stdin, lines, ctx.Done())

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case line, ok := <-lines:
					if !ok {
						stop()
						return nil
					}
					sendLine(gctx, store, line)
				}
			}
		})
		g.Go(func() error {
			<-gctx.Done()
			store.Wait()
			if err := transport.Disconnect(); err != nil {
				logger.Debug("disconnect", zap.Error(err))
			}
			return nil
		})
		return g.Wait()
	},
}

func printEvents(transport *bunny.WSTransport, store *bunny.ChatStore, notif *bunny.NotificationsService) {
	transport.On(bunny.EventChatMessage, func(raw json.RawMessage) {
		var m bunny.ChatMessage
		if json.Unmarshal(raw, &m) != nil {
			return
		}
		from := m.FromProfileID
		if c, ok := store.Roster().Lookup(m.ChatGroupID); ok && c.ProfileID == m.FromProfileID {
			from = c.Username
		}
		fmt.Printf("[%s] %s @%s: %s\n", m.CreatedAt, m.ChatGroupID, from, m.Content)
	})
	transport.On(bunny.EventIsTyping, func(raw json.RawMessage) {
		var s bunny.TypingSignal
		if json.Unmarshal(raw, &s) == nil {
			fmt.Printf("* %s is typing in %s\n", s.Username, s.ChatGroupID)
		}
	})
	transport.OnReconnecting(func(attempt int, delay time.Duration) {
		fmt.Printf("* reconnecting (attempt %d in %s)\n", attempt, delay.Round(time.Millisecond))
	})

	store.Roster().Entries().Subscribe(func(entries []bunny.RosterEntry) {
		online := 0
		for _, e := range entries {
			if e.Status == bunny.StatusOnline {
				online++
			}
		}
		if len(entries) > 0 {
			fmt.Printf("* %d contacts, %d online\n", len(entries), online)
		}
	})
	store.UnreadConversationIDs().Subscribe(func(ids []string) {
		if len(ids) > 0 {
			fmt.Printf("* unread conversations: %s\n", strings.Join(ids, ", "))
		}
	})
	notif.Count().Subscribe(func(n int) {
		if n > 0 {
			fmt.Printf("* %d unread notifications\n", n)
		}
	})
}

// readLines sends each line of r to out until r ends or done is closed.
func readLines(r io.Reader, out chan<- string, done <-chan struct{}) {
	defer close(out)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		select {
		case out <- sc.Text():
		case <-done:
			return
		}
	}
}

func sendLine(ctx context.Context, store *bunny.ChatStore, line string) {
	id, text, ok := strings.Cut(strings.TrimSpace(line), " ")
	if !ok || strings.TrimSpace(text) == "" {
		if id != "" {
			fmt.Println("* usage: <chat-group-id> <message>")
		}
		return
	}
	if err := store.SendMessage(ctx, text, id, nil); err != nil {
		fmt.Printf("* send failed: %v\n", err)
	}
}

// ============================================================================
// chat send
// ============================================================================

var chatSendCmd = &cobra.Command{
	Use:   "send <chat-group-id> <message>",
	Short: "Send one message and wait for the server acknowledgement",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, client, session, err := loadClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), chatSendWait)
		defer cancel()

		transport := client.NewTransport(nil)
		if err := transport.Connect(ctx, session.Token()); err != nil {
			return err
		}
		defer transport.Disconnect()

		acked := make(chan json.RawMessage, 1)
		commands := bunny.NewChatService(transport, &bunny.ChatServiceOptions{Logger: logger})
		if err := commands.SendMessage(ctx, args[1], args[0], func(data json.RawMessage) { acked <- data }); err != nil {
			return err
		}
		select {
		case data := <-acked:
			fmt.Printf("Message sent to %s\n", args[0])
			logger.Debug("ack", zap.ByteString("data", data))
		case <-ctx.Done():
			return errors.New("no acknowledgement from server")
		}
		return nil
	},
}

// ============================================================================
// chat history
// ============================================================================

var chatHistoryCmd = &cobra.Command{
	Use:   "history <chat-group-id>",
	Short: "Print the latest messages of a conversation, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, client, _, err := loadClient()
		if err != nil {
			return err
		}
		id := args[0]
		limit := chatHistoryLimit
		if limit <= 0 {
			limit = cfg.Chat.WithDefaults().MessagesPageSize
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		history := bunny.NewPaginator(limit,
			func(m bunny.ChatMessage) string { return m.CreatedAt },
			func(ctx context.Context, cursor string, limit int) ([]bunny.ChatMessage, error) {
				return client.Chat.GetMessages(ctx, id, cursor, limit)
			},
			&bunny.PaginatorOptions[bunny.ChatMessage]{
				Direction: bunny.Backward,
				Identity:  func(m bunny.ChatMessage) string { return m.ID },
				Logger:    logger,
			})
		for i := 0; i < max(chatHistoryPages, 1) && !history.State().Exhausted; i++ {
			if _, err := history.LoadMore(ctx); err != nil {
				return err
			}
		}

		msgs := history.Items()
		if chatHistoryJSON {
			return json.NewEncoder(os.Stdout).Encode(msgs)
		}
		if len(msgs) == 0 {
			fmt.Println("No messages found.")
			return nil
		}
		for _, m := range msgs {
			fmt.Printf("[%s] %s: %s\n", m.CreatedAt, m.FromProfileID, m.Content)
		}
		if !history.State().Exhausted {
			fmt.Println("(older messages available, use --pages)")
		}
		return nil
	},
}

// ============================================================================
// Registration
// ============================================================================

func init() {
	chatSendCmd.Flags().DurationVar(&chatSendWait, "wait", 15*time.Second, "How long to wait for the acknowledgement")

	chatHistoryCmd.Flags().IntVarP(&chatHistoryLimit, "limit", "n", 0, "Messages per page")
	chatHistoryCmd.Flags().IntVar(&chatHistoryPages, "pages", 1, "Number of pages to load")
	chatHistoryCmd.Flags().BoolVar(&chatHistoryJSON, "json", false, "Output JSON")

	chatCmd.AddCommand(chatWatchCmd)
	chatCmd.AddCommand(chatSendCmd)
	chatCmd.AddCommand(chatHistoryCmd)
	rootCmd.AddCommand(chatCmd)
}
