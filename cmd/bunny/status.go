package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	bunny "github.com/bunny-social/bunny/sdk/golang"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and connection status",
	Long:  "Display the current configuration, then check the API and the realtime connection with the stored token.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Base URL:    %s\n", valueOrDefault(cfg.Default.BaseURL, bunny.DefaultBaseURL))
		switch {
		case cfg.Broadcast.NATSURL != "":
			fmt.Printf("  Broadcast:   nats %s\n", cfg.Broadcast.NATSURL)
		case cfg.Broadcast.RedisAddr != "":
			fmt.Printf("  Broadcast:   redis %s\n", cfg.Broadcast.RedisAddr)
		default:
			fmt.Println("  Broadcast:   (none)")
		}

		fmt.Println()
		fmt.Println("Auth:")
		fmt.Printf("  Username:    %s\n", valueOrDefault(cfg.Auth.Username, "(not set)"))
		fmt.Printf("  User ID:     %s\n", valueOrDefault(cfg.Auth.UserID, "(not set)"))
		if cfg.Auth.Token != "" {
			fmt.Printf("  Token:       %s\n", maskKey(cfg.Auth.Token))
		} else {
			fmt.Println("  Token:       (not set)")
		}

		client, session, err := getClient(cfg)
		if err != nil {
			return nil
		}

		fmt.Println()
		fmt.Println("Live status:")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		convs, err := client.Chat.GetConversations(ctx, session.UserID(), "", 1)
		if err != nil {
			fmt.Printf("  API:         error: %v\n", err)
		} else {
			fmt.Printf("  API:         ok (%d recent conversation)\n", len(convs))
		}

		transport := client.NewTransport(nil)
		notif := bunny.NewNotificationsService(logger)
		notif.Bind(transport)
		contacts := make(chan int, 1)
		transport.On(bunny.EventPrivateChats, func(raw json.RawMessage) {
			var cs []bunny.Contact
			if json.Unmarshal(raw, &cs) == nil {
				select {
				case contacts <- len(cs):
				default:
				}
			}
		})

		if err := transport.Connect(ctx, session.Token()); err != nil {
			fmt.Printf("  Realtime:    error: %v\n", err)
			return nil
		}
		defer transport.Disconnect()

		start := time.Now()
		if err := transport.Ping(ctx); err != nil {
			fmt.Printf("  Realtime:    connected, ping failed: %v\n", err)
			return nil
		}
		fmt.Printf("  Realtime:    ok (ping %s)\n", time.Since(start).Round(time.Millisecond))

		select {
		case n := <-contacts:
			fmt.Printf("  Contacts:    %d\n", n)
		case <-time.After(2 * time.Second):
		}
		fmt.Printf("  Unread:      %d notifications\n", notif.Count().Get())
		return nil
	},
}
