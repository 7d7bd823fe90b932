package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	bunny "github.com/bunny-social/bunny/sdk/golang"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	listPages int
	listJSON  bool

	// friends list
	friendsSection string
	friendsTarget  string
)

// loadPages calls load up to pages times, stopping once exhausted.
func loadPages(ctx context.Context, pages int, exhausted func() bool, load func(context.Context) (int, error)) error {
	for i := 0; i < pages && !exhausted(); i++ {
		if _, err := load(ctx); err != nil {
			return err
		}
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ============================================================================
// notifications list
// ============================================================================

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "Notification commands",
}

var notificationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notifications, newest first, marking them read",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, client, session, err := loadClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		chatCfg := cfg.Chat
		page := bunny.NewNotificationsPage(client.Notifications, session, nil, &chatCfg, logger)
		if err := loadPages(ctx, max(listPages, 1), func() bool { return page.State().Exhausted }, page.LoadMore); err != nil {
			return err
		}

		items := page.Items()
		if listJSON {
			return printJSON(items)
		}
		if len(items) == 0 {
			fmt.Println("No notifications.")
			return nil
		}
		for _, n := range items {
			mark := " "
			if !n.Read {
				mark = "*"
			}
			fmt.Printf("%s [%s] %s %s\n", mark, n.CreatedAt, n.Data.Event, string(n.Data.Payload))
		}
		return nil
	},
}

// ============================================================================
// conversations list
// ============================================================================

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "Conversation commands",
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations with their latest message",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, client, session, err := loadClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		chatCfg := cfg.Chat
		page := bunny.NewConversationsPage(client.Chat, session, &chatCfg, logger)
		if err := loadPages(ctx, max(listPages, 1), func() bool { return page.State().Exhausted }, page.LoadMore); err != nil {
			return err
		}

		convs := page.Items()
		if listJSON {
			return printJSON(convs)
		}
		if len(convs) == 0 {
			fmt.Println("No conversations.")
			return nil
		}
		for _, c := range convs {
			unread := " "
			if c.ReadAt == nil && c.FromProfileID != session.UserID() {
				unread = "*"
			}
			fmt.Printf("%s %-24s %-16s %s: %s\n", unread, c.ChatGroupID, c.Username, c.FromProfileUsername, c.Content)
		}
		return nil
	},
}

// ============================================================================
// friends list
// ============================================================================

var friendsCmd = &cobra.Command{
	Use:   "friends",
	Short: "Friend list commands",
}

var friendsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List friends, mutual friends, suggestions or friend requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, client, session, err := loadClient()
		if err != nil {
			return err
		}
		section, err := parseSection(friendsSection)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		chatCfg := cfg.Chat
		page := bunny.NewFriendsPage(client.Profiles, session, &chatCfg, logger)
		if err := page.SetSection(ctx, section, friendsTarget); err != nil {
			return err
		}
		if err := loadPages(ctx, listPages-1, func() bool { return page.State().Exhausted }, page.LoadMore); err != nil {
			return err
		}

		profiles := page.Items()
		if listJSON {
			return printJSON(profiles)
		}
		if len(profiles) == 0 {
			fmt.Println("Nobody here.")
			return nil
		}
		for _, p := range profiles {
			fmt.Printf("%-24s %s\n", p.ID, p.Username)
		}
		return nil
	},
}

func parseSection(s string) (bunny.FriendsSection, error) {
	switch strings.ToLower(s) {
	case "", "friends":
		return bunny.SectionFriends, nil
	case "mutual":
		return bunny.SectionMutualFriends, nil
	case "suggestions":
		return bunny.SectionFriendSuggestions, nil
	case "incoming":
		return bunny.SectionIncomingFriendRequest, nil
	case "outgoing":
		return bunny.SectionOutgoingFriendRequest, nil
	}
	return "", fmt.Errorf("unknown section %q (valid: friends, mutual, suggestions, incoming, outgoing)", s)
}

// ============================================================================
// Registration
// ============================================================================

func init() {
	for _, c := range []*cobra.Command{notificationsListCmd, conversationsListCmd, friendsListCmd} {
		c.Flags().IntVar(&listPages, "pages", 1, "Number of pages to load")
		c.Flags().BoolVar(&listJSON, "json", false, "Output JSON")
	}
	friendsListCmd.Flags().StringVar(&friendsSection, "section", "friends", "friends, mutual, suggestions, incoming or outgoing")
	friendsListCmd.Flags().StringVar(&friendsTarget, "of", "", "Profile whose friends to list (default: you)")

	notificationsCmd.AddCommand(notificationsListCmd)
	conversationsCmd.AddCommand(conversationsListCmd)
	friendsCmd.AddCommand(friendsListCmd)

	rootCmd.AddCommand(notificationsCmd)
	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(friendsCmd)
}
