package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	bunny "github.com/bunny-social/bunny/sdk/golang"
)

func init() {
	rootCmd.AddCommand(logoutCmd)
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session and sign out every running instance",
	Long: "Remove the token from ~/.bunny/config.toml and, when a broadcast channel is configured,\n" +
		"tell every running 'bunny chat watch' to drop its state and exit.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		channel, release, err := openChannel(ctx, cfg.Broadcast)
		if err != nil {
			return err
		}
		defer release()

		// nothing is connected here; Logout only needs the broadcast
		transport := bunny.NewWSTransport(func(string) string { return "" }, &bunny.RealtimeConfig{Logger: logger})
		if err := bunny.Logout(ctx, transport, channel); err != nil {
			return err
		}

		cfg.Auth = ConfigAuth{}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		if channel != nil {
			fmt.Println("Logged out; other instances notified.")
		} else {
			fmt.Println("Logged out.")
		}
		return nil
	},
}
