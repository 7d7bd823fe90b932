package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	initUserID   string
	initUsername string
	initBaseURL  string
)

func init() {
	initCmd.Flags().StringVar(&initUserID, "user-id", "", "Profile id of the signed-in user")
	initCmd.Flags().StringVar(&initUsername, "username", "", "Username of the signed-in user")
	initCmd.Flags().StringVar(&initBaseURL, "base-url", "", "API base URL")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init <token>",
	Short: "Store the session token in ~/.bunny/config.toml",
	Long:  "Initialize the Bunny CLI by storing your session token and identity in the local configuration file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Auth.Token = args[0]
		if initUserID != "" {
			cfg.Auth.UserID = initUserID
		}
		if initUsername != "" {
			cfg.Auth.Username = initUsername
		}
		if initBaseURL != "" {
			cfg.Default.BaseURL = initBaseURL
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Token saved to %s\n", path)
		if cfg.Auth.UserID == "" {
			fmt.Println("Set your profile id with 'bunny config set auth.user_id <id>' before chatting.")
		}
		return nil
	},
}
