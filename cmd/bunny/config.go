package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	bunny "github.com/bunny-social/bunny/sdk/golang"
)

var (
	configShowEffective bool
	configShowSecrets   bool
)

func init() {
	configShowCmd.Flags().BoolVar(&configShowEffective, "effective", false, "Fill unset chat settings with their defaults")
	configShowCmd.Flags().BoolVar(&configShowSecrets, "secrets", false, "Print the token unmasked")
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configSetCmd, configPathCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage Bunny configuration",
	Long:  "View or modify the Bunny CLI configuration stored in ~/.bunny/config.toml.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) && !configShowEffective {
			fmt.Println("No configuration file found. Run 'bunny init <token>' to create one.")
			return nil
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if configShowEffective {
			cfg.Chat = cfg.Chat.WithDefaults()
			cfg.Default.BaseURL = valueOrDefault(cfg.Default.BaseURL, bunny.DefaultBaseURL)
		}
		if !configShowSecrets && cfg.Auth.Token != "" {
			cfg.Auth.Token = maskKey(cfg.Auth.Token)
		}
		data, err := toml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("cannot marshal config: %w", err)
		}
		fmt.Print(string(data))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value using dot notation.\n" +
		"Examples:\n" +
		"  bunny config set chat.typing_debounce 3s\n" +
		"  bunny config set broadcast.nats_url nats://localhost:4222",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := setConfigValue(cfg, key, value); err != nil {
			return err
		}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		if key == "auth.token" {
			value = maskKey(value)
		}
		fmt.Printf("%s = %s\n", key, value)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file location",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	},
}
