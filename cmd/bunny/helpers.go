package main

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	bunny "github.com/bunny-social/bunny/sdk/golang"
)

// getClient creates a Bunny client authenticated with the stored token.
func getClient(cfg *Config) (*bunny.Client, bunny.StaticSession, error) {
	if cfg.Auth.Token == "" {
		return nil, bunny.StaticSession{}, fmt.Errorf("no token; run 'bunny init <token>' first")
	}
	if cfg.Auth.UserID == "" {
		return nil, bunny.StaticSession{}, fmt.Errorf("no user id; run 'bunny config set auth.user_id <id>'")
	}

	opts := []bunny.ClientOption{bunny.WithLogger(logger)}
	if cfg.Default.BaseURL != "" {
		opts = append(opts, bunny.WithBaseURL(cfg.Default.BaseURL))
	}
	session := bunny.StaticSession{
		ID:         cfg.Auth.UserID,
		Name:       cfg.Auth.Username,
		Credential: cfg.Auth.Token,
	}
	return bunny.NewClient(cfg.Auth.Token, opts...), session, nil
}

// loadClient loads the config and creates a client from it.
func loadClient() (*Config, *bunny.Client, bunny.StaticSession, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, bunny.StaticSession{}, fmt.Errorf("failed to load config: %w", err)
	}
	client, session, err := getClient(cfg)
	if err != nil {
		return nil, nil, bunny.StaticSession{}, err
	}
	return cfg, client, session, nil
}

// openChannel connects the configured broadcast channel. It returns nil
// when none is configured. release closes the channel and its connection.
func openChannel(ctx context.Context, cfg ConfigBroadcast) (ch bunny.TabChannel, release func(), err error) {
	switch {
	case cfg.NATSURL != "":
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("bunny-cli"))
		if err != nil {
			return nil, nil, fmt.Errorf("connect nats: %w", err)
		}
		c, err := bunny.NewNATSChannel(nc, cfg.Channel, logger)
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		return c, func() {
			_ = c.Close()
			_ = nc.Drain()
		}, nil

	case cfg.RedisAddr != "":
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{cfg.RedisAddr}})
		c, err := bunny.NewRedisChannel(ctx, rdb, cfg.Channel, logger)
		if err != nil {
			_ = rdb.Close()
			return nil, nil, err
		}
		return c, func() {
			_ = c.Close()
			_ = rdb.Close()
		}, nil
	}
	return nil, func() {}, nil
}

// maskKey shows the first 6 and last 4 characters of a token.
func maskKey(key string) string {
	if len(key) <= 12 {
		return "****"
	}
	return key[:6] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
