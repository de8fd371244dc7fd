// Package redisconn opens the shared Redis client used by the dead-letter
// recorder and the Redis broker.
package redisconn

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Options builds client options from a redis:// URL. A bare host:port is
// accepted as an address.
func Options(url string) (*redis.Options, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("redis url is required")
	}
	if !strings.Contains(url, "://") {
		return &redis.Options{Addr: url}, nil
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return opt, nil
}

// Connect creates a client and pings it.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := Options(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
