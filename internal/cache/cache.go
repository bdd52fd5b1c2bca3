// Package cache memoizes effective permission sets for the tenancy service.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"teamledger.io/internal/tenancy"
)

const (
	ModeNone  = "none"
	ModeLocal = "local"
	ModeRedis = "redis"
)

// Config selects a backend.
type Config struct {
	Mode          string
	TTL           time.Duration
	LocalMaxBytes int
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
}

// New builds the backend named by cfg.Mode.
func New(cfg Config) (tenancy.PermissionCache, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case "", ModeNone:
		return Nop{}, nil
	case ModeLocal:
		return NewLocal(cfg.LocalMaxBytes, cfg.TTL), nil
	case ModeRedis:
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("cache: redis address is required")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return NewRedis(client, cfg.KeyPrefix, cfg.TTL), nil
	}
	return nil, fmt.Errorf("cache: unknown mode %q", cfg.Mode)
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]string, bool) { return nil, false }
func (Nop) Set(context.Context, string, []string)        {}
func (Nop) Invalidate(context.Context, ...string)        {}
func (Nop) Purge(context.Context)                        {}

// entry is the stored form of a permission set.
type entry struct {
	Permissions []string `json:"p"`
	ExpiresAt   int64    `json:"e,omitempty"`
}

func encode(perms []string, expires time.Time) ([]byte, error) {
	e := entry{Permissions: perms}
	if !expires.IsZero() {
		e.ExpiresAt = expires.UnixNano()
	}
	return sonic.Marshal(e)
}

func decode(raw []byte, now time.Time) ([]string, bool) {
	var e entry
	if err := sonic.Unmarshal(raw, &e); err != nil {
		return nil, false
	}
	if e.ExpiresAt != 0 && now.UnixNano() >= e.ExpiresAt {
		return nil, false
	}
	if e.Permissions == nil {
		e.Permissions = []string{}
	}
	return e.Permissions, true
}
