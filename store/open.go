package store

import (
	"context"
	"fmt"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Options selects and configures a backend.
type Options struct {
	Driver        string
	DSN           string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Open builds the RunStore named by opts.Driver. The returned close func is never nil.
func Open(ctx context.Context, opts Options) (RunStore, func() error, error) {
	noop := func() error { return nil }
	switch opts.Driver {
	case "", DriverMemory:
		return NewMemoryStore(), noop, nil
	case DriverSQLite:
		s, err := OpenSQLite(ctx, opts.DSN)
		if err != nil {
			return nil, noop, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, s.Close, nil
	case DriverPostgres:
		s, err := OpenPostgres(ctx, opts.DSN)
		if err != nil {
			return nil, noop, fmt.Errorf("open postgres store: %w", err)
		}
		return s, s.Close, nil
	case DriverRedis:
		s, err := OpenRedis(ctx, opts.RedisAddr, opts.RedisPassword, opts.RedisDB)
		if err != nil {
			return nil, noop, fmt.Errorf("open redis store: %w", err)
		}
		return s, s.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}
