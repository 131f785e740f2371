package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog"
)

type PoolConfig struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// LogLevel is the lowest pgx log level written. Queries are logged at
	// info, so the default of warn keeps them out.
	LogLevel tracelog.LogLevel
}

func NewPool(ctx context.Context, pc PoolConfig, logger zerolog.Logger) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(pc.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if pc.MaxConns > 0 {
		cfg.MaxConns = pc.MaxConns
	}
	if pc.MinConns > 0 {
		cfg.MinConns = pc.MinConns
	}
	if pc.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = pc.MaxConnLifetime
	}
	level := pc.LogLevel
	if level == 0 {
		level = tracelog.LogLevelWarn
	}
	cfg.ConnConfig.Tracer = &tracelog.TraceLog{
		Logger:   NewZerologAdapter(logger),
		LogLevel: level,
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// ZerologAdapter writes pgx trace output through zerolog.
type ZerologAdapter struct {
	logger zerolog.Logger
}

func NewZerologAdapter(logger zerolog.Logger) *ZerologAdapter {
	return &ZerologAdapter{logger: logger.With().Str("component", "pgx").Logger()}
}

func (a *ZerologAdapter) Log(_ context.Context, level tracelog.LogLevel, msg string, data map[string]interface{}) {
	var evt *zerolog.Event
	switch level {
	case tracelog.LogLevelTrace:
		evt = a.logger.Trace()
	case tracelog.LogLevelDebug:
		evt = a.logger.Debug()
	case tracelog.LogLevelInfo:
		evt = a.logger.Info()
	case tracelog.LogLevelWarn:
		evt = a.logger.Warn()
	case tracelog.LogLevelError:
		evt = a.logger.Error()
	default:
		evt = a.logger.Debug()
	}
	evt.Fields(data).Msg(msg)
}
