// Package storage holds the relational store and cache plumbing shared by
// the API server and the scheduler binary.
package storage

import "time"

// Config holds storage configuration for postgres and redis
type Config struct {
	// Postgres
	DatabaseURL string
	MaxConns    int
	MinConns    int
	MaxLifetime time.Duration
	MaxIdleTime time.Duration

	// Redis
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int
}
