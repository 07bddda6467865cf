package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	EnvRedisAddr     = "CONVEYOR_REDIS_ADDR"
	EnvRedisPassword = "CONVEYOR_REDIS_PASSWORD"
	EnvRedisDB       = "CONVEYOR_REDIS_DB"
)

// RedisConfig holds the connection parameters for the admission queue
// and concurrency counter.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// Options returns go-redis client options for this config.
func (c *RedisConfig) Options() *redis.Options {
	return &redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
	}
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *RedisConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *RedisConfig) Merge(overlay *RedisConfig) {
	if overlay.Addr != "" {
		c.Addr = overlay.Addr
	}
	if overlay.Password != "" {
		c.Password = overlay.Password
	}
	if overlay.DB != 0 {
		c.DB = overlay.DB
	}
}

func (c *RedisConfig) loadDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
}

func (c *RedisConfig) loadEnv() {
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.Addr = v
	}
	if v := os.Getenv(EnvRedisPassword); v != "" {
		c.Password = v
	}
	if v := os.Getenv(EnvRedisDB); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.DB = db
		}
	}
}

func (c *RedisConfig) validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr required")
	}
	return nil
}
