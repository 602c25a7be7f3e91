// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Defaults used when the corresponding variable is unset.
const (
	DefaultBasePath = "./public"
	DefaultPort     = 9000
	DefaultHost     = "127.0.0.1"
)

// Config holds the server's runtime settings.
type Config struct {
	BasePath string // FERRIS_BASE_PATH: base directory for writes
	Port     uint16 // FERRIS_PORT: TCP port
	Host     string // FERRIS_HOST: bind host
}

// FromEnv reads configuration from the environment, applying defaults for
// unset variables. An unparsable FERRIS_PORT is a startup error.
func FromEnv() (Config, error) {
	cfg := Config{
		BasePath: DefaultBasePath,
		Port:     DefaultPort,
		Host:     DefaultHost,
	}

	if v := os.Getenv("FERRIS_BASE_PATH"); v != "" {
		cfg.BasePath = v
	}
	if v := os.Getenv("FERRIS_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("FERRIS_PORT"); v != "" {
		port, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return Config{}, fmt.Errorf("FERRIS_PORT must be a valid 16-bit unsigned integer: %w", err)
		}
		cfg.Port = uint16(port)
	}

	return cfg, nil
}

// Addr returns the host:port bind address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
