package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type HTTP struct {
	Addr string `yaml:"addr"`
}

type Storage struct {
	RoomsDir string `yaml:"rooms_dir"`
	DataDir  string `yaml:"data_dir"`
}

type Exec struct {
	Timeout     time.Duration `yaml:"timeout"`
	MaxFileSize int64         `yaml:"max_file_size"`
}

type Config struct {
	Env     string   `yaml:"env"`
	HTTP    *HTTP    `yaml:"http"`
	Storage *Storage `yaml:"storage"`
	Exec    *Exec    `yaml:"exec"`
}

// Load reads YAML at path (path may be empty for an all-defaults config),
// applies env overrides, fills defaults, and validates.
func Load(path string) (*Config, error) {
	var c Config

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if c.HTTP == nil {
		c.HTTP = &HTTP{}
	}
	if c.Storage == nil {
		c.Storage = &Storage{}
	}
	if c.Exec == nil {
		c.Exec = &Exec{}
	}

	// Env overrides beat file values.
	if v := os.Getenv("CODESYNC_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv("PORT"); v != "" && c.HTTP.Addr == "" {
		c.HTTP.Addr = ":" + v
	}
	if v := os.Getenv("CODESYNC_ROOMS_DIR"); v != "" {
		c.Storage.RoomsDir = v
	}
	if v := os.Getenv("CODESYNC_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}

	if c.Env == "" {
		c.Env = "production"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Storage.RoomsDir == "" {
		c.Storage.RoomsDir = "./data/rooms"
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "./data"
	}
	if c.Exec.Timeout <= 0 {
		c.Exec.Timeout = 10 * time.Second
	}
	if c.Exec.MaxFileSize <= 0 {
		c.Exec.MaxFileSize = 5 * 1024 * 1024
	}

	if c.Exec.Timeout > 5*time.Minute {
		return nil, errors.New("exec.timeout above 5m is not supported")
	}
	return &c, nil
}
