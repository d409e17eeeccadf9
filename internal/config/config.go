// Package config loads node settings from defaults, a YAML file, a .env file
// and LANCHAT_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rudransh-shrivastava/lanchat/internal/protocol"
)

const envPrefix = "LANCHAT_"

type Config struct {
	DisplayName string `yaml:"display_name"`
	GroupAddr   string `yaml:"group_addr"`
	BindAddr    string `yaml:"bind_addr"`
	Interface   string `yaml:"interface"`

	LivenessTimeout   time.Duration `yaml:"liveness_timeout"`
	DepartedTimeout   time.Duration `yaml:"departed_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	TickInterval      time.Duration `yaml:"tick_interval"`

	RetryInterval time.Duration `yaml:"retry_interval"`
	MaxBackoff    time.Duration `yaml:"max_backoff"`
	MaxAttempts   int           `yaml:"max_attempts"`
	SendRetries   int           `yaml:"send_retries"`
	DedupeWindow  int           `yaml:"dedupe_window"`

	ChunkSize       int           `yaml:"chunk_size"`
	SendWindow      int           `yaml:"send_window"`
	TransferTimeout time.Duration `yaml:"transfer_timeout"`
	DownloadDir     string        `yaml:"download_dir"`
	MaxFileSize     int64         `yaml:"max_file_size"`

	EventBuffer   int `yaml:"event_buffer"`
	CommandBuffer int `yaml:"command_buffer"`

	HistoryPath     string        `yaml:"history_path"`
	SocketPath      string        `yaml:"socket_path"`
	MetricsInterval time.Duration `yaml:"metrics_interval"`
	LogLevel        string        `yaml:"log_level"`
}

func Default() Config {
	name, err := os.Hostname()
	if err != nil || name == "" {
		name = "anonymous"
	}
	return Config{
		DisplayName: name,
		GroupAddr:   "239.255.42.99:4444",
		BindAddr:    "0.0.0.0:0",

		LivenessTimeout:   30 * time.Second,
		DepartedTimeout:   60 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		TickInterval:      200 * time.Millisecond,

		RetryInterval: 500 * time.Millisecond,
		MaxBackoff:    8 * time.Second,
		MaxAttempts:   5,
		SendRetries:   3,
		DedupeWindow:  1024,

		ChunkSize:       protocol.MaxChunkPayload,
		SendWindow:      32,
		TransferTimeout: 30 * time.Second,
		DownloadDir:     "downloads",
		MaxFileSize:     4 << 30,

		EventBuffer:   256,
		CommandBuffer: 64,

		HistoryPath:     "lanchat.sqlite3",
		SocketPath:      BuildSocketPath("0"),
		MetricsInterval: time.Minute,
		LogLevel:        "info",
	}
}

func BuildSocketPath(index string) string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("lanchat-%s.sock", index))
}

// Load reads path (optional), then .env in the working directory (optional),
// then the environment, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from LANCHAT_<KEY> variables, where KEY is the
// upper-cased YAML key.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"DISPLAY_NAME": &c.DisplayName,
		"GROUP_ADDR":   &c.GroupAddr,
		"BIND_ADDR":    &c.BindAddr,
		"INTERFACE":    &c.Interface,
		"DOWNLOAD_DIR": &c.DownloadDir,
		"HISTORY_PATH": &c.HistoryPath,
		"SOCKET_PATH":  &c.SocketPath,
		"LOG_LEVEL":    &c.LogLevel,
	}
	durations := map[string]*time.Duration{
		"LIVENESS_TIMEOUT":   &c.LivenessTimeout,
		"DEPARTED_TIMEOUT":   &c.DepartedTimeout,
		"HEARTBEAT_INTERVAL": &c.HeartbeatInterval,
		"TICK_INTERVAL":      &c.TickInterval,
		"RETRY_INTERVAL":     &c.RetryInterval,
		"MAX_BACKOFF":        &c.MaxBackoff,
		"TRANSFER_TIMEOUT":   &c.TransferTimeout,
		"METRICS_INTERVAL":   &c.MetricsInterval,
	}
	ints := map[string]*int{
		"MAX_ATTEMPTS":   &c.MaxAttempts,
		"SEND_RETRIES":   &c.SendRetries,
		"DEDUPE_WINDOW":  &c.DedupeWindow,
		"CHUNK_SIZE":     &c.ChunkSize,
		"SEND_WINDOW":    &c.SendWindow,
		"EVENT_BUFFER":   &c.EventBuffer,
		"COMMAND_BUFFER": &c.CommandBuffer,
	}

	sizes := map[string]*int64{
		"MAX_FILE_SIZE": &c.MaxFileSize,
	}

	for key, dst := range strs {
		if v, ok := lookup(envPrefix + key); ok {
			*dst = v
		}
	}
	for key, dst := range durations {
		if v, ok := lookup(envPrefix + key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, key, err)
			}
			*dst = d
		}
	}
	for key, dst := range ints {
		if v, ok := lookup(envPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, key, err)
			}
			*dst = n
		}
	}
	for key, dst := range sizes {
		if v, ok := lookup(envPrefix + key); ok {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, key, err)
			}
			*dst = n
		}
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.DisplayName != "", "display_name is empty")
	check(len(c.DisplayName) <= protocol.MaxNameSize, "display_name longer than %d bytes", protocol.MaxNameSize)
	if group, err := netip.ParseAddrPort(c.GroupAddr); err != nil {
		errs = append(errs, fmt.Errorf("group_addr: %w", err))
	} else {
		check(group.Addr().Is4() && group.Addr().IsMulticast(), "group_addr %s is not an IPv4 multicast address", group)
	}

	check(c.LivenessTimeout > 0, "liveness_timeout must be positive")
	check(c.DepartedTimeout > c.LivenessTimeout, "departed_timeout must exceed liveness_timeout")
	check(c.HeartbeatInterval > 0, "heartbeat_interval must be positive")
	check(c.HeartbeatInterval < c.LivenessTimeout, "heartbeat_interval must be shorter than liveness_timeout")
	check(c.TickInterval > 0, "tick_interval must be positive")
	check(c.RetryInterval > 0, "retry_interval must be positive")
	check(c.MaxBackoff >= c.RetryInterval, "max_backoff must be at least retry_interval")
	check(c.MaxAttempts >= 1, "max_attempts must be at least 1")
	check(c.SendRetries >= 0, "send_retries must not be negative")
	check(c.DedupeWindow >= 1, "dedupe_window must be at least 1")
	check(c.ChunkSize > 0 && c.ChunkSize <= protocol.MaxChunkPayload, "chunk_size must be in (0, %d]", protocol.MaxChunkPayload)
	check(c.SendWindow >= 1, "send_window must be at least 1")
	check(c.TransferTimeout > 0, "transfer_timeout must be positive")
	check(c.DownloadDir != "", "download_dir is empty")
	check(c.MaxFileSize > 0, "max_file_size must be positive")
	check(c.EventBuffer >= 1, "event_buffer must be at least 1")
	check(c.CommandBuffer >= 1, "command_buffer must be at least 1")

	return errors.Join(errs...)
}
