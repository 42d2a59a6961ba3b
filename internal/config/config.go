// Package config loads and watches the daemon's workspace configuration at
// .recordio/config.json. Missing file or fields fall back to defaults so a
// fresh workspace works with zero setup.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all recordio configuration.
type Config struct {
	Server  ServerConfig  `json:"server"`
	Session SessionConfig `json:"session"`
	Media   MediaConfig   `json:"media"`
	Agent   AgentConfig   `json:"agent"`
	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage"`
}

// ServerConfig configures the daemon's websocket listener.
type ServerConfig struct {
	ListenAddr string `json:"listen_addr"`
}

// SessionConfig configures the start/stop protocol timeouts.
type SessionConfig struct {
	CountdownTimeout  Duration `json:"countdown_timeout"`
	ReadyInitialDelay Duration `json:"ready_initial_delay"`
	ReadyMaxAttempts  int      `json:"ready_max_attempts"`
	FinalizeTimeout   Duration `json:"finalize_timeout"`
}

// MediaConfig configures the media worker.
type MediaConfig struct {
	ChunkInterval    Duration `json:"chunk_interval"`
	DesktopViewportW int      `json:"desktop_viewport_w"`
	DesktopViewportH int      `json:"desktop_viewport_h"`
}

// AgentConfig configures the capture agent's sampling cadence.
type AgentConfig struct {
	MousePollInterval  Duration `json:"mouse_poll_interval"`
	TypingPollInterval Duration `json:"typing_poll_interval"`
	CountdownFrom      int      `json:"countdown_from"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `json:"level,omitempty"`      // debug, info, warn, error
	DebugMode  bool            `json:"debug_mode,omitempty"` // Master toggle - false = no logging (production)
	Categories map[string]bool `json:"categories,omitempty"` // Per-category toggles
}

// StorageConfig configures where durable state lives, relative to the
// workspace unless absolute.
type StorageConfig struct {
	SessionDB  string `json:"session_db"`
	ProjectDir string `json:"project_dir"`
}

// Duration is a time.Duration that marshals as a human-readable string
// ("250ms", "5s") in JSON.
type Duration time.Duration

// UnmarshalJSON accepts either a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case string:
		parsed, err := time.ParseDuration(t)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", t, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(t))
	default:
		return fmt.Errorf("invalid duration value %v", v)
	}
	return nil
}

// MarshalJSON writes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the standard library form.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: "127.0.0.1:7317",
		},
		Session: SessionConfig{
			CountdownTimeout:  Duration(5 * time.Second),
			ReadyInitialDelay: Duration(100 * time.Millisecond),
			ReadyMaxAttempts:  6,
			FinalizeTimeout:   Duration(15 * time.Second),
		},
		Media: MediaConfig{
			ChunkInterval:    Duration(250 * time.Millisecond),
			DesktopViewportW: 1920,
			DesktopViewportH: 1080,
		},
		Agent: AgentConfig{
			MousePollInterval:  Duration(100 * time.Millisecond),
			TypingPollInterval: Duration(400 * time.Millisecond),
			CountdownFrom:      3,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Storage: StorageConfig{
			SessionDB:  filepath.Join(".recordio", "session.db"),
			ProjectDir: filepath.Join(".recordio", "projects"),
		},
	}
}

// Path returns the config file location inside a workspace.
func Path(workspace string) string {
	return filepath.Join(workspace, ".recordio", "config.json")
}

// Load reads the workspace config, layering the file over defaults. A missing
// file is not an error.
func Load(workspace string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

// Save writes the config back to the workspace, creating .recordio if needed.
func (c *Config) Save(workspace string) error {
	dir := filepath.Join(workspace, ".recordio")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(Path(workspace), data, 0644)
}

// normalize backfills zero values with defaults so partial config files
// cannot produce degenerate timeouts.
func (c *Config) normalize() {
	def := DefaultConfig()
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = def.Server.ListenAddr
	}
	if c.Session.CountdownTimeout <= 0 {
		c.Session.CountdownTimeout = def.Session.CountdownTimeout
	}
	if c.Session.ReadyInitialDelay <= 0 {
		c.Session.ReadyInitialDelay = def.Session.ReadyInitialDelay
	}
	if c.Session.ReadyMaxAttempts <= 0 {
		c.Session.ReadyMaxAttempts = def.Session.ReadyMaxAttempts
	}
	if c.Session.FinalizeTimeout <= 0 {
		c.Session.FinalizeTimeout = def.Session.FinalizeTimeout
	}
	if c.Media.ChunkInterval <= 0 {
		c.Media.ChunkInterval = def.Media.ChunkInterval
	}
	if c.Media.DesktopViewportW <= 0 {
		c.Media.DesktopViewportW = def.Media.DesktopViewportW
	}
	if c.Media.DesktopViewportH <= 0 {
		c.Media.DesktopViewportH = def.Media.DesktopViewportH
	}
	if c.Agent.MousePollInterval <= 0 {
		c.Agent.MousePollInterval = def.Agent.MousePollInterval
	}
	if c.Agent.TypingPollInterval <= 0 {
		c.Agent.TypingPollInterval = def.Agent.TypingPollInterval
	}
	if c.Agent.CountdownFrom <= 0 {
		c.Agent.CountdownFrom = def.Agent.CountdownFrom
	}
	if c.Storage.SessionDB == "" {
		c.Storage.SessionDB = def.Storage.SessionDB
	}
	if c.Storage.ProjectDir == "" {
		c.Storage.ProjectDir = def.Storage.ProjectDir
	}
}

// ResolvePath resolves a storage path against the workspace.
func (c *Config) ResolvePath(workspace, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(workspace, p)
}
