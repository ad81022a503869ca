package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"matter-bridge/internal/bridge"
	"matter-bridge/internal/integration"
	"matter-bridge/internal/telemetry"
)

type Config struct {
	Stack struct {
		Transport      string        `yaml:"transport"` // "serial" or "log"
		Port           string        `yaml:"port"`
		Baud           int           `yaml:"baud"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
		ConnectTimeout time.Duration `yaml:"connect_timeout"`
	} `yaml:"stack"`
	Seed string `yaml:"seed"` // "default", "minimal" or "none"
	Web  struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		ClientID    string `yaml:"client_id"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`
	Telemetry struct {
		Enabled          bool `yaml:"enabled"`
		telemetry.Config `yaml:",inline"`
	} `yaml:"telemetry"`
	Integration struct {
		Enabled            bool `yaml:"enabled"`
		integration.Config `yaml:",inline"`
	} `yaml:"integration"`
	Console struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"console"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	ScriptsDir string `yaml:"scripts_dir"`
}

func (c *Config) validate() error {
	switch c.Stack.Transport {
	case "serial":
		if c.Stack.Port == "" {
			return fmt.Errorf("stack.port is required for the serial transport")
		}
	case "log":
	default:
		return fmt.Errorf("unknown stack.transport %q (supported: serial, log)", c.Stack.Transport)
	}
	if _, err := bridge.SeedByName(c.Seed); err != nil {
		return err
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if c.Telemetry.Enabled && (c.Telemetry.URL == "" || c.Telemetry.Bucket == "") {
		return fmt.Errorf("telemetry.url and telemetry.bucket are required when telemetry is enabled")
	}
	if c.Integration.Enabled && c.Integration.URL == "" {
		return fmt.Errorf("integration.url is required when integration is enabled")
	}
	return nil
}

// defaultConfig is the configuration a bare "{}" file yields.
func defaultConfig() *Config {
	cfg := &Config{Seed: "default", ScriptsDir: "scripts"}
	cfg.Stack.Transport = "log"
	cfg.Stack.Baud = 115200
	cfg.Stack.RequestTimeout = 2 * time.Second
	cfg.Stack.ConnectTimeout = 30 * time.Second
	cfg.Web.Listen = "127.0.0.1:8080"
	cfg.Store.Path = "matter-bridge.db"
	cfg.MQTT.TopicPrefix = "matter-bridge"
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return cfg
}

// loadConfig reads path over the defaults.
func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// newLogger builds the process logger. Unknown levels fall back to info,
// unknown formats to text.
func newLogger(cfg *Config, out io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: logLevels[strings.ToLower(cfg.Log.Level)]}
	if strings.EqualFold(cfg.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(out, opts))
	}
	return slog.New(slog.NewTextHandler(out, opts))
}

// switchWriter forwards writes to a replaceable destination.
type switchWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *switchWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (s *switchWriter) Set(w io.Writer) {
	s.mu.Lock()
	s.w = w
	s.mu.Unlock()
}
