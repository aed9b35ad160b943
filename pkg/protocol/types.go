package protocol

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration read from telemos.yaml.
type Config struct {
	Version       string              `yaml:"version"`
	Properties    PropertyLayers      `yaml:"properties"`
	Bus           BusConfig           `yaml:"bus"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Dictionary    DictionaryConfig    `yaml:"dictionary"`
	Sclk          SclkConfig          `yaml:"sclk"`
	Session       SessionConfig       `yaml:"session"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// PropertyLayers lists the hierarchical property files, lowest priority first.
type PropertyLayers struct {
	System  string `yaml:"system"`
	Project string `yaml:"project"`
	User    string `yaml:"user"`
}

// Files returns the configured layers in override order, skipping blanks.
func (p PropertyLayers) Files() []string {
	var files []string
	for _, f := range []string{p.System, p.Project, p.User} {
		if f != "" {
			files = append(files, f)
		}
	}
	return files
}

type BusConfig struct {
	// Type is "memory" or "nats".
	Type         string `yaml:"type"`
	URL          string `yaml:"url"`
	RootTopic    string `yaml:"root_topic"`
	UseMessaging bool   `yaml:"use_messaging"`
}

type ArchiveConfig struct {
	UseDatabase bool   `yaml:"use_database"`
	Path        string `yaml:"path"`
}

type DictionaryConfig struct {
	Directory string `yaml:"directory"`
}

type SclkConfig struct {
	Directory string `yaml:"directory"`
}

// SessionConfig holds session timing. Zero durations take the defaults.
type SessionConfig struct {
	HeartbeatInterval       time.Duration `yaml:"heartbeat_interval"`
	SummaryInterval         time.Duration `yaml:"summary_interval"`
	ShutdownSummaryInterval time.Duration `yaml:"shutdown_summary_interval"`
	MeterInterval           time.Duration `yaml:"meter_interval"`
	ShowSummary             bool          `yaml:"show_summary"`
}

type ObservabilityConfig struct {
	MetricsPort string `yaml:"metrics_port"`
	LogLevel    string `yaml:"log_level"`
	// StatusSocket is the unix socket a process worker serves its status on.
	StatusSocket string `yaml:"status_socket"`
}

// LoadConfig reads and parses an application config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Bus.Type == "" {
		cfg.Bus.Type = "memory"
	}
	if cfg.Bus.RootTopic == "" {
		cfg.Bus.RootTopic = "telemos"
	}
	return &cfg, nil
}

// ContextConfig describes one session: who, where and what it is reading.
type ContextConfig struct {
	Key                string           `yaml:"key"`
	Number             int64            `yaml:"number"`
	Name               string           `yaml:"name"`
	Host               string           `yaml:"host"`
	User               string           `yaml:"user"`
	SpacecraftID       int              `yaml:"spacecraft_id"`
	Venue              string           `yaml:"venue"`
	Vcid               *int             `yaml:"vcid,omitempty"`
	DssID              int              `yaml:"dss_id"`
	OutputDir          string           `yaml:"output_dir"`
	Sse                bool             `yaml:"sse"`
	Standalone         bool             `yaml:"standalone"`
	FswDownlinkEnabled bool             `yaml:"fsw_downlink_enabled"`
	Connection         ConnectionConfig `yaml:"connection"`
	StartTime          time.Time        `yaml:"start_time,omitempty"`
	EndTime            time.Time        `yaml:"end_time,omitempty"`
}

// ConnectionConfig identifies the downlink input source.
type ConnectionConfig struct {
	// Type is FILE, CLIENT_SOCKET or SERVER_SOCKET.
	Type      string `yaml:"type"`
	InputType string `yaml:"input_type"`
	File      string `yaml:"file"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
}

// FullName is the session's display name including its key.
func (c *ContextConfig) FullName() string {
	return fmt.Sprintf("%s/%s/%d", c.Name, c.Host, c.Number)
}

// LoadContext reads a session context file.
func LoadContext(path string) (*ContextConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ctx ContextConfig
	if err := yaml.Unmarshal(data, &ctx); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &ctx, nil
}

// WriteContext writes the context to <OutputDir>/context.yaml.
func WriteContext(ctx *ContextConfig) (string, error) {
	data, err := yaml.Marshal(ctx)
	if err != nil {
		return "", err
	}
	path := filepath.Join(ctx.OutputDir, "context.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// Personal.AI order the ending
