package appconfig

import (
	"os"
	"path/filepath"

	"pkt.systems/moneta/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int             `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string          `mapstructure:"state_dir" yaml:"state_dir"`
	Chat          ChatConfig      `mapstructure:"chat" yaml:"chat"`
	Assistant     AssistantConfig `mapstructure:"assistant" yaml:"assistant"`
	HTTP          HTTPConfig      `mapstructure:"http" yaml:"http"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// ChatConfig locates the upstream conversation backend.
type ChatConfig struct {
	BaseURL        string `mapstructure:"base_url" yaml:"base_url"`
	Token          string `mapstructure:"token" yaml:"token"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// AssistantConfig controls core assistant behavior.
type AssistantConfig struct {
	DefaultTitle     string `mapstructure:"default_title" yaml:"default_title"`
	TitleMax         int    `mapstructure:"title_max" yaml:"title_max"`
	WelcomeText      string `mapstructure:"welcome_text" yaml:"welcome_text"`
	StoppedText      string `mapstructure:"stopped_text" yaml:"stopped_text"`
	AttachmentText   string `mapstructure:"attachment_text" yaml:"attachment_text"`
	CopyFlashMillis  int    `mapstructure:"copy_flash_ms" yaml:"copy_flash_ms"`
	HistoryPageLimit int    `mapstructure:"history_page_limit" yaml:"history_page_limit"`
}

// HTTPConfig configures the gateway HTTP server.
type HTTPConfig struct {
	Addr      string `mapstructure:"addr" yaml:"addr"`
	UploadDir string `mapstructure:"upload_dir" yaml:"upload_dir"`
	// UploadMaxBytes caps the size of one staged attachment.
	UploadMaxBytes int64 `mapstructure:"upload_max_bytes" yaml:"upload_max_bytes"`
	// EventBufferLines caps how many replayed events a reconnecting
	// stream subscriber receives.
	EventBufferLines int `mapstructure:"event_buffer_lines" yaml:"event_buffer_lines"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      filepath.Join(home, ".moneta", "state"),
		Chat: ChatConfig{
			BaseURL:        "http://127.0.0.1:8000/api",
			Token:          "",
			TimeoutSeconds: 60,
		},
		Assistant: AssistantConfig{
			DefaultTitle:     schema.DefaultTabTitle,
			TitleMax:         schema.DefaultTitleMax,
			WelcomeText:      schema.DefaultWelcomeText,
			StoppedText:      schema.DefaultStoppedText,
			AttachmentText:   schema.DefaultAttachmentText,
			CopyFlashMillis:  int(schema.DefaultCopyFlash.Milliseconds()),
			HistoryPageLimit: schema.DefaultHistoryPageLimit,
		},
		HTTP: HTTPConfig{
			Addr:             ":27490",
			UploadDir:        filepath.Join(home, ".moneta", "state", "uploads"),
			UploadMaxBytes:   32 << 20,
			EventBufferLines: 500,
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".moneta", "config.yaml"), nil
}
