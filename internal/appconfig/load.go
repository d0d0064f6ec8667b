package appconfig

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("chat.base_url", cfg.Chat.BaseURL)
	v.SetDefault("chat.token", cfg.Chat.Token)
	v.SetDefault("chat.timeout_seconds", cfg.Chat.TimeoutSeconds)
	v.SetDefault("assistant.default_title", cfg.Assistant.DefaultTitle)
	v.SetDefault("assistant.title_max", cfg.Assistant.TitleMax)
	v.SetDefault("assistant.welcome_text", cfg.Assistant.WelcomeText)
	v.SetDefault("assistant.stopped_text", cfg.Assistant.StoppedText)
	v.SetDefault("assistant.attachment_text", cfg.Assistant.AttachmentText)
	v.SetDefault("assistant.copy_flash_ms", cfg.Assistant.CopyFlashMillis)
	v.SetDefault("assistant.history_page_limit", cfg.Assistant.HistoryPageLimit)
	v.SetDefault("http.addr", cfg.HTTP.Addr)
	v.SetDefault("http.upload_dir", cfg.HTTP.UploadDir)
	v.SetDefault("http.upload_max_bytes", cfg.HTTP.UploadMaxBytes)
	v.SetDefault("http.event_buffer_lines", cfg.HTTP.EventBufferLines)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
		if !v.IsSet("chat.base_url") {
			return Config{}, fmt.Errorf("chat.base_url is required for config_version %d", CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validateChatConfig(cfg.Chat); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateChatConfig(cfg ChatConfig) error {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return fmt.Errorf("chat.base_url must not be empty")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("chat.base_url must include scheme and host (e.g. https://api.example.com)")
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.StateDir = expandEnv(cfg.StateDir)
	cfg.Chat.BaseURL = expandEnv(cfg.Chat.BaseURL)
	cfg.Chat.Token = expandEnv(cfg.Chat.Token)
	cfg.HTTP.UploadDir = expandEnv(cfg.HTTP.UploadDir)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
