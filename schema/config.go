package schema

import (
	"errors"
	"os"
	"path/filepath"
	"time"
)

// ServiceConfig defines defaults and limits for the core service.
type ServiceConfig struct {
	// StateDir is where session state is persisted. Empty disables
	// persistence.
	StateDir string
	// DefaultTitle is the title given to tabs before their first send.
	DefaultTitle string
	// TitleMax caps titles derived from the first sent message.
	TitleMax int
	// WelcomeText is the synthetic assistant greeting shown in tabs
	// with no bound conversation.
	WelcomeText string
	// StoppedText is the error shown when the user stops generation.
	StoppedText string
	// AttachmentText substitutes for empty text on attachments-only sends.
	AttachmentText string
	// CopyFlash is how long the per-message "copied" indicator shows.
	CopyFlash time.Duration
	// HistoryPageLimit is the page size for conversation listings.
	HistoryPageLimit int
}

// Default user-facing strings. Kept here so transports and tests agree
// on the exact wording.
const (
	DefaultTabTitle       = "New Chat"
	DefaultWelcomeText    = "Hi! I'm your financial assistant. Ask me about your spending, budgets, cards, or statements."
	DefaultStoppedText    = "Generation stopped."
	DefaultAttachmentText = "Please review the attached file(s)."
)

// DefaultTitleMax caps derived tab titles.
const DefaultTitleMax = 50

// DefaultCopyFlash is the default "copied" indicator duration.
const DefaultCopyFlash = 2 * time.Second

// DefaultHistoryPageLimit is the default conversation list page size.
const DefaultHistoryPageLimit = 50

// NormalizeServiceConfig applies defaults and validates the config.
func NormalizeServiceConfig(cfg ServiceConfig) (ServiceConfig, error) {
	if cfg.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ServiceConfig{}, err
		}
		cfg.StateDir = filepath.Join(home, ".moneta", "state")
	}
	if cfg.DefaultTitle == "" {
		cfg.DefaultTitle = DefaultTabTitle
	}
	if cfg.TitleMax <= 0 {
		cfg.TitleMax = DefaultTitleMax
	}
	if cfg.WelcomeText == "" {
		cfg.WelcomeText = DefaultWelcomeText
	}
	if cfg.StoppedText == "" {
		cfg.StoppedText = DefaultStoppedText
	}
	if cfg.AttachmentText == "" {
		cfg.AttachmentText = DefaultAttachmentText
	}
	if cfg.CopyFlash <= 0 {
		cfg.CopyFlash = DefaultCopyFlash
	}
	if cfg.HistoryPageLimit <= 0 {
		cfg.HistoryPageLimit = DefaultHistoryPageLimit
	}
	if cfg.TitleMax < 4 {
		return ServiceConfig{}, errors.New("title max must be at least 4")
	}
	return cfg, nil
}
