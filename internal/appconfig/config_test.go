package appconfig

import (
	"testing"

	"pkt.systems/moneta/schema"
)

func TestDefaultConfigAssistantStrings(t *testing.T) {
	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	if cfg.Assistant.WelcomeText != schema.DefaultWelcomeText {
		t.Fatalf("unexpected welcome text %q", cfg.Assistant.WelcomeText)
	}
	if cfg.Assistant.TitleMax != schema.DefaultTitleMax {
		t.Fatalf("unexpected title max %d", cfg.Assistant.TitleMax)
	}
	if cfg.HTTP.UploadMaxBytes <= 0 {
		t.Fatalf("expected a positive upload cap")
	}
}
