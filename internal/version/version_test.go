package version

import (
	"runtime/debug"
	"strings"
	"testing"
	"time"
)

func TestLdflagsOverrideWins(t *testing.T) {
	old := buildVersion
	buildVersion = "v1.2.3"
	t.Cleanup(func() { buildVersion = old })

	if got := Current(); got != "v1.2.3" {
		t.Fatalf("expected ldflags version, got %q", got)
	}
}

func TestCurrentStripsDirtySuffix(t *testing.T) {
	old := buildVersion
	buildVersion = "v2.0.1+dirty"
	t.Cleanup(func() { buildVersion = old })

	if got := Current(); got != "v2.0.1" {
		t.Fatalf("expected clean version, got %q", got)
	}
	if got := CurrentWithDirty(); got != "v2.0.1+dirty" {
		t.Fatalf("expected dirty version, got %q", got)
	}
}

func TestVCSPseudoVersion(t *testing.T) {
	ts := time.Date(2025, time.January, 2, 3, 4, 5, 0, time.UTC)
	settings := []debug.BuildSetting{
		{Key: "vcs.revision", Value: "1234567890abcdef"},
		{Key: "vcs.time", Value: ts.Format(time.RFC3339)},
		{Key: "vcs.modified", Value: "true"},
	}

	got := vcsPseudoVersion(settings)
	if want := "v0.0.0-20250102030405-1234567890ab+dirty"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestVCSPseudoVersionIncomplete(t *testing.T) {
	if got := vcsPseudoVersion(nil); got != "" {
		t.Fatalf("expected empty version without settings, got %q", got)
	}
	onlyRev := []debug.BuildSetting{{Key: "vcs.revision", Value: "abc123"}}
	if got := vcsPseudoVersion(onlyRev); got != "" {
		t.Fatalf("expected empty version without commit time, got %q", got)
	}
}

func TestModuleFallsBackToDefault(t *testing.T) {
	if !strings.HasPrefix(Module(), "pkt.systems/") {
		t.Fatalf("unexpected module path %q", Module())
	}
}
