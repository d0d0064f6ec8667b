// Package version resolves the binary's version at runtime. Resolution
// order: the -ldflags override, then the main module version stamped by
// the Go toolchain, then a pseudo-version derived from embedded VCS
// settings. Builds outside a repository report v0.0.0-unknown.
package version

import (
	"runtime/debug"
	"strings"
	"time"
)

const (
	defaultModule  = "pkt.systems/moneta"
	unknownVersion = "v0.0.0-unknown"
	dirtySuffix    = "+dirty"
)

// buildVersion is set via -ldflags "-X pkt.systems/moneta/internal/version.buildVersion=...".
var buildVersion = ""

// Current returns the resolved version with any dirty suffix stripped.
func Current() string {
	return strings.TrimSuffix(resolve(), dirtySuffix)
}

// CurrentWithDirty returns the resolved version, keeping the dirty
// suffix when the build came from a modified working tree.
func CurrentWithDirty() string {
	return resolve()
}

// Module returns the main module path, or a compiled-in fallback when
// build info is unavailable (go test binaries, stripped builds).
func Module() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		if path := strings.TrimSpace(info.Main.Path); path != "" {
			return path
		}
	}
	return defaultModule
}

func resolve() string {
	if v := strings.TrimSpace(buildVersion); v != "" {
		return v
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return unknownVersion
	}
	if v := strings.TrimSpace(info.Main.Version); v != "" && v != "(devel)" {
		return v
	}
	if v := vcsPseudoVersion(info.Settings); v != "" {
		return v
	}
	return unknownVersion
}

// vcsPseudoVersion builds a v0.0.0-<timestamp>-<rev> string from the
// vcs.* build settings. Returns "" when the revision or commit time is
// missing, which happens for builds outside a checkout.
func vcsPseudoVersion(settings []debug.BuildSetting) string {
	var revision, commitTime string
	var modified bool
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.time":
			commitTime = s.Value
		case "vcs.modified":
			modified = s.Value == "true"
		}
	}
	if revision == "" || commitTime == "" {
		return ""
	}
	ts, err := time.Parse(time.RFC3339, commitTime)
	if err != nil {
		return ""
	}
	if len(revision) > 12 {
		revision = revision[:12]
	}
	v := "v0.0.0-" + ts.UTC().Format("20060102150405") + "-" + revision
	if modified {
		v += dirtySuffix
	}
	return v
}
