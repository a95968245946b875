package launcher

import (
	"fmt"
	"strings"
)

var (
	productVersion = "dev"
	buildCommit    = "unknown"
	buildDate      = "unknown"
)

// SetBuildInfo records the version details printed by --version.
func SetBuildInfo(version, commit, date string) {
	if v := strings.TrimSpace(version); v != "" {
		productVersion = v
	}
	if c := strings.TrimSpace(commit); c != "" {
		buildCommit = c
	}
	if d := strings.TrimSpace(date); d != "" {
		buildDate = d
	}
}

func versionText() string {
	shortHash := buildCommit
	if len(shortHash) > 7 {
		shortHash = shortHash[:7]
	}
	return fmt.Sprintf("version: %s\ngit hash: %s\nbuild date: %s\n", productVersion, shortHash, buildDate)
}
