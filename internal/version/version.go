package version

import (
	_ "embed"
	"strings"
)

//go:embed version.txt
var version string

// Get returns the release version, "dev" for unreleased builds.
func Get() string {
	v := strings.TrimSpace(version)
	if v == "" {
		return "dev"
	}
	return v
}
