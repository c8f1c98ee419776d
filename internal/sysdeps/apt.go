package sysdeps

import (
	"strings"

	"github.com/lbekk/stagemill/internal/dockerfile"
)

// AptInstall expands a projected package list into the standard three-step
// apt sequence. The list cleanup keeps the layer from carrying the package
// index; without it the discardable intermediate layers bloat the build
// cache.
func AptInstall(pkgs []string) []dockerfile.Instruction {
	if len(pkgs) == 0 {
		return nil
	}

	script := strings.Join([]string{
		"apt-get update",
		"apt-get install -y --no-install-recommends " + strings.Join(pkgs, " "),
		"rm -rf /var/lib/apt/lists/*",
	}, " \\\n    && ")

	// one RUN, one layer: update and install must never cache separately
	return []dockerfile.Instruction{dockerfile.RunShell{Script: script}}
}
