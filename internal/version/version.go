package version

// Version is the CLI version, overridden at release time with
// -ldflags "-X github.com/lbekk/stagemill/internal/version.Version=...".
var Version = "dev"

func Get() string {
	return Version
}

// PlanSchemaVersion increments when plan generation changes require image
// rebuilds: instruction emission, label format, transplant path conventions,
// or entrypoint rendering. It is part of the pipeline cache key, so bumping
// it invalidates every cached image.
//
// Don't bump for CLI-only changes or fixes that leave image content alone.
const PlanSchemaVersion = 1
