package version

import (
	"strings"

	"github.com/fatih/color"
)

// Build metadata for the ffigen CLI.
// These variables can be overridden at build time via -ldflags.
var (
	// Version is the semantic version of the CLI.
	Version = "0.1.0-dev"

	// GitCommit is an optional git commit hash.
	GitCommit = ""

	// BuildDate is an optional build date in ISO-8601.
	BuildDate = ""
)

var (
	majorColor = color.New(color.FgYellow, color.Bold)
	minorColor = color.New(color.FgGreen, color.Bold)
	patchColor = color.New(color.FgBlue, color.Bold)
)

// Info is a snapshot of the build metadata.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
}

// Get returns the trimmed build metadata; an empty version reads "dev".
func Get() Info {
	v := strings.TrimSpace(Version)
	if v == "" {
		v = "dev"
	}
	return Info{
		Version:   v,
		GitCommit: strings.TrimSpace(GitCommit),
		BuildDate: strings.TrimSpace(BuildDate),
	}
}

// Pretty colours the major, minor and patch components. Pre-release and
// build suffixes are left plain. Colour follows fatih/color's terminal
// detection.
func (i Info) Pretty() string {
	core, suffix := i.Version, ""
	if at := strings.IndexAny(core, "-+"); at >= 0 {
		core, suffix = core[:at], core[at:]
	}
	parts := strings.SplitN(core, ".", 3)
	if len(parts) != 3 {
		return i.Version
	}
	return majorColor.Sprint(parts[0]) + "." + minorColor.Sprint(parts[1]) + "." + patchColor.Sprint(parts[2]) + suffix
}
