package version

import (
	"fmt"
	"runtime"
	"time"
)

// These variables are set at build time via -ldflags.
var (
	// Version is the application version (from git tags).
	Version = "dev"
	// BuildTime is the time when the binary was built.
	BuildTime = "unknown"
	// CommitID is the git commit hash.
	CommitID = "unknown"
)

// Info is the structured client version information.
type Info struct {
	Version   string
	GoVersion string
	GitCommit string
	BuildTime string
	OS        string
	Arch      string
}

// ClientInfo returns the version information of this build.
func ClientInfo() Info {
	return Info{
		Version:   Version,
		GoVersion: runtime.Version(),
		GitCommit: CommitID,
		BuildTime: formatBuildTime(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// Short returns a one-line version string.
func (i Info) Short() string {
	return fmt.Sprintf("sc-console version %s, build %s", i.Version, i.GitCommit)
}

func formatBuildTime() string {
	if BuildTime == "unknown" {
		return BuildTime
	}
	t, err := time.Parse(time.RFC3339, BuildTime)
	if err != nil {
		return BuildTime
	}
	return t.Format("Mon Jan 2 15:04:05 2006")
}
