package context

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// VersionInfo describes the build of the running binary.
type VersionInfo struct {
	Semantic  string
	Commit    string
	Modified  bool
	GoVersion string
}

// GetVersion returns the version information embedded by the Go toolchain.
func GetVersion() (*VersionInfo, error) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return nil, errors.New("failed reading build information")
	}

	v := &VersionInfo{Semantic: bi.Main.Version, GoVersion: bi.GoVersion}
	if v.Semantic == "" {
		v.Semantic = "(devel)"
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			v.Commit = s.Value
		case "vcs.modified":
			v.Modified = s.Value == "true"
		}
	}

	return v, nil
}

func (v *VersionInfo) String() string {
	commit := v.Commit
	if len(commit) > 12 {
		commit = commit[:12]
	}
	if commit == "" {
		return fmt.Sprintf("%s (%s)", v.Semantic, v.GoVersion)
	}
	if v.Modified {
		commit += "-dirty"
	}
	return fmt.Sprintf("%s %s (%s)", v.Semantic, commit, v.GoVersion)
}
