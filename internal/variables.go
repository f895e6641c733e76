package internal

import (
	"fmt"
	"runtime"
	"strings"
)

// Name of the executable.
const Name = "relocpy"

const defaultLocalBuild = "(local)"

var (
	version   = "" // set via -ldflags "-X github.com/maxdollinger/relocpy/internal.version=1.2.3"
	gitCommit = ""
)

// Version returns the release number without a leading v, or "(local)".
func Version() string {
	v := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(version)), "v")
	if v == "" {
		return defaultLocalBuild
	}
	return v
}

// VersionString formats "<version> <commit> [<os>/<arch>]".
func VersionString() string {
	commit := strings.TrimSpace(gitCommit)
	if commit == "" {
		commit = "(unknown)"
	}
	return fmt.Sprintf("%s %s [%s/%s]", Version(), commit, runtime.GOOS, runtime.GOARCH)
}
