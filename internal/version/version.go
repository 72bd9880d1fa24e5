// Package version carries build metadata stamped at link time:
//
//	go build -ldflags "-X .../internal/version.Version=v1.2.3 ..."
package version

import (
	"fmt"
	"runtime"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Human renders the one-line version string the CLIs print.
func Human(binary string) string {
	return fmt.Sprintf("%s %s (commit %s, built %s, %s)",
		binary, Version, GitCommit, BuildTime, runtime.Version())
}
