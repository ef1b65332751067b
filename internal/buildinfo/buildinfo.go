// Package buildinfo carries version metadata stamped at link time.
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

// Set via -ldflags at build time. The defaults identify a
// from-source developer build.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var started = time.Now()

// Info returns build and runtime metadata keyed for log output and
// the version command.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"commit":     Commit,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"platform":   runtime.GOOS + "/" + runtime.GOARCH,
		"uptime":     Uptime().String(),
	}
}

// Uptime reports how long the process has been running, truncated to
// whole seconds.
func Uptime() time.Duration {
	return time.Since(started).Truncate(time.Second)
}

// String renders a one-line banner for startup logging.
func String() string {
	return fmt.Sprintf("Praxis %s (%s) built %s", Version, Commit, BuildTime)
}
