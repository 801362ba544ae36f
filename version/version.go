package version

import (
	"fmt"
	"runtime"
)

// Set at build time with -ldflags "-X github.com/keyguardkit/autounlock/version.Version=..."
var (
	Version   = "v0.0.0"
	Revision  = "unknown"
	BuildDate = "unknown"
)

func GetVersion() string {
	return Version
}

func String() string {
	return fmt.Sprintf("%s (revision %s, built %s, %s %s/%s)", Version, Revision, BuildDate,
		runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
