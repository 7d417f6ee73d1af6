// Package version provides version information for the binary.
package version

import "fmt"

// Version is the current version of the application, set via -ldflags.
var Version = "dev"

// BuildTime is when the binary was built, set via -ldflags.
var BuildTime = "unknown"

// String returns the formatted version information.
func String() string {
	return fmt.Sprintf("kaiwad version %s (built %s)", Version, BuildTime)
}
