// Package version carries build identification for the aligner binary.
// The values are overridden at build time via -ldflags, e.g.
//
//	go build -ldflags "-X .../internal/version.Version=1.2.0 \
//	  -X .../internal/version.GitSHA=$(git rev-parse --short HEAD)"
package version

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String returns the composite version line logged at startup.
func String() string {
	return Version + " (" + GitSHA + ", built " + BuildTime + ")"
}
