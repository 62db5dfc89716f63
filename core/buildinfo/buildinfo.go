// Package buildinfo carries release metadata injected with -ldflags:
//
//	-X 'github.com/m3rciful/numbershop/core/buildinfo.Version=v0.4.0'
//	-X 'github.com/m3rciful/numbershop/core/buildinfo.Commit=abcdef0'
//	-X 'github.com/m3rciful/numbershop/core/buildinfo.Date=2025-08-30T12:00:00Z'
package buildinfo

var (
	// Version reports the release tag; "dev" for local builds.
	Version = "dev"
	// Commit reports the source commit.
	Commit = "local"
	// Date reports the build timestamp in RFC3339 format.
	Date = ""
)

// String formats the metadata for /version replies and startup logs.
func String() string {
	s := Version + " (" + Commit
	if Date != "" {
		s += ", " + Date
	}
	return s + ")"
}
