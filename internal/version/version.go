// Package version holds build metadata stamped in at link time via
// -ldflags "-X .../internal/version.Version=... -X .../internal/version.Commit=...".
package version

// Version is the release tag this binary was built from, or "dev" when
// built without ldflags.
var Version = "dev"

// Commit is the git commit SHA this binary was built from.
var Commit = "none"
