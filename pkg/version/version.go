// Package version carries the build-time version stamp for ccrouter binaries.
package version

// Version is overridden at build time via -ldflags "-X .../pkg/version.Version=...".
var Version = "dev"
