// Package buildinfo holds build-time metadata injected with -ldflags,
// kept apart from user configuration.
package buildinfo

import "fmt"

// UnknownValue is reported for metadata the build did not set
const UnknownValue = "unknown"

// BuildInfo provides access to build-time metadata.
type BuildInfo interface {
	GetVersion() string
	GetBuildDate() string
}

// Context contains build-time metadata that is not user-configurable
type Context struct {
	// Version holds the Git version tag from build
	Version string

	// BuildDate is the time when the binary was built
	BuildDate string
}

// NewContext creates a Context
func NewContext(version, buildDate string) *Context {
	return &Context{Version: version, BuildDate: buildDate}
}

// GetVersion implements BuildInfo.GetVersion
func (c *Context) GetVersion() string {
	if c == nil || c.Version == "" {
		return UnknownValue
	}
	return c.Version
}

// GetBuildDate implements BuildInfo.GetBuildDate
func (c *Context) GetBuildDate() string {
	if c == nil || c.BuildDate == "" {
		return UnknownValue
	}
	return c.BuildDate
}

// String renders the version line printed by --version
func (c *Context) String() string {
	return fmt.Sprintf("%s (built %s)", c.GetVersion(), c.GetBuildDate())
}
