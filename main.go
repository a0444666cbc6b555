package main

import (
	"os"

	"github.com/tphakala/dipper-go/cmd"
	"github.com/tphakala/dipper-go/internal/buildinfo"
)

// set at build time with -ldflags "-X main.version=... -X main.buildDate=..."
var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	build := buildinfo.NewContext(version, buildDate)

	if err := cmd.RootCommand(build).Execute(); err != nil {
		os.Exit(1)
	}
}
