package orbit

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var versionFile string

// Version is the current version of the orbit library.
var Version = strings.TrimSpace(versionFile)
