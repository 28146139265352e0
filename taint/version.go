package taint

import (
	"runtime"
	"runtime/debug"
)

// Version is the engine release this source tree carries. The link
// command requires it as "v" + Version.
const Version = "0.1.0"

// modulePath is the engine module as it appears in build information.
const modulePath = "github.com/kolkov/taintflow"

// Info describes the running engine.
type Info struct {
	Version string // release of this source tree
	Build   string // module version in the build info, "(devel)" for a local checkout
	Go      string // Go toolchain of the binary
	Enabled bool   // whether the process-wide engine is tracking
}

// GetInfo reports the engine version and the state of the engine started
// by Init.
func GetInfo() Info {
	e := Default()
	return Info{
		Version: Version,
		Build:   buildVersion(),
		Go:      runtime.Version(),
		Enabled: e != nil && e.Enabled(),
	}
}

// buildVersion finds the engine module in the binary's build information:
// the main module when running the engine's own commands, a dependency in
// a linked program.
func buildVersion() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	if bi.Main.Path == modulePath {
		return bi.Main.Version
	}
	for _, dep := range bi.Deps {
		if dep.Path != modulePath {
			continue
		}
		if dep.Replace != nil {
			if dep.Replace.Version == "" {
				return "(devel)"
			}
			return dep.Replace.Version
		}
		return dep.Version
	}
	return "unknown"
}
