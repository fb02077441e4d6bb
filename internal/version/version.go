// Package version tracks build metadata for the application.
package version

import (
	"runtime/debug"
	"sync"
)

// Info describes build metadata for the application.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version,omitempty"`
}

var (
	info      = Info{Version: "dev"}
	infoMutex sync.RWMutex
)

// Set updates the version metadata exposed by the application. Empty fields
// are filled from the binary's embedded build info when available.
func Set(v Info) {
	infoMutex.Lock()
	defer infoMutex.Unlock()

	info = fill(v, debug.ReadBuildInfo)
}

// Current returns the currently configured build metadata.
func Current() Info {
	infoMutex.RLock()
	defer infoMutex.RUnlock()
	return info
}

func fill(v Info, read func() (*debug.BuildInfo, bool)) Info {
	if bi, ok := read(); ok && bi != nil {
		if v.Version == "" || v.Version == "dev" {
			if mv := bi.Main.Version; mv != "" && mv != "(devel)" {
				v.Version = mv
			}
		}
		v.GoVersion = bi.GoVersion
		for _, setting := range bi.Settings {
			switch setting.Key {
			case "vcs.revision":
				if v.Commit == "" {
					v.Commit = setting.Value
				}
			case "vcs.time":
				if v.BuildTime == "" {
					v.BuildTime = setting.Value
				}
			}
		}
	}
	if v.Version == "" {
		v.Version = "dev"
	}
	return v
}
