// Package buildinfo reports the version the binary was built from.
package buildinfo

import (
	"encoding/json"
	"net/http"
	"runtime"
)

// ServiceName identifies the bridge in logs, metrics and the User-Agent.
const ServiceName = "boxbridge"

// These vars are set at build time via ldflags:
// -X github.com/otherjamesbrown/boxbridge/pkg/buildinfo.Version=v0.3.0
// -X github.com/otherjamesbrown/boxbridge/pkg/buildinfo.Commit=1a2b3c4
// -X github.com/otherjamesbrown/boxbridge/pkg/buildinfo.BuildTime=2026-02-07T10:30:00Z
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info holds build information.
type Info struct {
	ServiceName string `json:"service_name" yaml:"service_name"`
	Version     string `json:"version" yaml:"version"`
	Commit      string `json:"commit" yaml:"commit"`
	BuildTime   string `json:"build_time" yaml:"build_time"`
	GoVersion   string `json:"go_version" yaml:"go_version"`
}

// Get returns the build info of this binary.
func Get() Info {
	return Info{
		ServiceName: ServiceName,
		Version:     Version,
		Commit:      Commit,
		BuildTime:   BuildTime,
		GoVersion:   runtime.Version(),
	}
}

// String returns a one-liner like "v0.3.0 (1a2b3c4, 2026-02-07T10:30:00Z)".
func String() string {
	return Version + " (" + Commit + ", " + BuildTime + ")"
}

// UserAgent is sent on outgoing API requests.
func UserAgent() string {
	return ServiceName + "/" + Version
}

// Handler responds with the build info as JSON.
func Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Get())
	}
}
