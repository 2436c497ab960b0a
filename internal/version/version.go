// Package version holds build information, set with ldflags:
//
//	go build -ldflags "-X github.com/julianarecha/beepit-server/internal/version.Version=1.0.0 \
//	                   -X github.com/julianarecha/beepit-server/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/julianarecha/beepit-server/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" \
//	    ./cmd/beepitd
package version

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info is the build information reported by the health endpoint.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

// Get returns the build information of the running binary.
func Get() Info {
	return Info{Version: Version, Commit: Commit, BuildTime: BuildTime}
}

func (i Info) String() string {
	return i.Version + " (" + i.Commit + ") built " + i.BuildTime
}

// String returns the version line printed by -version.
func String() string {
	return Get().String()
}
