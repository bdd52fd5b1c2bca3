package obs

import (
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// BuildInfo describes the running binary and the backends it was wired with.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	GoVersion string `json:"go_version"`
	Store     string `json:"store"`
	Cache     string `json:"cache"`
}

var (
	buildInfoMu   sync.Mutex
	buildInfoOnce sync.Once
	current       BuildInfo

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "teamledger_build_info",
			Help: "Always 1; labels carry the version, commit, Go runtime and configured store and cache backends.",
		},
		[]string{"version", "commit", "go_version", "store", "cache"},
	)
)

// RecordBuildInfo fills unset fields from the Go build metadata, publishes
// the gauge and returns the completed info. Re-recording replaces the series.
func RecordBuildInfo(info BuildInfo) BuildInfo {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	if info.GoVersion == "" {
		info.GoVersion = runtime.Version()
	}
	if info.Commit == "" || info.Commit == "dev" {
		if rev := vcsRevision(); rev != "" {
			info.Commit = rev
		}
	}
	if info.Commit == "" {
		info.Commit = "unknown"
	}

	buildInfoMu.Lock()
	defer buildInfoMu.Unlock()
	buildInfo.Reset()
	buildInfo.WithLabelValues(info.Version, info.Commit, info.GoVersion, info.Store, info.Cache).Set(1)
	current = info
	return info
}

// CurrentBuildInfo returns the last recorded info.
func CurrentBuildInfo() BuildInfo {
	buildInfoMu.Lock()
	defer buildInfoMu.Unlock()
	return current
}

func vcsRevision() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" {
			if len(s.Value) > 12 {
				return s.Value[:12]
			}
			return s.Value
		}
	}
	return ""
}
