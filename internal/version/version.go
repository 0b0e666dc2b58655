// Package version exposes build metadata stamped via -ldflags, falling back
// to the module's embedded VCS settings.
package version

import "runtime/debug"

// AppName is the service name used for logs, traces and profiles.
const AppName = "linnemanlabs-damproxy"

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate string
	BuildID   string
)

type Info struct {
	App        string `json:"app"`
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	CommitDate string `json:"commit_date,omitempty"`
	BuildDate  string `json:"build_date,omitempty"`
	BuildID    string `json:"build_id,omitempty"`
	GoVersion  string `json:"go_version"`
	VCSDirty   *bool  `json:"vcs_dirty,omitempty"`
}

func Get() Info {
	info := Info{
		App:       AppName,
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		BuildID:   BuildID,
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	applyBuildInfo(&info, bi)
	return info
}

func applyBuildInfo(info *Info, bi *debug.BuildInfo) {
	info.GoVersion = bi.GoVersion
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "none" && s.Value != "" {
				info.Commit = s.Value
			}
		case "vcs.time":
			info.CommitDate = s.Value
			if info.BuildDate == "" {
				info.BuildDate = s.Value
			}
		case "vcs.modified":
			dirty := s.Value == "true"
			info.VCSDirty = &dirty
		}
	}
}
