package httpapi

import (
	"net/http"

	"github.com/decent-stuff/decent-cloud/infrastructure/httputil"
	"github.com/decent-stuff/decent-cloud/pkg/version"
)

type versionResponse struct {
	Version    string `json:"version"`
	GitCommit  string `json:"git_commit"`
	BuildTime  string `json:"build_time"`
	GoVersion  string `json:"go_version"`
	UserAgent  string `json:"user_agent"`
	FullString string `json:"full"`
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, versionResponse{
		Version:    version.Version,
		GitCommit:  version.GitCommit,
		BuildTime:  version.BuildTime,
		GoVersion:  version.GoVersion,
		UserAgent:  version.UserAgent(),
		FullString: version.FullVersion(),
	})
}
