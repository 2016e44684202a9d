package handlers

import (
	"net/http"
	"runtime"
)

// VersionInfo is the build stamp served at /version.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
	GoVersion string `json:"go_version"`
}

var versionInfo = VersionInfo{Version: "dev", GoVersion: runtime.Version()}

// SetVersionInfo installs the build stamp. Called once from the CLI
// root before the server starts.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo = VersionInfo{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
	}
}

// GetVersionInfo returns the installed build stamp.
func GetVersionInfo() VersionInfo {
	return versionInfo
}

// VersionHandler serves GET /version.
func VersionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, versionInfo)
}
