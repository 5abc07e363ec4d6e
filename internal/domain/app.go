package domain

import (
	"strings"
	"time"
)

// AppType is the coarse application kind detected from marker files.
type AppType string

const (
	AppTypeNodeJS  AppType = "nodejs"
	AppTypeNextJS  AppType = "nextjs"
	AppTypePython  AppType = "python"
	AppTypeStatic  AppType = "static"
	AppTypeUnknown AppType = "unknown"
)

// ParseAppType normalizes user input into a known AppType. Unrecognised values map to unknown.
func ParseAppType(raw string) AppType {
	switch AppType(strings.ToLower(strings.TrimSpace(raw))) {
	case AppTypeNodeJS, "node":
		return AppTypeNodeJS
	case AppTypeNextJS, "next":
		return AppTypeNextJS
	case AppTypePython:
		return AppTypePython
	case AppTypeStatic:
		return AppTypeStatic
	default:
		return AppTypeUnknown
	}
}

// DeployStatus tracks where a deployment is in the pipeline.
type DeployStatus string

const (
	StatusPending   DeployStatus = "pending"
	StatusBuilding  DeployStatus = "building"
	StatusDeploying DeployStatus = "deploying"
	StatusReady     DeployStatus = "ready"
	StatusFailed    DeployStatus = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s DeployStatus) Terminal() bool {
	return s == StatusReady || s == StatusFailed
}

// EnvVar is a single container environment entry.
type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// AppDeployment is the persisted record of a deployed app.
type AppDeployment struct {
	Name                 string       `json:"name"`
	SourceName           string       `json:"source_name"`
	SourceRef            string       `json:"source_ref"`
	Branch               string       `json:"branch,omitempty"`
	DetectedType         AppType      `json:"detected_type"`
	ImageTag             string       `json:"image_tag,omitempty"`
	Namespace            string       `json:"namespace"`
	Status               DeployStatus `json:"status"`
	URL                  string       `json:"url,omitempty"`
	EnvironmentVariables []EnvVar     `json:"environment_variables,omitempty"`
	LastError            string       `json:"last_error,omitempty"`
	AttemptID            string       `json:"attempt_id,omitempty"`
	CreatedAt            time.Time    `json:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at"`
}
