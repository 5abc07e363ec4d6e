package docker

import "errors"

var (
	// ErrDaemonUnavailable indicates the Docker daemon could not be reached.
	ErrDaemonUnavailable = errors.New("docker: daemon unavailable")
	// ErrBuildStep indicates the daemon ran the build and a Dockerfile step failed.
	ErrBuildStep = errors.New("docker: build step failed")
)
