package domain

import "errors"

var (
	// ErrAppNameInvalid indicates the app name has no characters left after sanitizing.
	ErrAppNameInvalid = errors.New("app name invalid")

	// ErrBuildFailed indicates every image build path failed or a build error was fatal.
	ErrBuildFailed = errors.New("image build failed")

	// ErrImageTransferFailed indicates the image could not be loaded into the cluster image store.
	// It is reported as a warning; rollout may still succeed once the load is retried.
	ErrImageTransferFailed = errors.New("image transfer failed")

	// ErrClusterUnavailable indicates the cluster could not reach a ready state within its retries.
	ErrClusterUnavailable = errors.New("cluster unavailable")

	// ErrManifestApplyFailed indicates a required resource was rejected by the API server.
	ErrManifestApplyFailed = errors.New("manifest apply failed")

	// ErrRolloutTimeout indicates manifests were applied but the deployment never became ready.
	ErrRolloutTimeout = errors.New("rollout timed out")

	// ErrOptionalResourceFailed tags warnings for resources whose failure does not abort a rollout.
	ErrOptionalResourceFailed = errors.New("optional resource failed")

	// ErrNameConflict indicates a different source already owns the sanitized name.
	ErrNameConflict = errors.New("app name conflict")

	// ErrInvalidArgument indicates that a caller-provided value violates a precondition.
	ErrInvalidArgument = errors.New("invalid argument")
)
