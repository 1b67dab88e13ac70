package domain

import "errors"

// ErrCancelled is returned when an operator cancelled the deployment.
// It is a soft failure: callers should not report it as an application error.
var ErrCancelled = errors.New("deployment cancelled")

var (
	// ErrDownloadFailed is returned when an artifact could not be fetched.
	ErrDownloadFailed = errors.New("download failed")

	// ErrUnsupportedFormat is returned for archives the extractor cannot read.
	ErrUnsupportedFormat = errors.New("unsupported archive format")

	// ErrExtractionFailed is returned when an archive could not be unpacked.
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrProcessLaunchFailed is returned when an executable could not be started.
	ErrProcessLaunchFailed = errors.New("process launch failed")

	// ErrAbnormalExit is returned when a process exited non-zero before its trigger was seen.
	ErrAbnormalExit = errors.New("process exited abnormally")

	// ErrMoveFailed is returned when the working tree could not be moved into the target directory.
	ErrMoveFailed = errors.New("move failed")

	// ErrManifestInvalid is returned when a modpack index cannot be used.
	ErrManifestInvalid = errors.New("invalid modpack manifest")

	// ErrMissingPrerequisite is returned when a runtime needed by a stage is unavailable.
	ErrMissingPrerequisite = errors.New("missing prerequisite")
)

var (
	// ErrNotFound indicates that a requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that a resource with the same identity already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrUnknownFamily is returned when no pipeline is registered for a game family.
	ErrUnknownFamily = errors.New("unknown game family")
)
