package report

import "errors"

var (
	// ErrArtifactUnavailable is returned when a diagnosis carries no PDF artifact.
	ErrArtifactUnavailable = errors.New("report: PDF report not available")

	// ErrExportFailed is returned when the artifact cannot be decoded or delivered.
	ErrExportFailed = errors.New("report: export failed")

	// ErrResponseCommitted is returned when delivery failed after the HTTP
	// status line was already sent.
	ErrResponseCommitted = errors.New("report: response already committed")
)
