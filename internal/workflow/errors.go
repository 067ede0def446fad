package workflow

import (
	"errors"
	"fmt"

	"github.com/wolfman30/xray-diagnosis-platform/internal/diagnosis"
	"github.com/wolfman30/xray-diagnosis-platform/internal/inference"
	"github.com/wolfman30/xray-diagnosis-platform/internal/risk"
	"github.com/wolfman30/xray-diagnosis-platform/internal/upload"
)

var (
	// ErrInvalidTransition is returned when an operation is not allowed in the current state.
	ErrInvalidTransition = errors.New("workflow: invalid transition")

	// ErrSuperseded is returned to a run that was reset while a call was pending.
	ErrSuperseded = errors.New("workflow: run superseded")

	// ErrUnauthenticated is returned when no user is signed in at upload time.
	ErrUnauthenticated = errors.New("workflow: no authenticated user")
)

// Stage names the step that produced a failure.
type Stage string

const (
	StageSelecting Stage = "selecting"
	StageUploading Stage = "uploading"
	StageAnalyzing Stage = "analyzing"
)

// StageError is the Failed(stage, reason) value of a run.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("workflow: %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Notice renders the short message shown to the user.
func (e *StageError) Notice() string {
	switch {
	case errors.Is(e.Err, upload.ErrInvalidFileType):
		return "Please select an image file."
	case errors.Is(e.Err, upload.ErrEmptyFile):
		return "The selected file is empty."
	case errors.Is(e.Err, ErrUnauthenticated):
		return "Please sign in to upload images."
	case errors.Is(e.Err, upload.ErrUploadFailed):
		return "Failed to upload image. Please try again."
	case errors.Is(e.Err, inference.ErrInferenceTimedOut):
		return "The analysis took too long. Please try again."
	case errors.Is(e.Err, inference.ErrInferenceFailed):
		return "Failed to analyze image. Please try again."
	case errors.Is(e.Err, diagnosis.ErrPersistFailed):
		return "The analysis finished but could not be saved. You can retry saving."
	case errors.Is(e.Err, risk.ErrInvalidScore),
		errors.Is(e.Err, diagnosis.ErrMissingTopPrediction),
		errors.Is(e.Err, diagnosis.ErrLabelScoreMismatch),
		errors.Is(e.Err, diagnosis.ErrScoreOutOfRange):
		return "The analysis returned an unusable result."
	}
	return fmt.Sprintf("Something went wrong while %s.", e.Stage)
}

// Retryable reports whether RetryPersist can resume this failure.
func (e *StageError) Retryable() bool {
	return e != nil && e.Stage == StageAnalyzing && errors.Is(e.Err, diagnosis.ErrPersistFailed)
}
