package diagnosis

import "errors"

var (
	// ErrLabelScoreMismatch is returned when labels and scores are not index-aligned.
	ErrLabelScoreMismatch = errors.New("diagnosis: labels and scores length mismatch")

	// ErrMissingTopPrediction is returned when a prediction has no top label or score.
	ErrMissingTopPrediction = errors.New("diagnosis: top prediction missing")

	// ErrScoreOutOfRange is returned when any score falls outside [0,1].
	ErrScoreOutOfRange = errors.New("diagnosis: score outside [0,1]")

	// ErrPersistFailed is returned when the diagnosis row could not be written.
	ErrPersistFailed = errors.New("diagnosis: persist failed")

	// ErrNotFound is returned when a diagnosis or patient does not exist.
	ErrNotFound = errors.New("diagnosis: not found")
)
