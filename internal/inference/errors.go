package inference

import "errors"

var (
	// ErrInferenceFailed is returned for non-2xx responses, transport errors and unusable bodies.
	ErrInferenceFailed = errors.New("inference: prediction failed")

	// ErrInferenceTimedOut is returned when the client-imposed timeout expires.
	ErrInferenceTimedOut = errors.New("inference: prediction timed out")
)
