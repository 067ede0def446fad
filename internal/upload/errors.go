package upload

import "errors"

var (
	// ErrInvalidFileType is returned when the declared type is not image/*.
	ErrInvalidFileType = errors.New("upload: file must be an image")

	// ErrEmptyFile is returned when a selected file has no content.
	ErrEmptyFile = errors.New("upload: file is empty")

	// ErrUploadFailed wraps any storage write failure.
	ErrUploadFailed = errors.New("upload: storage write failed")
)
