package workflow

import (
	"errors"
	"fmt"
	"testing"

	"github.com/wolfman30/xray-diagnosis-platform/internal/diagnosis"
	"github.com/wolfman30/xray-diagnosis-platform/internal/inference"
	"github.com/wolfman30/xray-diagnosis-platform/internal/upload"
)

func TestStageErrorNotice(t *testing.T) {
	tests := []struct {
		stage Stage
		err   error
		want  string
	}{
		{StageSelecting, upload.ErrInvalidFileType, "Please select an image file."},
		{StageUploading, ErrUnauthenticated, "Please sign in to upload images."},
		{StageUploading, fmt.Errorf("%w: boom", upload.ErrUploadFailed), "Failed to upload image. Please try again."},
		{StageAnalyzing, inference.ErrInferenceTimedOut, "The analysis took too long. Please try again."},
		{StageAnalyzing, diagnosis.ErrPersistFailed, "The analysis finished but could not be saved. You can retry saving."},
		{StageAnalyzing, diagnosis.ErrMissingTopPrediction, "The analysis returned an unusable result."},
		{StageAnalyzing, errors.New("mystery"), "Something went wrong while analyzing."},
	}
	for _, tt := range tests {
		e := &StageError{Stage: tt.stage, Err: tt.err}
		if got := e.Notice(); got != tt.want {
			t.Fatalf("Notice(%v) = %q, want %q", tt.err, got, tt.want)
		}
		if !errors.Is(e, tt.err) {
			t.Fatalf("expected StageError to unwrap to %v", tt.err)
		}
	}
}

func TestStageErrorRetryable(t *testing.T) {
	var nilErr *StageError
	if nilErr.Retryable() {
		t.Fatalf("nil error is not retryable")
	}
	if (&StageError{Stage: StageUploading, Err: diagnosis.ErrPersistFailed}).Retryable() {
		t.Fatalf("only analyzing failures are retryable")
	}
	if !(&StageError{Stage: StageAnalyzing, Err: fmt.Errorf("%w: timeout", diagnosis.ErrPersistFailed)}).Retryable() {
		t.Fatalf("expected persist failure to be retryable")
	}
}

func TestStateString(t *testing.T) {
	if StateAnalyzing.String() != "analyzing" || State(42).String() != "state(42)" {
		t.Fatalf("unexpected state names")
	}
}
