package inference

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/xray-diagnosis-platform/internal/diagnosis"
	"github.com/wolfman30/xray-diagnosis-platform/pkg/logging"
)

func testImage() *diagnosis.SelectedImage {
	return &diagnosis.SelectedImage{Bytes: []byte("fake-png"), MimeType: "image/png", DisplayName: `chest "pa".png`}
}

func quietLogger() *logging.Logger {
	return logging.NewWithWriter("error", nil)
}

func TestClient_InferSendsMultipartImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/api/predict" {
			t.Errorf("expected /api/predict, got %s", r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("expected file field: %v", err)
			http.Error(w, "no file", http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if string(data) != "fake-png" {
			t.Errorf("unexpected file bytes %q", data)
		}
		if got := header.Header.Get("Content-Type"); got != "image/png" {
			t.Errorf("expected part content type image/png, got %q", got)
		}
		if header.Filename != `chest "pa".png` {
			t.Errorf("unexpected filename %q", header.Filename)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"predictions":{"labels":["Atelectasis","Effusion"],"scores":[0.1,0.04],"top_label":"Atelectasis","top_score":0.1}}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/api/", quietLogger())
	rec, err := client.Infer(context.Background(), testImage())
	require.NoError(t, err)
	assert.Equal(t, "Atelectasis", rec.TopLabel)
	assert.Equal(t, []float64{0.1, 0.04}, rec.Scores)
}

func TestClient_InferTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, quietLogger()).WithTimeout(20 * time.Millisecond)
	rec, err := client.Infer(context.Background(), testImage())
	assert.Nil(t, rec)
	assert.ErrorIs(t, err, ErrInferenceTimedOut)
	assert.NotErrorIs(t, err, ErrInferenceFailed)
}

func TestClient_InferCallerCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	_, err := NewClient(srv.URL, quietLogger()).Infer(ctx, testImage())
	close(release)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrInferenceTimedOut)
}

func TestClient_InferNonSuccessStatus(t *testing.T) {
	hc := &http.Client{}
	httpmock.ActivateNonDefault(hc)
	t.Cleanup(httpmock.DeactivateAndReset)

	tests := []struct {
		name       string
		statusCode int
	}{
		{"bad_request", http.StatusBadRequest},
		{"unauthorized", http.StatusUnauthorized},
		{"payload_too_large", http.StatusRequestEntityTooLarge},
		{"internal_server_error", http.StatusInternalServerError},
		{"bad_gateway", http.StatusBadGateway},
		{"service_unavailable", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			httpmock.Reset()
			httpmock.RegisterResponder(http.MethodPost, "http://inference.test/api/predict",
				httpmock.NewStringResponder(tt.statusCode, `{"detail":"Prediction failed: boom"}`))

			client := NewClient("http://inference.test/api", quietLogger()).WithHTTPClient(hc)
			rec, err := client.Infer(context.Background(), testImage())

			require.Error(t, err)
			assert.Nil(t, rec)
			assert.ErrorIs(t, err, ErrInferenceFailed)
			assert.Contains(t, err.Error(), fmt.Sprintf("status %d", tt.statusCode))
			assert.Equal(t, 1, httpmock.GetTotalCallCount(), "no retry expected")
		})
	}
}

func TestClient_InferUnusableBody(t *testing.T) {
	hc := &http.Client{}
	httpmock.ActivateNonDefault(hc)
	t.Cleanup(httpmock.DeactivateAndReset)

	httpmock.RegisterResponder(http.MethodPost, "http://inference.test/api/predict",
		httpmock.NewStringResponder(http.StatusOK, `{"labels":["Mass"],"scores":[0.4,0.2]}`))

	_, err := NewClient("http://inference.test/api", quietLogger()).WithHTTPClient(hc).Infer(context.Background(), testImage())
	assert.ErrorIs(t, err, ErrInferenceFailed)
	assert.ErrorIs(t, err, diagnosis.ErrLabelScoreMismatch)
}

func TestClient_InferConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, quietLogger()).WithTimeout(time.Second).Infer(context.Background(), testImage())
	assert.ErrorIs(t, err, ErrInferenceFailed)
}
