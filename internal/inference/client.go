// Package inference submits X-ray images to the prediction service.
package inference

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/xray-diagnosis-platform/internal/diagnosis"
	"github.com/wolfman30/xray-diagnosis-platform/pkg/logging"
)

var inferenceTracer = otel.Tracer("xray.internal.inference")

// DefaultTimeout bounds one prediction call. Inference dominates pipeline
// latency, so the call is capped rather than left to the server.
const DefaultTimeout = 60 * time.Second

const (
	predictPath     = "/predict"
	fileField       = "file"
	maxResponseSize = 64 << 20
	errorBodyLimit  = 512
)

// Client calls POST {baseURL}/predict. It never retries.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	logger     *logging.Logger
}

// NewClient creates an inference client for baseURL (e.g. http://localhost:8000/api).
func NewClient(baseURL string, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    DefaultTimeout,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// WithTimeout overrides the per-call timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	if d > 0 {
		c.timeout = d
	}
	return c
}

// WithHTTPClient swaps the underlying transport client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	if hc != nil {
		c.httpClient = hc
	}
	return c
}

// Infer uploads the raw image as a single multipart request and normalizes the response.
func (c *Client) Infer(ctx context.Context, img *diagnosis.SelectedImage) (*diagnosis.PredictionRecord, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: no image", ErrInferenceFailed)
	}

	ctx, span := inferenceTracer.Start(ctx, "inference.predict")
	defer span.End()
	span.SetAttributes(
		attribute.String("xray.image_name", img.DisplayName),
		attribute.String("xray.image_type", img.MimeType),
		attribute.Int("xray.image_bytes", len(img.Bytes)),
	)

	body, contentType, err := multipartBody(img)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: build request: %w", ErrInferenceFailed, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+predictPath, body)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: build request: %w", ErrInferenceFailed, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = c.callError(ctx, callCtx, err)
		span.RecordError(err)
		return nil, err
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		err := fmt.Errorf("%w: status %d: %s", ErrInferenceFailed, resp.StatusCode, strings.TrimSpace(string(snippet)))
		span.RecordError(err)
		c.logger.Warn("inference request rejected", "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())
		return nil, err
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		err = c.callError(ctx, callCtx, err)
		span.RecordError(err)
		return nil, err
	}

	rec, err := NormalizeResponse(payload)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("xray.top_label", rec.TopLabel),
		attribute.Float64("xray.top_score", rec.Score()),
	)
	c.logger.Info("inference completed",
		"top_label", rec.TopLabel,
		"top_score", rec.Score(),
		"labels", len(rec.Labels),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return rec, nil
}

// callError separates our own timeout from caller cancellation and transport failures.
func (c *Client) callError(parent, callCtx context.Context, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("inference: %w", parent.Err())
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrInferenceTimedOut, c.timeout)
	}
	return fmt.Errorf("%w: %w", ErrInferenceFailed, err)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func multipartBody(img *diagnosis.SelectedImage) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, fileField, quoteEscaper.Replace(img.DisplayName)))
	h.Set("Content-Type", img.MimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(img.Bytes); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
