// Package upload validates a selected X-ray image and stores it in object storage.
package upload

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/wolfman30/xray-diagnosis-platform/internal/diagnosis"
	"github.com/wolfman30/xray-diagnosis-platform/pkg/logging"
)

const (
	defaultProgressInterval = 200 * time.Millisecond
	progressStep            = 10
	progressCeiling         = 90
)

// Storage is the object-storage collaborator.
type Storage interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) error
	PublicURL(key string) string
}

// File is a local file as declared by the caller.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// SelectFile accepts any file whose declared type starts with "image/".
// Content bytes are not sniffed.
func SelectFile(f File) (*diagnosis.SelectedImage, error) {
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(f.ContentType)), "image/") {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidFileType, f.ContentType)
	}
	if len(f.Data) == 0 {
		return nil, ErrEmptyFile
	}
	return &diagnosis.SelectedImage{
		Bytes:       f.Data,
		MimeType:    f.ContentType,
		DisplayName: displayName(f.Name),
	}, nil
}

// Orchestrator drives the byte upload and reports progress.
type Orchestrator struct {
	storage  Storage
	interval time.Duration
	now      func() time.Time
	logger   *logging.Logger
}

// NewOrchestrator creates an upload orchestrator over the given storage.
func NewOrchestrator(storage Storage, logger *logging.Logger) *Orchestrator {
	if storage == nil {
		panic("upload: storage required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Orchestrator{
		storage:  storage,
		interval: defaultProgressInterval,
		now:      time.Now,
		logger:   logger,
	}
}

// WithProgressInterval overrides the progress tick cadence.
func (o *Orchestrator) WithProgressInterval(d time.Duration) *Orchestrator {
	if d > 0 {
		o.interval = d
	}
	return o
}

// WithClock overrides the clock used for storage keys.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	if now != nil {
		o.now = now
	}
	return o
}

// StorageKey namespaces an upload under its owner: {owner}/{unixMillis}_{name}.
func StorageKey(ownerID string, at time.Time, name string) string {
	return fmt.Sprintf("%s/%d_%s", ownerID, at.UnixMilli(), displayName(name))
}

// Upload stores the image under a key owned by ownerID.
// Progress is non-decreasing, stays below 100 while pending and reaches 100
// only after the storage write is confirmed. A failed upload never reports 100.
func (o *Orchestrator) Upload(ctx context.Context, img *diagnosis.SelectedImage, ownerID string, progress ProgressFunc) (*diagnosis.UploadedAsset, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: no image selected", ErrUploadFailed)
	}
	if strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("%w: owner id required", ErrUploadFailed)
	}

	key := StorageKey(ownerID, o.now(), img.DisplayName)
	emitter := startProgress(o.interval, progressStep, progressCeiling, progress)
	err := o.storage.Upload(ctx, key, img.Bytes, img.MimeType)
	emitter.Stop()

	if err != nil {
		o.logger.Warn("image upload failed", "key", key, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	if progress != nil {
		progress(100)
	}

	asset := &diagnosis.UploadedAsset{
		StorageKey: key,
		PublicURL:  o.storage.PublicURL(key),
	}
	o.logger.Info("image uploaded", "key", key, "size", len(img.Bytes), "content_type", img.MimeType)
	return asset, nil
}

func displayName(name string) string {
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "image"
	}
	return name
}
