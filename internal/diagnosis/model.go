// Package diagnosis holds the records that flow through the X-ray diagnosis
// pipeline and the Postgres repository that stores them.
package diagnosis

import (
	"fmt"
	"math"
	"time"

	"github.com/wolfman30/xray-diagnosis-platform/internal/risk"
)

// SelectedImage is the local file chosen for one run.
type SelectedImage struct {
	Bytes       []byte
	MimeType    string
	DisplayName string
}

// UploadedAsset is an image stored in object storage. Never mutated or deleted here.
type UploadedAsset struct {
	StorageKey string `json:"storage_key"`
	PublicURL  string `json:"public_url"`
}

// PredictionRecord is the canonical inference output.
type PredictionRecord struct {
	Labels         []string  `json:"labels"`
	Scores         []float64 `json:"scores"`
	TopLabel       string    `json:"top_label"`
	TopScore       *float64  `json:"top_score"`
	HeatmapImage   string    `json:"heatmap_png_base64,omitempty"`
	ReportArtifact string    `json:"pdf_base64,omitempty"`
}

// NewPredictionRecord builds a validated record.
func NewPredictionRecord(labels []string, scores []float64, topLabel string, topScore float64) (*PredictionRecord, error) {
	rec := &PredictionRecord{
		Labels:   labels,
		Scores:   scores,
		TopLabel: topLabel,
		TopScore: &topScore,
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

// Validate checks alignment, score ranges and top prediction presence.
func (p *PredictionRecord) Validate() error {
	if len(p.Labels) != len(p.Scores) {
		return fmt.Errorf("%w: %d labels, %d scores", ErrLabelScoreMismatch, len(p.Labels), len(p.Scores))
	}
	for i, s := range p.Scores {
		if !inUnitRange(s) {
			return fmt.Errorf("%w: scores[%d]=%v", ErrScoreOutOfRange, i, s)
		}
	}
	if p.TopLabel == "" || p.TopScore == nil {
		return ErrMissingTopPrediction
	}
	if !inUnitRange(*p.TopScore) {
		return fmt.Errorf("%w: top_score=%v", ErrScoreOutOfRange, *p.TopScore)
	}
	return nil
}

// Score returns the top score, or zero when absent.
func (p *PredictionRecord) Score() float64 {
	if p == nil || p.TopScore == nil {
		return 0
	}
	return *p.TopScore
}

func inUnitRange(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

// StoredDiagnosis is a persisted prediction. Immutable once created.
type StoredDiagnosis struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	PatientID       string    `json:"patient_info_id"`
	ImageURL        string    `json:"image_url"`
	Labels          []string  `json:"labels"`
	Scores          []float64 `json:"scores"`
	TopPrediction   string    `json:"top_prediction"`
	ConfidenceScore float64   `json:"confidence_score"`
	HeatmapBase64   string    `json:"heatmap_base64,omitempty"`
	PDFBase64       string    `json:"pdf_base64,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Assess classifies the stored confidence score.
func (d *StoredDiagnosis) Assess() (risk.Assessment, error) {
	return risk.Classify(d.ConfidenceScore)
}

// HasReport reports whether a PDF artifact was stored with the diagnosis.
func (d *StoredDiagnosis) HasReport() bool {
	return d != nil && d.PDFBase64 != ""
}

// Patient is the subset of patient_info the pipeline needs.
type Patient struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	FullName string `json:"full_name"`
	Location string `json:"location,omitempty"`
}

// ExportEvent records one PDF download. Append-only.
type ExportEvent struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	DiagnosisID string    `json:"diagnosis_id"`
	PatientID   string    `json:"patient_info_id"`
	FileName    string    `json:"file_name"`
	ExportedAt  time.Time `json:"exported_at"`
}
