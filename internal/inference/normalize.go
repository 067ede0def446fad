package inference

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/wolfman30/xray-diagnosis-platform/internal/diagnosis"
)

// predictResponse accepts both the flat and the nested response shapes.
type predictResponse struct {
	Predictions json.RawMessage `json:"predictions"`
	Labels      []string        `json:"labels"`
	Scores      []float64       `json:"scores"`
	TopLabel    *string         `json:"top_label"`
	TopScore    *float64        `json:"top_score"`
	Heatmap     string          `json:"heatmap_png_base64"`
	PDF         string          `json:"pdf_base64"`
}

type detailedPredictions struct {
	Labels   []string  `json:"labels"`
	Scores   []float64 `json:"scores"`
	TopLabel *string   `json:"top_label"`
	TopScore *float64  `json:"top_score"`
}

// NormalizeResponse resolves a raw /predict body into one PredictionRecord.
//
// Precedence:
//   - label/score arrays come from the nested "predictions" object whenever it
//     carries them, otherwise from the top level;
//   - top_label and top_score are each taken from the nested object first,
//     then from the flat top level, verbatim;
//   - a top value still missing is derived from argmax(scores) when arrays exist.
//
// A record without a resolvable top label and score is an error.
func NormalizeResponse(body []byte) (*diagnosis.PredictionRecord, error) {
	var raw predictResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrInferenceFailed, err)
	}

	var nested *detailedPredictions
	if trimmed := bytes.TrimSpace(raw.Predictions); len(trimmed) > 0 && trimmed[0] == '{' {
		nested = &detailedPredictions{}
		if err := json.Unmarshal(trimmed, nested); err != nil {
			return nil, fmt.Errorf("%w: decode predictions: %w", ErrInferenceFailed, err)
		}
	}

	rec := &diagnosis.PredictionRecord{
		Labels:         raw.Labels,
		Scores:         raw.Scores,
		HeatmapImage:   raw.Heatmap,
		ReportArtifact: raw.PDF,
	}
	topLabel, topScore := raw.TopLabel, raw.TopScore

	if nested != nil {
		if nested.Labels != nil || nested.Scores != nil {
			rec.Labels, rec.Scores = nested.Labels, nested.Scores
		}
		if nested.TopLabel != nil {
			topLabel = nested.TopLabel
		}
		if nested.TopScore != nil {
			topScore = nested.TopScore
		}
	}

	if (topLabel == nil || topScore == nil) && len(rec.Scores) > 0 && len(rec.Labels) == len(rec.Scores) {
		idx := argmax(rec.Scores)
		if topLabel == nil {
			topLabel = &rec.Labels[idx]
		}
		if topScore == nil {
			topScore = &rec.Scores[idx]
		}
	}

	if topLabel != nil {
		rec.TopLabel = *topLabel
	}
	if topScore != nil {
		score := *topScore
		rec.TopScore = &score
	}

	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInferenceFailed, err)
	}
	return rec, nil
}

func argmax(scores []float64) int {
	best := 0
	for i, s := range scores {
		if s > scores[best] {
			best = i
		}
	}
	return best
}
