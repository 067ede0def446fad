// Package risk buckets a diagnosis top score into a display risk tier.
//
// Tiers are derived at read time and never persisted, so they can be
// recomputed from any stored diagnosis.
package risk

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidScore is returned for scores outside [0,1].
var ErrInvalidScore = errors.New("risk: score must be within [0,1]")

// Tier is the three-way risk bucket.
type Tier string

const (
	TierLow      Tier = "low"
	TierModerate Tier = "moderate"
	TierHigh     Tier = "high"
)

// Icon and Color name display semantics; rendering is up to the client.
type Icon string

type Color string

const (
	IconCheck   Icon = "check-circle"
	IconWarning Icon = "alert-triangle"
	IconCross   Icon = "x-circle"

	ColorSuccess     Color = "success"
	ColorWarning     Color = "warning"
	ColorDestructive Color = "destructive"
)

const (
	lowUpperBound      = 0.25
	moderateUpperBound = 0.50
)

// Assessment is the classification of one top score.
type Assessment struct {
	Tier     Tier    `json:"tier"`
	Icon     Icon    `json:"icon"`
	Color    Color   `json:"color"`
	Label    string  `json:"label"`
	Score    float64 `json:"score"`
	Percent  int     `json:"percent"`
	Advisory string  `json:"advisory,omitempty"`
}

// RequiresFollowUp reports whether the assessment should trigger facility suggestions.
func (a Assessment) RequiresFollowUp() bool {
	return a.Tier == TierHigh
}

// Classify maps a top score to its tier:
// score < 0.25 is Low, 0.25 <= score <= 0.50 is Moderate, score > 0.50 is High.
func Classify(topScore float64) (Assessment, error) {
	if math.IsNaN(topScore) || topScore < 0 || topScore > 1 {
		return Assessment{}, fmt.Errorf("%w: got %v", ErrInvalidScore, topScore)
	}

	a := Assessment{
		Score:   topScore,
		Percent: int(math.Round(topScore * 100)),
	}
	switch {
	case topScore < lowUpperBound:
		a.Tier, a.Icon, a.Color, a.Label = TierLow, IconCheck, ColorSuccess, "Low Risk"
		a.Advisory = "Low risk detected"
	case topScore <= moderateUpperBound:
		a.Tier, a.Icon, a.Color, a.Label = TierModerate, IconWarning, ColorWarning, "Moderate Risk"
	default:
		a.Tier, a.Icon, a.Color, a.Label = TierHigh, IconCross, ColorDestructive, "High Risk"
		a.Advisory = "High risk detected. Please consult a specialist."
	}
	return a, nil
}
