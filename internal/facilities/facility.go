// Package facilities suggests nearby specialist facilities for patients
// whose diagnosis falls in the High risk tier.
package facilities

import (
	"context"
	"strings"

	"github.com/wolfman30/xray-diagnosis-platform/internal/risk"
	"github.com/wolfman30/xray-diagnosis-platform/pkg/logging"
)

// DefaultLimit caps suggestions when no limit is configured.
const DefaultLimit = 5

// Facility is a referral destination.
type Facility struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Specialty string `json:"specialty"`
	Location  string `json:"location"`
	Address   string `json:"address,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// Directory looks facilities up by location.
type Directory interface {
	Nearby(ctx context.Context, location string, limit int) ([]Facility, error)
}

// Service gates directory lookups on the risk tier.
type Service struct {
	directory Directory
	limit     int
	logger    *logging.Logger
}

// NewService creates a suggestion service. A nil directory disables suggestions.
func NewService(directory Directory, limit int, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Service{directory: directory, limit: limit, logger: logger}
}

// Suggest returns facilities near location for High risk assessments only.
// Other tiers return nil without touching the directory.
func (s *Service) Suggest(ctx context.Context, assessment risk.Assessment, location string) ([]Facility, error) {
	if s == nil || s.directory == nil || !assessment.RequiresFollowUp() {
		return nil, nil
	}
	location = normalizeLocation(location)
	if location == "" {
		s.logger.Debug("facility suggestion skipped: patient has no location")
		return nil, nil
	}
	return s.directory.Nearby(ctx, location, s.limit)
}

func normalizeLocation(location string) string {
	return strings.ToLower(strings.Join(strings.Fields(location), " "))
}
