package apl

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Processor identifies the third-party benefit-card processor that publishes
// a state's approved product list. Each processor ships its own file layout.
type Processor string

const (
	ProcessorFIS      Processor = "fis"
	ProcessorConduent Processor = "conduent"
	ProcessorCDP      Processor = "cdp"
	ProcessorSolutran Processor = "solutran"
)

func ParseProcessor(raw string) (Processor, error) {
	switch Processor(strings.ToLower(strings.TrimSpace(raw))) {
	case ProcessorFIS:
		return ProcessorFIS, nil
	case ProcessorConduent:
		return ProcessorConduent, nil
	case ProcessorCDP:
		return ProcessorCDP, nil
	case ProcessorSolutran:
		return ProcessorSolutran, nil
	default:
		return "", fmt.Errorf("unknown processor: %q", raw)
	}
}

// ParticipantGroup is a benefit participant category an entry may be limited to.
type ParticipantGroup string

const (
	GroupPregnant      ParticipantGroup = "pregnant"
	GroupPostpartum    ParticipantGroup = "postpartum"
	GroupBreastfeeding ParticipantGroup = "breastfeeding"
	GroupInfant        ParticipantGroup = "infant"
	GroupChild         ParticipantGroup = "child"
)

// AllParticipantGroups returns the full group set in canonical order.
func AllParticipantGroups() []ParticipantGroup {
	return []ParticipantGroup{
		GroupPregnant,
		GroupPostpartum,
		GroupBreastfeeding,
		GroupInfant,
		GroupChild,
	}
}

// SizeRestriction bounds the package size an entry is eligible at.
// Either Exact or Min/Max is set, never both.
type SizeRestriction struct {
	Exact *decimal.Decimal `json:"exact,omitempty"`
	Min   *decimal.Decimal `json:"min,omitempty"`
	Max   *decimal.Decimal `json:"max,omitempty"`
	Unit  string           `json:"unit,omitempty"`
}

type BrandRestriction struct {
	AllowedBrands []string `json:"allowed_brands"`
}

// Sync run status values stored in sync_status.status.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Alert severities accepted by the webhook sink.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)
