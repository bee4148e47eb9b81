package validate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"aplsync/internal/apl"
	"aplsync/internal/models"
)

// allowedRestrictionKeys is the closed set of free-form restriction keys that
// survive sanitization. Anything else a processor invents is dropped.
var allowedRestrictionKeys = map[string]struct{}{
	"notes":        {},
	"package_type": {},
	"description":  {},
	"benefit_unit": {},
}

// Sanitize structurally validates an entry and normalizes it in place.
// A returned error means the entry is rejected (counted, never persisted);
// row-level validation never aborts the run.
func Sanitize(entry *models.Entry) error {
	if entry == nil {
		return fmt.Errorf("nil entry")
	}

	if err := ValidateIdentifier(entry.ProductIdentifier); err != nil {
		return err
	}

	entry.BenefitCategory = strings.TrimSpace(entry.BenefitCategory)
	if entry.BenefitCategory == "" {
		return fmt.Errorf("identifier %s: benefit category is empty", entry.ProductIdentifier)
	}
	if entry.BenefitSubcategory != nil {
		sub := strings.TrimSpace(*entry.BenefitSubcategory)
		if sub == "" {
			entry.BenefitSubcategory = nil
		} else {
			entry.BenefitSubcategory = &sub
		}
	}

	if err := sanitizeSizeRestriction(entry); err != nil {
		return fmt.Errorf("identifier %s: %w", entry.ProductIdentifier, err)
	}
	sanitizeAdditionalRestrictions(entry)
	return nil
}

// sanitizeSizeRestriction clamps negative bounds to zero and drops inverted
// ranges entirely: a nonsensical restriction must not block eligibility.
func sanitizeSizeRestriction(entry *models.Entry) error {
	if len(entry.SizeRestriction) == 0 {
		return nil
	}
	var size apl.SizeRestriction
	if err := json.Unmarshal(entry.SizeRestriction, &size); err != nil {
		return fmt.Errorf("malformed size restriction: %w", err)
	}
	size.Exact = clampNonNegative(size.Exact)
	size.Min = clampNonNegative(size.Min)
	size.Max = clampNonNegative(size.Max)
	if size.Min != nil && size.Max != nil && size.Min.GreaterThan(*size.Max) {
		entry.SizeRestriction = nil
		return nil
	}
	if size.Exact == nil && size.Min == nil && size.Max == nil {
		entry.SizeRestriction = nil
		return nil
	}
	b, err := json.Marshal(size)
	if err != nil {
		return err
	}
	entry.SizeRestriction = datatypes.JSON(b)
	return nil
}

func clampNonNegative(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	if d.IsNegative() {
		zero := decimal.Zero
		return &zero
	}
	return d
}

func sanitizeAdditionalRestrictions(entry *models.Entry) {
	if len(entry.AdditionalRestrictions) == 0 {
		return
	}
	var extra map[string]any
	if err := json.Unmarshal(entry.AdditionalRestrictions, &extra); err != nil {
		entry.AdditionalRestrictions = nil
		return
	}
	for key := range extra {
		if _, ok := allowedRestrictionKeys[key]; !ok {
			delete(extra, key)
		}
	}
	if len(extra) == 0 {
		entry.AdditionalRestrictions = nil
		return
	}
	b, err := json.Marshal(extra)
	if err != nil {
		entry.AdditionalRestrictions = nil
		return
	}
	entry.AdditionalRestrictions = datatypes.JSON(b)
}
