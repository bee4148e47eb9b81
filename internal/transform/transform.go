package transform

import (
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"aplsync/internal/apl"
	"aplsync/internal/models"
	"aplsync/internal/source"
)

// Transformer converts one processor's raw rows into canonical entries.
// One instance per state pipeline; the alias table carries all
// processor-specific knowledge, there is no per-processor code path.
type Transformer struct {
	State     string
	Processor apl.Processor
	Aliases   FieldAliases
	Logger    *zap.Logger
}

func New(state string, processor apl.Processor, logger *zap.Logger) *Transformer {
	return &Transformer{
		State:     state,
		Processor: processor,
		Aliases:   AliasesFor(processor),
		Logger:    logger,
	}
}

// Transform maps a raw row to zero or one canonical entry. Rows without a
// usable product identifier are header/footer noise: skipped silently, not
// counted as invalid.
func (t *Transformer) Transform(row source.RawRow, now time.Time) *models.Entry {
	rawID, _ := lookup(row, t.Aliases.Identifier)
	identifier := digitsOnly(rawID)
	if identifier == "" {
		return nil
	}

	category, _ := lookup(row, t.Aliases.Category)
	subcategory, hasSub := lookup(row, t.Aliases.Subcategory)

	entry := &models.Entry{
		State:             t.State,
		ProductIdentifier: identifier,
		BenefitCategory:   strings.TrimSpace(category),
		SourceProcessor:   string(t.Processor),
		LastUpdated:       now,
		Eligible:          true,
		Verified:          false,
	}
	if hasSub && strings.TrimSpace(subcategory) != "" {
		sub := strings.TrimSpace(subcategory)
		entry.BenefitSubcategory = &sub
	}

	if raw, ok := lookup(row, t.Aliases.Eligible); ok {
		entry.Eligible = parseEligible(raw)
	}

	if raw, ok := lookup(row, t.Aliases.ParticipantGroups); ok {
		if groups := ParseParticipantGroups(raw); groups != nil {
			entry.ParticipantGroups = mustJSON(groups)
		}
	}

	if size := t.sizeRestriction(row); size != nil {
		entry.SizeRestriction = mustJSON(size)
	}

	if raw, ok := lookup(row, t.Aliases.Brands); ok {
		if brands := parseBrands(raw); len(brands) > 0 {
			entry.BrandRestriction = mustJSON(apl.BrandRestriction{AllowedBrands: brands})
		}
	}

	if extra := t.additionalRestrictions(row); len(extra) > 0 {
		entry.AdditionalRestrictions = mustJSON(extra)
	}

	// A product with an unknown effective date is assumed effective
	// immediately; the run time keeps the identity deterministic because
	// unchanged source bytes short-circuit before transformation.
	entry.EffectiveDate = now.UTC().Truncate(time.Second)
	if raw, ok := lookup(row, t.Aliases.EffectiveDate); ok {
		if parsed, ok := ParseDate(raw); ok {
			entry.EffectiveDate = parsed
		}
	}
	if raw, ok := lookup(row, t.Aliases.ExpirationDate); ok {
		if parsed, ok := ParseDate(raw); ok {
			entry.ExpirationDate = &parsed
		}
	}

	return entry
}

// sizeRestriction prefers explicit min/max columns over the free-text size
// column when both are present.
func (t *Transformer) sizeRestriction(row source.RawRow) *apl.SizeRestriction {
	unitHint, _ := lookup(row, t.Aliases.Unit)

	minRaw, hasMin := lookup(row, t.Aliases.MinSize)
	maxRaw, hasMax := lookup(row, t.Aliases.MaxSize)
	if hasMin || hasMax {
		restriction := &apl.SizeRestriction{Unit: pickUnit("", unitHint)}
		if hasMin {
			if parsed := ParseSizeRestriction(minRaw, unitHint); parsed != nil && parsed.Exact != nil {
				restriction.Min = parsed.Exact
			}
		}
		if hasMax {
			if parsed := ParseSizeRestriction(maxRaw, unitHint); parsed != nil && parsed.Exact != nil {
				restriction.Max = parsed.Exact
			}
		}
		if restriction.Min != nil || restriction.Max != nil {
			return restriction
		}
		// Explicit columns present but unparseable; fall through to free text.
	}

	if raw, ok := lookup(row, t.Aliases.Size); ok {
		return ParseSizeRestriction(raw, unitHint)
	}
	return nil
}

func (t *Transformer) additionalRestrictions(row source.RawRow) map[string]any {
	extra := map[string]any{}
	if raw, ok := lookup(row, t.Aliases.Notes); ok && strings.TrimSpace(raw) != "" {
		extra["notes"] = strings.TrimSpace(raw)
	}
	if raw, ok := lookup(row, t.Aliases.PackageType); ok && strings.TrimSpace(raw) != "" {
		extra["package_type"] = strings.TrimSpace(raw)
	}
	if raw, ok := lookup(row, t.Aliases.Description); ok && strings.TrimSpace(raw) != "" {
		extra["description"] = strings.TrimSpace(raw)
	}
	if len(extra) == 0 {
		return nil
	}
	return extra
}

// digitsOnly strips formatting (dashes, spaces, check-digit separators) that
// processors embed in identifier columns. A row whose identifier has no
// digits at all has no usable identifier.
func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func mustJSON(v any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}
