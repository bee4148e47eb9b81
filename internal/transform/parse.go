package transform

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"aplsync/internal/apl"
)

// groupKeywords maps each participant group to the substrings that select it
// in free-text participant columns.
var groupKeywords = []struct {
	group    apl.ParticipantGroup
	keywords []string
}{
	{apl.GroupPregnant, []string{"pregnant"}},
	{apl.GroupPostpartum, []string{"postpartum"}},
	{apl.GroupBreastfeeding, []string{"breastfeeding", "nursing"}},
	{apl.GroupInfant, []string{"infant"}},
	{apl.GroupChild, []string{"child", "children"}},
}

// ParseParticipantGroups interprets a free-text participant column.
// "all"/"all participants" expands to the full set; no keyword match returns
// nil, which downstream reads as "no restriction".
func ParseParticipantGroups(raw string) []apl.ParticipantGroup {
	text := strings.ToLower(strings.TrimSpace(raw))
	if text == "" {
		return nil
	}
	if text == "all" || text == "all participants" {
		return apl.AllParticipantGroups()
	}
	var out []apl.ParticipantGroup
	for _, gk := range groupKeywords {
		for _, kw := range gk.keywords {
			if strings.Contains(text, kw) {
				out = append(out, gk.group)
				break
			}
		}
	}
	return out
}

var (
	sizeRangeRe  = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*-\s*(\d+(?:\.\d+)?)\s*([a-zA-Z%][a-zA-Z%/. ]*)?$`)
	sizeSingleRe = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*([a-zA-Z%][a-zA-Z%/. ]*)?$`)
)

// ParseSizeRestriction parses free-text size strings: "8.9-36 oz" becomes a
// min/max range, "12 oz" an exact size. Anything unparseable yields nil:
// absence of a restriction, never a parse error.
func ParseSizeRestriction(raw, unitHint string) *apl.SizeRestriction {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil
	}
	if m := sizeRangeRe.FindStringSubmatch(text); m != nil {
		min, err1 := decimal.NewFromString(m[1])
		max, err2 := decimal.NewFromString(m[2])
		if err1 != nil || err2 != nil {
			return nil
		}
		return &apl.SizeRestriction{
			Min:  &min,
			Max:  &max,
			Unit: pickUnit(m[3], unitHint),
		}
	}
	if m := sizeSingleRe.FindStringSubmatch(text); m != nil {
		exact, err := decimal.NewFromString(m[1])
		if err != nil {
			return nil
		}
		return &apl.SizeRestriction{
			Exact: &exact,
			Unit:  pickUnit(m[2], unitHint),
		}
	}
	return nil
}

func pickUnit(parsed, hint string) string {
	unit := strings.ToLower(strings.TrimSpace(parsed))
	if unit == "" {
		unit = strings.ToLower(strings.TrimSpace(hint))
	}
	return unit
}

var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"2006/01/02",
	"01/02/06",
	time.RFC3339,
}

// ParseDate accepts the date shapes processors actually ship: ISO and US
// string layouts plus raw spreadsheet serials. Returns false when nothing
// parses; callers decide the fallback.
func ParseDate(raw string) (time.Time, bool) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t.UTC(), true
		}
	}
	// Excel serial: days since 1899-12-30. Plausible APL dates fall well
	// inside this window (1954..2079).
	if serial, err := strconv.ParseFloat(text, 64); err == nil && serial > 20000 && serial < 65500 {
		epoch := time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)
		return epoch.AddDate(0, 0, int(serial)), true
	}
	return time.Time{}, false
}

// parseBrands splits a brand list column on the separators processors use.
func parseBrands(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	split := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == '|'
	})
	var out []string
	for _, b := range split {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// parseEligible interprets explicit eligibility columns. Inclusion in the
// list implies eligible, so only an explicit negative flips the flag.
func parseEligible(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "n", "no", "false", "0", "inactive", "discontinued":
		return false
	default:
		return true
	}
}
