package transform

import (
	"aplsync/internal/apl"
	"aplsync/internal/source"
)

// FieldAliases maps each logical field to an ordered list of candidate column
// names. Processors name columns differently and occasionally rename them
// between releases; the first present, non-empty candidate wins.
type FieldAliases struct {
	Identifier        []string
	Description       []string
	Category          []string
	Subcategory       []string
	Size              []string
	Unit              []string
	MinSize           []string
	MaxSize           []string
	ParticipantGroups []string
	Brands            []string
	Eligible          []string
	Notes             []string
	PackageType       []string
	EffectiveDate     []string
	ExpirationDate    []string
}

// AliasesFor returns the alias table for a processor. Tables are additive
// over observed releases: old names stay even after a processor renames a
// column, because archives of prior files are still re-ingested.
func AliasesFor(p apl.Processor) FieldAliases {
	switch p {
	case apl.ProcessorFIS:
		return FieldAliases{
			Identifier:        []string{"upc/plu", "upc", "upc code", "plu"},
			Description:       []string{"item description", "description"},
			Category:          []string{"category description", "category"},
			Subcategory:       []string{"subcategory description", "sub-category description", "subcategory"},
			Size:              []string{"package size", "size"},
			Unit:              []string{"uom", "unit of measure"},
			MinSize:           []string{"min package size"},
			MaxSize:           []string{"max package size"},
			ParticipantGroups: []string{"participant category", "wic category"},
			Brands:            []string{"brand", "manufacturer"},
			Eligible:          []string{"wic eligible", "eligible"},
			Notes:             []string{"notes", "comments"},
			PackageType:       []string{"package type"},
			EffectiveDate:     []string{"effective date", "start date"},
			ExpirationDate:    []string{"end date", "expiration date"},
		}
	case apl.ProcessorConduent:
		return FieldAliases{
			Identifier:        []string{"upc_plu_code", "upc plu code", "item number", "upc"},
			Description:       []string{"description", "item description"},
			Category:          []string{"category", "cat description"},
			Subcategory:       []string{"sub category", "subcat description"},
			Size:              []string{"size", "item size"},
			Unit:              []string{"unit of measure", "units"},
			MinSize:           []string{"min size", "minimum size"},
			MaxSize:           []string{"max size", "maximum size"},
			ParticipantGroups: []string{"participants", "participant types"},
			Brands:            []string{"approved brands", "brand"},
			Eligible:          []string{"status", "eligible"},
			Notes:             []string{"notes"},
			PackageType:       []string{"package type", "container"},
			EffectiveDate:     []string{"begin date", "effective date"},
			ExpirationDate:    []string{"expiration date", "end date"},
		}
	case apl.ProcessorCDP:
		return FieldAliases{
			Identifier:        []string{"upc code", "apl code", "upc"},
			Description:       []string{"item description", "product"},
			Category:          []string{"cat desc", "category description", "category"},
			Subcategory:       []string{"subcat desc", "subcategory description"},
			Size:              []string{"item size", "size"},
			Unit:              []string{"size unit", "uom"},
			MinSize:           []string{"min item size"},
			MaxSize:           []string{"max item size"},
			ParticipantGroups: []string{"participant", "recipient"},
			Brands:            []string{"brand name"},
			Eligible:          []string{"active", "eligible"},
			Notes:             []string{"comment"},
			PackageType:       []string{"package"},
			EffectiveDate:     []string{"start date", "effective date"},
			ExpirationDate:    []string{"stop date", "end date"},
		}
	case apl.ProcessorSolutran:
		return FieldAliases{
			Identifier:        []string{"product upc", "upc number", "upc"},
			Description:       []string{"product description", "description"},
			Category:          []string{"category name", "category"},
			Subcategory:       []string{"subcategory name", "subcategory"},
			Size:              []string{"product size", "size"},
			Unit:              []string{"size uom", "uom"},
			MinSize:           []string{"minimum product size"},
			MaxSize:           []string{"maximum product size"},
			ParticipantGroups: []string{"participant types", "eligible participants"},
			Brands:            []string{"brands", "approved brands"},
			Eligible:          []string{"eligible", "status"},
			Notes:             []string{"notes"},
			PackageType:       []string{"package type"},
			EffectiveDate:     []string{"effective", "effective date"},
			ExpirationDate:    []string{"expires", "expiration date"},
		}
	default:
		// Generic fallback covering the most common names across processors.
		return FieldAliases{
			Identifier:     []string{"upc", "upc/plu", "product code"},
			Description:    []string{"description", "item description"},
			Category:       []string{"category", "category description"},
			Subcategory:    []string{"subcategory", "sub category"},
			Size:           []string{"size", "package size"},
			Unit:           []string{"uom", "unit of measure"},
			EffectiveDate:  []string{"effective date", "start date"},
			ExpirationDate: []string{"expiration date", "end date"},
		}
	}
}

// lookup returns the first present, non-empty value among the aliases.
func lookup(row source.RawRow, aliases []string) (string, bool) {
	for _, key := range aliases {
		if v, ok := row[key]; ok && v != "" {
			return v, true
		}
	}
	return "", false
}
