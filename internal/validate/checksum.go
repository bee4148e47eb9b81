package validate

import (
	"fmt"
	"strings"
)

// ValidateIdentifier enforces the identifier invariant: digits only, a known
// code length, and a correct GTIN check digit where the length carries one.
// Produce PLUs (4-5 digits) have no check digit and pass on length alone.
func ValidateIdentifier(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("identifier is empty")
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return fmt.Errorf("identifier %q contains non-digit characters", id)
		}
	}
	switch len(id) {
	case 4, 5:
		return nil
	case 8, 12, 13, 14:
		if !gtinCheckDigitValid(id) {
			return fmt.Errorf("identifier %q fails check digit validation", id)
		}
		return nil
	default:
		return fmt.Errorf("identifier %q has unsupported length %d", id, len(id))
	}
}

// gtinCheckDigitValid applies the GS1 mod-10 check: weights alternate 3,1
// from the digit adjacent to the check digit, moving left.
func gtinCheckDigitValid(id string) bool {
	sum := 0
	weight := 3
	for i := len(id) - 2; i >= 0; i-- {
		sum += int(id[i]-'0') * weight
		if weight == 3 {
			weight = 1
		} else {
			weight = 3
		}
	}
	check := (10 - sum%10) % 10
	return check == int(id[len(id)-1]-'0')
}
