package carcode

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var tagIDRegex = regexp.MustCompile(`^TAG-[A-Z0-9]+$`)

// NewTagID generates a new canonical tag identifier: the TAG- prefix
// followed by an uppercase, dash-free UUID. Identifiers are printed on
// physical labels, so the suffix alphabet stays within characters that
// survive manual entry.
func NewTagID() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return TagIDPrefix + suffix
}

// ValidateTagID checks that an identifier has the canonical shape. Parsing
// never applies this check (legacy labels carry suffixes of varying shape);
// it guards issuance only.
func ValidateTagID(tagID string) error {
	if !strings.HasPrefix(tagID, TagIDPrefix) {
		return fmt.Errorf("tag identifier must start with %s", TagIDPrefix)
	}
	if !tagIDRegex.MatchString(tagID) {
		return fmt.Errorf("tag identifier contains invalid characters: %s", tagID)
	}
	return nil
}
