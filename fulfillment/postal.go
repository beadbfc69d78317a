package fulfillment

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/vitwit/x402-checkout/types"
)

var postalCodes = map[string]*regexp.Regexp{
	"US": regexp.MustCompile(`^\d{5}(-\d{4})?$`),
	"CA": regexp.MustCompile(`^[A-Z]\d[A-Z] ?\d[A-Z]\d$`),
	"GB": regexp.MustCompile(`^[A-Z]{1,2}\d[A-Z\d]? ?\d[A-Z]{2}$`),
	"DE": regexp.MustCompile(`^\d{5}$`),
	"FR": regexp.MustCompile(`^\d{5}$`),
	"AU": regexp.MustCompile(`^\d{4}$`),
	"NL": regexp.MustCompile(`^\d{4} ?[A-Z]{2}$`),
	"JP": regexp.MustCompile(`^\d{3}-?\d{4}$`),
}

// ValidatePostalCode checks zip against the format used in country.
// Countries without a known format are accepted.
func ValidatePostalCode(country, zip string) error {
	re, ok := postalCodes[strings.ToUpper(country)]
	if !ok {
		return nil
	}
	if !re.MatchString(strings.ToUpper(strings.TrimSpace(zip))) {
		return &types.BusinessRuleError{
			Field:   "address.zip",
			Message: fmt.Sprintf("invalid postal code %q for country %s", zip, strings.ToUpper(country)),
		}
	}
	return nil
}
