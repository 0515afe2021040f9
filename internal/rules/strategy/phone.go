package strategy

import (
	"regexp"
	"strings"
)

var (
	chinaMobileRegex   = regexp.MustCompile(`^1[3-9]\d{9}$`)
	chinaLandlineRegex = regexp.MustCompile(`^(0\d{2,3}-?)?\d{7,8}$`)
	countryCodeRegex   = regexp.MustCompile(`^(\+?86|0086)`)
)

// PhoneStrategy normalizes then validates a Chinese phone number. Params:
// {removeSpaces?, removeDashes?, removeCountryCode?, allowLandline?}. The
// normalized form is the returned value.
type PhoneStrategy struct{}

func (s *PhoneStrategy) ValidateParams(params map[string]interface{}) error {
	return nil
}

func (s *PhoneStrategy) Validate(value string, params map[string]interface{}, _ Context) Result {
	normalized := value

	removeSpaces := true
	if v, ok := params["removeSpaces"].(bool); ok {
		removeSpaces = v
	}
	removeDashes := true
	if v, ok := params["removeDashes"].(bool); ok {
		removeDashes = v
	}
	removeCountryCode := true
	if v, ok := params["removeCountryCode"].(bool); ok {
		removeCountryCode = v
	}
	allowLandline, _ := params["allowLandline"].(bool)

	if removeSpaces {
		normalized = strings.ReplaceAll(normalized, " ", "")
	}
	if removeDashes {
		normalized = strings.ReplaceAll(normalized, "-", "")
	}
	if removeCountryCode {
		normalized = countryCodeRegex.ReplaceAllString(normalized, "")
	}

	if chinaMobileRegex.MatchString(normalized) {
		return Result{OK: true, Value: normalized}
	}
	if allowLandline && chinaLandlineRegex.MatchString(normalized) {
		return Result{OK: true, Value: normalized}
	}

	return Result{OK: false, ErrorMessage: "value is not a valid phone number", OriginalValue: value}
}
