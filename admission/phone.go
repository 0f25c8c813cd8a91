package admission

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultPhoneRegion is used when a number has no country code.
const DefaultPhoneRegion = "US"

// NormalizePhone normalizes a phone number to E.164 format, assuming
// region for numbers written without a country code.
func NormalizePhone(phone, region string) (string, error) {
	phone = strings.TrimSpace(phone)
	if region == "" {
		region = DefaultPhoneRegion
	}

	num, err := phonenumbers.Parse(phone, region)
	if err != nil {
		return "", err
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", phonenumbers.ErrNotANumber
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}
