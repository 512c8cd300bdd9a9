package authclient

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// NormalizePhone formats raw as E.164 when it parses as a valid number for
// region. Anything else is returned trimmed but otherwise untouched, the
// server stays the authority on what it accepts.
func NormalizePhone(raw, region string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	region = strings.ToUpper(strings.TrimSpace(region))
	if region == "" && !strings.HasPrefix(raw, "+") {
		return raw
	}

	num, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return raw
	}
	if !phonenumbers.IsValidNumber(num) {
		return raw
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}
