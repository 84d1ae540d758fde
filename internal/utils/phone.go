package utils

import (
	"regexp"
	"strings"
)

var phoneIDRegex = regexp.MustCompile(`^(\+62|62|0)[0-9]{9,13}$`)

// NormalizePhoneID converts an Indonesian phone number to +62 form.
// Spaces and dashes are stripped first; anything that does not look like
// a local number is returned unchanged.
func NormalizePhoneID(phone string) string {
	p := strings.NewReplacer(" ", "", "-", "").Replace(phone)

	switch {
	case strings.HasPrefix(p, "+62"):
		return p
	case strings.HasPrefix(p, "62"):
		return "+" + p
	case strings.HasPrefix(p, "0"):
		return "+62" + p[1:]
	default:
		return phone
	}
}

// IsValidPhoneID reports whether the number matches the local pattern
// the backend accepts.
func IsValidPhoneID(phone string) bool {
	p := strings.ReplaceAll(phone, " ", "")
	return phoneIDRegex.MatchString(p)
}
