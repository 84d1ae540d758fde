package payment

import "strings"

// Keyword patterns seen in payment-provider return URLs. A match is
// only ever a hint to re-check the backend status; the URL is client
// observable and must not be trusted as proof of anything.
var (
	successURLPatterns = []string{
		"success",
		"completed",
		"paid",
		"status=success",
		"payment_status=success",
	}

	failureURLPatterns = []string{
		"failed",
		"cancelled",
		"expired",
		"status=failed",
		"payment_status=failed",
	}
)

// matchesPaymentOutcome reports whether a navigation URL inside the
// embedded payment page looks like a terminal redirect, success or
// failure.
func matchesPaymentOutcome(url string) bool {
	u := strings.ToLower(url)
	for _, p := range successURLPatterns {
		if strings.Contains(u, p) {
			return true
		}
	}
	for _, p := range failureURLPatterns {
		if strings.Contains(u, p) {
			return true
		}
	}
	return false
}

func normalizeStatus(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
