package participant

import (
	"strings"

	"github.com/google/uuid"
)

// ReferralCode derives the short referral code of a participant id:
// the id without dashes, cut to length and uppercased.
func ReferralCode(id uuid.UUID, length int) string {
	hex := strings.ReplaceAll(id.String(), "-", "")
	if length > len(hex) {
		length = len(hex)
	}
	return strings.ToUpper(hex[:length])
}

// NormalizeReferralCode is the stored form of a code typed or linked by a user
func NormalizeReferralCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ReferralLink is the shareable landing link for a code
func ReferralLink(baseURL, code string) string {
	return strings.TrimRight(baseURL, "/") + "?ref=" + code
}
