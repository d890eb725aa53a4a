package participant

import "errors"

// Record lookups and conflicts
var (
	ErrNotFound      = errors.New("participant not found")
	ErrDiscordTaken  = errors.New("discord account already connected to another record")
	ErrTwitterTaken  = errors.New("x account already connected to another record")
	ErrWalletTaken   = errors.New("wallet address already connected to another record")
	ErrAccountLocked = errors.New("record is locked by a submitted wallet")
)

// Task ordering
var (
	ErrDiscordNotJoined    = errors.New("discord server not joined")
	ErrTwitterNotConnected = errors.New("x account not connected")
	ErrTwitterNotFollowed  = errors.New("x follow not verified")
	ErrInvalidWallet       = errors.New("invalid wallet address format")
)

// Referrals
var (
	ErrInvalidReferralCode = errors.New("invalid referral code")
	ErrAlreadyReferred     = errors.New("participant already has a referrer")
	ErrSelfReferral        = errors.New("participant cannot refer itself")
	ErrReferralCodeTaken   = errors.New("referral code already assigned to another record")
)

// ErrMissingLookupKey is a partner lookup without wallet and email
var ErrMissingLookupKey = errors.New("wallet or email required")

// IsConflict reports whether err is a uniqueness or lock conflict
func IsConflict(err error) bool {
	return errors.Is(err, ErrDiscordTaken) ||
		errors.Is(err, ErrTwitterTaken) ||
		errors.Is(err, ErrWalletTaken) ||
		errors.Is(err, ErrAccountLocked)
}

// IsOrdering reports whether err is a task submitted before its prerequisite
func IsOrdering(err error) bool {
	return errors.Is(err, ErrDiscordNotJoined) ||
		errors.Is(err, ErrTwitterNotConnected) ||
		errors.Is(err, ErrTwitterNotFollowed)
}
