package participant

import (
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var walletPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ValidateWallet checks the EVM address shape: 0x followed by 40 hex digits.
// The address is returned trimmed but otherwise as submitted.
func ValidateWallet(address string) (string, error) {
	address = strings.TrimSpace(address)
	if !walletPattern.MatchString(address) || !common.IsHexAddress(address) {
		return "", ErrInvalidWallet
	}
	return address, nil
}

// ChecksumWallet returns the EIP-55 form of a valid address
func ChecksumWallet(address string) string {
	return common.HexToAddress(address).Hex()
}
