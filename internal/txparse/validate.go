package txparse

import "github.com/btcsuite/btcd/btcutil/base58"

// ValidateAddress reports whether addr is a well-formed base58check P2PKH
// address on network: the checksum must verify, the decoded payload must
// be exactly 20 bytes (a HASH160), and the version byte must match
// network. Used by the Control Surface's address-add endpoint and the
// CLI import utility (spec.md §6 POST /addresses "invalid" bucket).
func ValidateAddress(addr string, network Network) bool {
	payload, version, err := base58.CheckDecode(addr)
	if err != nil {
		return false
	}
	return len(payload) == 20 && version == byte(network)
}
