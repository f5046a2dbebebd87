package mesh

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// AddressLen is the size of a mesh address in bytes.
const AddressLen = 6

// Address is a 6-byte mesh peer address (the device's soft-AP MAC).
type Address [AddressLen]byte

// ParseAddress parses "AA:BB:CC:DD:EE:FF", "aa-bb-cc-dd-ee-ff" or
// "AABBCCDDEEFF".
func ParseAddress(s string) (Address, error) {
	var a Address
	clean := strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(s))
	if len(clean) != AddressLen*2 {
		return a, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	if _, err := hex.Decode(a[:], []byte(clean)); err != nil {
		return a, fmt.Errorf("%w: %q: %w", ErrInvalidAddress, s, err)
	}
	return a, nil
}

// String returns the colon-separated form used in logs.
func (a Address) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4], a[5])
}

// Hex returns the 12 uppercase hex digits used as device id in topics.
func (a Address) Hex() string {
	return strings.ToUpper(hex.EncodeToString(a[:]))
}

// IsZero reports whether a is the all-zero address.
func (a Address) IsZero() bool { return a == Address{} }
