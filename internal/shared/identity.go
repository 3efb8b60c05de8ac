package shared

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Identity is the 20-byte account address of a ledger participant.
type Identity common.Address

// NullIdentity is the zero address. Value never moves to or from it.
var NullIdentity Identity

// ParseIdentity accepts a 0x-prefixed or bare 40 hex digit address.
func ParseIdentity(raw string) (Identity, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return NullIdentity, fmt.Errorf("%w: %q is not an address", ErrInvalidArgument, raw)
	}
	return Identity(common.HexToAddress(raw)), nil
}

// MustIdentity panics on malformed input. Intended for constants and tests.
func MustIdentity(raw string) Identity {
	id, err := ParseIdentity(raw)
	if err != nil {
		panic(err)
	}
	return id
}

func IdentityFromAddress(addr common.Address) Identity { return Identity(addr) }

func (id Identity) Address() common.Address { return common.Address(id) }

func (id Identity) IsNull() bool { return id == NullIdentity }

// String renders the EIP-55 checksummed form.
func (id Identity) String() string { return common.Address(id).Hex() }

func (id Identity) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// CompareIdentity orders identities by their raw bytes.
func CompareIdentity(a, b Identity) int { return bytes.Compare(a[:], b[:]) }
