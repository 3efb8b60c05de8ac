package shared

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Role is a capability recognised by the ledger.
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleMinter Role = "MINTER"
	RoleBurner Role = "BURNER"
	RolePauser Role = "PAUSER"
)

var allRoles = []Role{RoleAdmin, RoleMinter, RoleBurner, RolePauser}

// Roles lists every recognised role in a stable order.
func Roles() []Role {
	out := make([]Role, len(allRoles))
	copy(out, allRoles)
	return out
}

func (r Role) Valid() bool {
	for _, known := range allRoles {
		if r == known {
			return true
		}
	}
	return false
}

// ID returns the 32-byte role identifier used on-chain. ADMIN is the zero hash,
// every other role is keccak256 of "<NAME>_ROLE".
func (r Role) ID() common.Hash {
	if r == RoleAdmin {
		return common.Hash{}
	}
	return crypto.Keccak256Hash([]byte(string(r) + "_ROLE"))
}

// ParseRole accepts a role name in any case, with or without the _ROLE suffix,
// DEFAULT_ADMIN_ROLE, or a 0x-prefixed role id.
func ParseRole(raw string) (Role, error) {
	name := strings.ToUpper(strings.TrimSpace(raw))
	if strings.HasPrefix(name, "0X") && len(name) == 66 {
		id := common.HexToHash(name)
		for _, r := range allRoles {
			if r.ID() == id {
				return r, nil
			}
		}
		return "", fmt.Errorf("%w: unknown role id %s", ErrInvalidArgument, raw)
	}
	name = strings.TrimSuffix(name, "_ROLE")
	if name == "DEFAULT_ADMIN" {
		name = string(RoleAdmin)
	}
	role := Role(name)
	if !role.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidArgument, raw)
	}
	return role, nil
}
