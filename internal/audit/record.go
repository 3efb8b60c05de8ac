package audit

import (
	"encoding/binary"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"

	"github.com/potatospin/potatospin/internal/shared"
)

// Kind classifies an audit record.
type Kind string

const (
	KindRoleGranted Kind = "role.granted"
	KindRoleRevoked Kind = "role.revoked"
	KindMinted      Kind = "token.minted"
	KindBurned      Kind = "token.burned"
	KindTransferred Kind = "token.transferred"
	KindApproved    Kind = "allowance.approved"
	KindPaused      Kind = "pause.paused"
	KindUnpaused    Kind = "pause.unpaused"
	KindDeployed    Kind = "token.deployed"
)

var kinds = []Kind{KindRoleGranted, KindRoleRevoked, KindMinted, KindBurned, KindTransferred, KindApproved, KindPaused, KindUnpaused, KindDeployed}

// Kinds lists every record kind.
func Kinds() []Kind {
	out := make([]Kind, len(kinds))
	copy(out, kinds)
	return out
}

func (k Kind) Valid() bool {
	for _, known := range kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Record is one entry of the append-only audit stream. Fields not relevant to
// a kind stay at their zero value:
//
//	role.granted / role.revoked   Actor, Account, Role
//	token.minted                  Actor (minter), To, Amount
//	token.burned                  Actor (burner), From, Amount, AllowanceSpent
//	token.transferred             Actor, From, To, Amount, AllowanceSpent
//	allowance.approved            Actor (owner), From (owner), To (spender), Amount
//	pause.paused / pause.unpaused Actor
//	token.deployed                Actor (owner), Amount (cap), Name, Symbol, Decimals
//
// token.deployed is written once, as the last genesis record.
type Record struct {
	ID             uuid.UUID       `json:"id"`
	Seq            uint64          `json:"seq"`
	Kind           Kind            `json:"kind"`
	Actor          shared.Identity `json:"actor"`
	Account        shared.Identity `json:"account"`
	From           shared.Identity `json:"from"`
	To             shared.Identity `json:"to"`
	Role           shared.Role     `json:"role,omitempty"`
	Amount         *uint256.Int    `json:"amount,omitempty"`
	AllowanceSpent bool            `json:"allowance_spent,omitempty"`
	Name           string          `json:"name,omitempty"`
	Symbol         string          `json:"symbol,omitempty"`
	Decimals       uint8           `json:"decimals,omitempty"`
	At             time.Time       `json:"at"`
	PrevHash       common.Hash     `json:"prev_hash"`
	Hash           common.Hash     `json:"hash"`
}

// ComputeHash returns SHA3-256(PrevHash || canonical encoding). The stored
// Hash field is not part of the input.
func (r Record) ComputeHash() common.Hash {
	h := sha3.New256()
	h.Write(r.PrevHash[:])

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], r.Seq)
	h.Write(buf[:])
	h.Write(r.ID[:])
	writeString(h, string(r.Kind))
	h.Write(r.Actor[:])
	h.Write(r.Account[:])
	h.Write(r.From[:])
	h.Write(r.To[:])
	writeString(h, string(r.Role))
	amount := shared.CloneAmount(r.Amount).Bytes32()
	h.Write(amount[:])
	if r.AllowanceSpent {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	writeString(h, r.Name)
	writeString(h, r.Symbol)
	h.Write([]byte{r.Decimals})
	binary.BigEndian.PutUint64(buf[:], uint64(r.At.UnixNano()))
	h.Write(buf[:])

	var out common.Hash
	h.Sum(out[:0])
	return out
}

// Describe returns a short human readable summary.
func (r Record) Describe() string {
	amount := shared.CloneAmount(r.Amount).Dec()
	switch r.Kind {
	case KindRoleGranted, KindRoleRevoked:
		return string(r.Kind) + " " + string(r.Role) + " " + r.Account.String()
	case KindMinted:
		return "mint " + amount + " to " + r.To.String()
	case KindBurned:
		return "burn " + amount + " from " + r.From.String()
	case KindTransferred:
		return "transfer " + amount + " " + r.From.String() + " -> " + r.To.String()
	case KindApproved:
		return "approve " + r.To.String() + " for " + amount
	case KindDeployed:
		return "deploy " + r.Symbol + " capped at " + amount
	default:
		return string(r.Kind)
	}
}

type byteWriter interface{ Write([]byte) (int, error) }

func writeString(w byteWriter, s string) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(s)))
	w.Write(n[:])
	w.Write([]byte(s))
}
