// Package auth authenticates ledger callers by EIP-191 request signatures.
//
// A signed request carries the claimed address, a unix timestamp, a random
// nonce and a 65-byte secp256k1 signature over
//
//	METHOD \n PATH \n TIMESTAMP \n NONCE \n hex(keccak256(body))
//
// hashed with the Ethereum personal-message prefix. The recovered signer must
// match the claimed address.
package auth

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/potatospin/potatospin/internal/shared"
)

const (
	HeaderAddress   = "X-Potato-Address"
	HeaderTimestamp = "X-Potato-Timestamp"
	HeaderNonce     = "X-Potato-Nonce"
	HeaderSignature = "X-Potato-Signature"
)

// ErrBadSignature covers malformed, mismatched and stale signatures.
var ErrBadSignature = errors.New("auth: bad signature")

// SigningPayload builds the message a caller signs.
func SigningPayload(method, path, timestamp, nonce string, body []byte) []byte {
	digest := crypto.Keccak256(body)
	return []byte(strings.Join([]string{strings.ToUpper(method), path, timestamp, nonce, hexutil.Encode(digest)}, "\n"))
}

// Recover returns the identity that produced sig over payload.
func Recover(payload, sig []byte) (shared.Identity, error) {
	if len(sig) != crypto.SignatureLength {
		return shared.NullIdentity, fmt.Errorf("%w: signature must be %d bytes", ErrBadSignature, crypto.SignatureLength)
	}
	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(payload), normalized)
	if err != nil {
		return shared.NullIdentity, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return shared.IdentityFromAddress(crypto.PubkeyToAddress(*pub)), nil
}

// Signer signs outgoing requests with one private key.
type Signer struct {
	key      *ecdsa.PrivateKey
	identity shared.Identity
	now      func() time.Time
}

// NewSigner parses a hex private key, with or without 0x.
func NewSigner(hexKey string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("auth: parse private key: %w", err)
	}
	return NewSignerFromKey(key), nil
}

func NewSignerFromKey(key *ecdsa.PrivateKey) *Signer {
	return &Signer{
		key:      key,
		identity: shared.IdentityFromAddress(crypto.PubkeyToAddress(key.PublicKey)),
		now:      time.Now,
	}
}

func (s *Signer) Identity() shared.Identity { return s.identity }

// Sign attaches the auth headers to req. body must be the exact request body.
func (s *Signer) Sign(req *http.Request, body []byte) error {
	ts := strconv.FormatInt(s.now().Unix(), 10)
	nonce := uuid.NewString()
	payload := SigningPayload(req.Method, req.URL.Path, ts, nonce, body)
	sig, err := crypto.Sign(accounts.TextHash(payload), s.key)
	if err != nil {
		return fmt.Errorf("auth: sign request: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	req.Header.Set(HeaderAddress, s.identity.String())
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderNonce, nonce)
	req.Header.Set(HeaderSignature, hexutil.Encode(sig))
	return nil
}
