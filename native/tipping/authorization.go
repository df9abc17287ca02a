package tipping

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"tipvault/crypto"
)

// authDomain versions the canonical claim payload. Changing the encoding
// requires a new domain string so old signatures cannot be replayed against
// the new format.
const authDomain = "tipvault/claim/v1"

// ClaimAuthorization is a single-use permission to withdraw a handle's
// pending balance to a specific wallet. Issued by the oracle signer,
// consumed exactly once by the ledger.
type ClaimAuthorization struct {
	Handle    string   `json:"handle"`
	Wallet    [20]byte `json:"wallet"`
	Nonce     [32]byte `json:"nonce"`
	Signature []byte   `json:"signature"`
	IssuedAt  int64    `json:"issuedAt"`
}

// NewNonce returns 32 bytes of fresh entropy. Nonces must not be derivable
// from handle, wallet, or time.
func NewNonce() ([32]byte, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nonce, fmt.Errorf("tipping: generate nonce: %w", err)
	}
	return nonce, nil
}

// AuthorizationHash builds the canonical byte encoding of (handle, wallet,
// nonce) and returns its keccak hash. This is the exact message the oracle
// signs and the ledger verifies.
func AuthorizationHash(handle string, wallet [20]byte, nonce [32]byte) ([]byte, error) {
	normalized, err := NormalizeHandle(handle)
	if err != nil {
		return nil, err
	}
	payload := fmt.Sprintf("%s|handle=%s|wallet=%s|nonce=%s",
		authDomain,
		normalized,
		hex.EncodeToString(wallet[:]),
		hex.EncodeToString(nonce[:]),
	)
	return ethcrypto.Keccak256([]byte(payload)), nil
}

// SignAuthorization signs the canonical claim message with the oracle key.
func SignAuthorization(key *crypto.PrivateKey, handle string, wallet [20]byte, nonce [32]byte) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("tipping: signing key required")
	}
	hash, err := AuthorizationHash(handle, wallet, nonce)
	if err != nil {
		return nil, err
	}
	sig, err := ethcrypto.Sign(hash, key.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("tipping: sign authorization: %w", err)
	}
	return sig, nil
}

// RecoverAuthorizer returns the address that signed the claim message. The
// ledger compares it against the configured oracle address.
func RecoverAuthorizer(handle string, wallet [20]byte, nonce [32]byte, signature []byte) ([20]byte, error) {
	var out [20]byte
	hash, err := AuthorizationHash(handle, wallet, nonce)
	if err != nil {
		return out, err
	}
	pub, err := ethcrypto.SigToPub(hash, signature)
	if err != nil {
		return out, fmt.Errorf("%w: recover pubkey: %v", ErrInvalidSignature, err)
	}
	copy(out[:], ethcrypto.PubkeyToAddress(*pub).Bytes())
	return out, nil
}
