package oracle

import (
	"time"

	"tipvault/crypto"
	"tipvault/native/tipping"
)

// Signer issues single-use claim authorizations. It holds no per-handle
// state: nonce uniqueness and one-time-use enforcement are the ledger's
// responsibility, so any number of signer instances can run behind a load
// balancer sharing only read access to the key.
type Signer struct {
	key   *crypto.PrivateKey
	nowFn func() time.Time
}

func NewSigner(key *crypto.PrivateKey) *Signer {
	return &Signer{key: key, nowFn: time.Now}
}

// SetNowFunc overrides the issuance timestamp source, for tests.
func (s *Signer) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.nowFn = now
}

// Address returns the oracle's signing address, which the ledger must be
// configured to trust.
func (s *Signer) Address() ([20]byte, error) {
	if s == nil || s.key == nil {
		return [20]byte{}, ErrSignerNotConfigured
	}
	return s.key.PubKey().EthAddress(), nil
}

// Authorize builds, signs, and returns a fresh claim authorization for the
// session's handle and the caller-supplied destination wallet. The nonce is
// pure entropy, never derivable from its inputs.
func (s *Signer) Authorize(session *Session, wallet [20]byte) (*tipping.ClaimAuthorization, error) {
	if s == nil || s.key == nil {
		return nil, ErrSignerNotConfigured
	}
	if session == nil {
		return nil, ErrUnauthenticated
	}
	handle, err := tipping.NormalizeHandle(session.Handle)
	if err != nil {
		return nil, err
	}
	nonce, err := tipping.NewNonce()
	if err != nil {
		return nil, err
	}
	signature, err := tipping.SignAuthorization(s.key, handle, wallet, nonce)
	if err != nil {
		return nil, err
	}
	return &tipping.ClaimAuthorization{
		Handle:    handle,
		Wallet:    wallet,
		Nonce:     nonce,
		Signature: signature,
		IssuedAt:  s.nowFn().Unix(),
	}, nil
}
