package tipping

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	handleMinLength  = 1
	handleMaxLength  = 15
	messageMaxLength = 280

	// feeDenominator converts basis points into a fraction.
	feeDenominator = 10_000
)

var handlePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

var (
	// ErrInvalidHandle is returned when a handle violates the naming rules.
	ErrInvalidHandle = errors.New("tipping: invalid handle")
	// ErrMessageTooLong is returned when a tip message exceeds the bound.
	ErrMessageTooLong = errors.New("tipping: message too long")
	// ErrBelowMinimum is returned when a deposit is under the configured floor.
	ErrBelowMinimum = errors.New("tipping: amount below minimum")
	// ErrTransferFailed wraps token collaborator failures during a deposit pull.
	ErrTransferFailed = errors.New("tipping: token transfer failed")
	// ErrInvalidSignature is returned when a claim authorization was not
	// signed by the configured oracle key.
	ErrInvalidSignature = errors.New("tipping: invalid authorization signature")
	// ErrNonceAlreadyUsed is returned when an authorization nonce was
	// consumed by a prior claim.
	ErrNonceAlreadyUsed = errors.New("tipping: nonce already used")
	// ErrNothingToClaim is returned when the handle has no pending balance.
	ErrNothingToClaim = errors.New("tipping: nothing to claim")
	// ErrWalletMismatch is returned when a claim targets a wallet other than
	// the one already linked to the handle.
	ErrWalletMismatch = errors.New("tipping: wallet already linked to a different address")
)

// NormalizeHandle lowercases and validates the supplied handle. Handles
// follow the platform's username rules: 1-15 characters from [a-z0-9_].
func NormalizeHandle(handle string) (string, error) {
	lower := strings.ToLower(strings.TrimSpace(handle))
	if len(lower) < handleMinLength || len(lower) > handleMaxLength {
		return "", fmt.Errorf("%w: must be between %d and %d characters", ErrInvalidHandle, handleMinLength, handleMaxLength)
	}
	if !handlePattern.MatchString(lower) {
		return "", fmt.Errorf("%w: allowed characters are [a-z0-9_]", ErrInvalidHandle)
	}
	return lower, nil
}

// HandleHash returns the keccak hash of the normalized handle, used as the
// indexed key in emitted events.
func HandleHash(handle string) [32]byte {
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256([]byte(handle)))
	return out
}

// HandleAccount tracks the escrow state for one handle.
type HandleAccount struct {
	Handle         string   `json:"handle"`
	PendingBalance *big.Int `json:"pendingBalance"`
	LinkedWallet   [20]byte `json:"linkedWallet"`
	WalletLinked   bool     `json:"walletLinked"`
	Registered     bool     `json:"registered"`
	TotalReceived  *big.Int `json:"totalReceived"`
	TotalClaimed   *big.Int `json:"totalClaimed"`
	TipCount       uint64   `json:"tipCount"`
}

func (a *HandleAccount) Clone() *HandleAccount {
	if a == nil {
		return nil
	}
	out := *a
	out.PendingBalance = cloneBigInt(a.PendingBalance)
	out.TotalReceived = cloneBigInt(a.TotalReceived)
	out.TotalClaimed = cloneBigInt(a.TotalClaimed)
	return &out
}

// Tip is an immutable record of a single deposit. Created once inside
// Deposit, never mutated or deleted afterwards.
type Tip struct {
	TxRef       [32]byte `json:"txRef"`
	FromAddress [20]byte `json:"fromAddress"`
	ToHandle    string   `json:"toHandle"`
	GrossAmount *big.Int `json:"grossAmount"`
	Fee         *big.Int `json:"fee"`
	NetAmount   *big.Int `json:"netAmount"`
	Message     string   `json:"message"`
	Timestamp   int64    `json:"timestamp"`
	BlockRef    uint64   `json:"blockRef"`
}

func (t *Tip) Clone() *Tip {
	if t == nil {
		return nil
	}
	out := *t
	out.GrossAmount = cloneBigInt(t.GrossAmount)
	out.Fee = cloneBigInt(t.Fee)
	out.NetAmount = cloneBigInt(t.NetAmount)
	return &out
}

// FeeConfig is the read-only platform fee configuration consumed by the
// engine.
type FeeConfig struct {
	FeeBps           uint32
	MinimumTipAmount *big.Int
}

// FeeFor computes the platform cut for a gross amount: amount*bps/10000,
// truncated.
func (c FeeConfig) FeeFor(amount *big.Int) *big.Int {
	fee := new(big.Int).Mul(cloneBigInt(amount), new(big.Int).SetUint64(uint64(c.FeeBps)))
	return fee.Div(fee, big.NewInt(feeDenominator))
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
