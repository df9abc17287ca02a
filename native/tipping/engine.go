package tipping

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"tipvault/core/events"
	"tipvault/native/token"
)

var (
	errNilState  = errors.New("tipping engine: state not configured")
	errNilToken  = errors.New("tipping engine: token not configured")
	errNilOracle = errors.New("tipping engine: oracle address not configured")
	errNilVault  = errors.New("tipping engine: vault address not configured")
)

// engineState abstracts the persistence the engine mutates. Implementations
// live in core/state; tests provide in-memory mocks.
type engineState interface {
	HandleGet(handle string) (*HandleAccount, bool, error)
	HandlePut(*HandleAccount) error
	TipAppend(*Tip) error
	TipHistory(handle string, offset, limit int) ([]*Tip, error)
	TipsAll(fn func(*Tip) bool) error
	NonceConsumed(nonce [32]byte) (bool, error)
	NonceConsume(nonce [32]byte) error
	NextSequence() (uint64, error)
	FeesAccrued() (*big.Int, error)
	FeesSet(*big.Int) error
}

// Engine is the authoritative escrow state machine. Deposits credit a
// handle's pending balance; a claim carrying a valid oracle authorization
// pays the entire balance out to the claimant's wallet.
//
// Deposit and Claim are serialized behind one mutex: the conservation
// invariant (pending balance == net deposits - claims) depends on mutations
// never interleaving.
type Engine struct {
	mu          sync.Mutex
	state       engineState
	token       token.Token
	emitter     events.Emitter
	vault       [20]byte
	oracle      [20]byte
	feeTreasury [20]byte
	feeCfg      FeeConfig
	allowRelink bool
	nowFn       func() int64
}

// NewEngine creates a tipping engine with a no-op emitter. Callers override
// the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		feeCfg:  FeeConfig{MinimumTipAmount: big.NewInt(1)},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetToken configures the fungible-token collaborator.
func (e *Engine) SetToken(tok token.Token) { e.token = tok }

// SetVaultAddress configures the escrow vault that custody deposits.
func (e *Engine) SetVaultAddress(addr [20]byte) { e.vault = addr }

// SetOracle configures the address whose signatures authorize claims.
func (e *Engine) SetOracle(addr [20]byte) { e.oracle = addr }

// SetFeeTreasury configures the address receiving swept platform fees.
func (e *Engine) SetFeeTreasury(addr [20]byte) { e.feeTreasury = addr }

// SetFeeConfig configures the platform fee policy.
func (e *Engine) SetFeeConfig(cfg FeeConfig) {
	if cfg.MinimumTipAmount == nil {
		cfg.MinimumTipAmount = big.NewInt(1)
	}
	e.feeCfg = cfg
}

// SetAllowRelink toggles whether a claim may rebind an already-linked
// wallet. Disabled unless governance explicitly turns it on.
func (e *Engine) SetAllowRelink(allow bool) { e.allowRelink = allow }

// SetNowFunc overrides the time source used by the engine. Primarily
// intended for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *events.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(event)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ensureConfigured() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.token == nil {
		return errNilToken
	}
	if e.vault == ([20]byte{}) {
		return errNilVault
	}
	return nil
}

func (e *Engine) loadAccount(handle string) (*HandleAccount, bool, error) {
	acc, ok, err := e.state.HandleGet(handle)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return &HandleAccount{
			Handle:         handle,
			PendingBalance: big.NewInt(0),
			TotalReceived:  big.NewInt(0),
			TotalClaimed:   big.NewInt(0),
		}, false, nil
	}
	return ensureAccount(acc), true, nil
}

func ensureAccount(acc *HandleAccount) *HandleAccount {
	if acc.PendingBalance == nil {
		acc.PendingBalance = big.NewInt(0)
	}
	if acc.TotalReceived == nil {
		acc.TotalReceived = big.NewInt(0)
	}
	if acc.TotalClaimed == nil {
		acc.TotalClaimed = big.NewInt(0)
	}
	return acc
}

// Deposit pulls amount from the depositor's token balance (the depositor
// must have approved the vault beforehand), credits the net amount to the
// handle's pending balance, and records an immutable Tip. The token pull is
// the external call, so it happens before any state mutation.
func (e *Engine) Deposit(from [20]byte, handle string, amount *big.Int, message string) (*Tip, error) {
	if err := e.ensureConfigured(); err != nil {
		return nil, err
	}
	normalized, err := NormalizeHandle(handle)
	if err != nil {
		return nil, err
	}
	if len(message) > messageMaxLength {
		return nil, fmt.Errorf("%w: %d > %d characters", ErrMessageTooLong, len(message), messageMaxLength)
	}
	amt := cloneBigInt(amount)
	if e.feeCfg.MinimumTipAmount != nil && amt.Cmp(e.feeCfg.MinimumTipAmount) < 0 {
		return nil, fmt.Errorf("%w: %s < %s", ErrBelowMinimum, amt, e.feeCfg.MinimumTipAmount)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// External call first: pull the gross amount into the vault.
	if err := e.token.TransferFrom(e.vault, from, e.vault, amt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	fee := e.feeCfg.FeeFor(amt)
	net := new(big.Int).Sub(amt, fee)

	acc, _, err := e.loadAccount(normalized)
	if err != nil {
		return nil, err
	}
	seq, err := e.state.NextSequence()
	if err != nil {
		return nil, err
	}
	now := e.now()
	tip := &Tip{
		TxRef:       depositTxRef(normalized, from, seq),
		FromAddress: from,
		ToHandle:    normalized,
		GrossAmount: amt,
		Fee:         fee,
		NetAmount:   net,
		Message:     message,
		Timestamp:   now,
		BlockRef:    seq,
	}
	acc.Registered = true
	acc.PendingBalance = new(big.Int).Add(acc.PendingBalance, net)
	acc.TotalReceived = new(big.Int).Add(acc.TotalReceived, net)
	acc.TipCount++
	if err := e.state.TipAppend(tip); err != nil {
		return nil, err
	}
	if err := e.state.HandlePut(acc); err != nil {
		return nil, err
	}
	if fee.Sign() > 0 {
		accrued, err := e.state.FeesAccrued()
		if err != nil {
			return nil, err
		}
		if err := e.state.FeesSet(new(big.Int).Add(accrued, fee)); err != nil {
			return nil, err
		}
	}
	e.emit(NewDepositedEvent(tip))
	return tip.Clone(), nil
}

// Claim verifies an oracle-signed authorization and pays the handle's
// entire pending balance out to the wallet. Partial withdrawals are not
// supported: a successful claim always leaves the balance at exactly zero.
func (e *Engine) Claim(handle string, wallet [20]byte, nonce [32]byte, signature []byte) (*big.Int, error) {
	if err := e.ensureConfigured(); err != nil {
		return nil, err
	}
	if e.oracle == ([20]byte{}) {
		return nil, errNilOracle
	}
	normalized, err := NormalizeHandle(handle)
	if err != nil {
		return nil, err
	}
	signer, err := RecoverAuthorizer(normalized, wallet, nonce, signature)
	if err != nil {
		return nil, err
	}
	if signer != e.oracle {
		return nil, ErrInvalidSignature
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	used, err := e.state.NonceConsumed(nonce)
	if err != nil {
		return nil, err
	}
	if used {
		return nil, ErrNonceAlreadyUsed
	}
	acc, ok, err := e.loadAccount(normalized)
	if err != nil {
		return nil, err
	}
	if !ok || acc.PendingBalance.Sign() == 0 {
		return nil, ErrNothingToClaim
	}
	firstBind := !acc.WalletLinked
	if acc.WalletLinked && acc.LinkedWallet != wallet && !e.allowRelink {
		return nil, ErrWalletMismatch
	}

	payout := new(big.Int).Set(acc.PendingBalance)
	if err := e.token.Transfer(e.vault, wallet, payout); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	acc.PendingBalance = big.NewInt(0)
	acc.TotalClaimed = new(big.Int).Add(acc.TotalClaimed, payout)
	acc.LinkedWallet = wallet
	acc.WalletLinked = true
	if err := e.state.HandlePut(acc); err != nil {
		return nil, err
	}
	if err := e.state.NonceConsume(nonce); err != nil {
		return nil, err
	}
	if firstBind {
		e.emit(NewWalletLinkedEvent(normalized, wallet))
	}
	e.emit(NewClaimedEvent(normalized, wallet, payout, e.now()))
	return payout, nil
}

// WithdrawFees sweeps the accrued platform fees to the configured treasury.
func (e *Engine) WithdrawFees() (*big.Int, error) {
	if err := e.ensureConfigured(); err != nil {
		return nil, err
	}
	if e.feeTreasury == ([20]byte{}) {
		return nil, errors.New("tipping engine: fee treasury not configured")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	accrued, err := e.state.FeesAccrued()
	if err != nil {
		return nil, err
	}
	if accrued.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if err := e.token.Transfer(e.vault, e.feeTreasury, accrued); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.state.FeesSet(big.NewInt(0)); err != nil {
		return nil, err
	}
	return accrued, nil
}

// --- Reads (no side effects) ---

// PendingBalance returns the unclaimed balance for a handle, zero when the
// handle is unknown.
func (e *Engine) PendingBalance(handle string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	normalized, err := NormalizeHandle(handle)
	if err != nil {
		return nil, err
	}
	acc, _, err := e.loadAccount(normalized)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(acc.PendingBalance), nil
}

// HandleInfo returns a copy of the handle's full escrow record.
func (e *Engine) HandleInfo(handle string) (*HandleAccount, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	normalized, err := NormalizeHandle(handle)
	if err != nil {
		return nil, err
	}
	acc, _, err := e.loadAccount(normalized)
	if err != nil {
		return nil, err
	}
	return acc.Clone(), nil
}

// TipHistory returns the handle's tips in chronological order. Pagination is
// by insertion index, so pages are stable under concurrent deposits.
func (e *Engine) TipHistory(handle string, offset, limit int) ([]*Tip, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	normalized, err := NormalizeHandle(handle)
	if err != nil {
		return nil, err
	}
	if offset < 0 || limit < 0 {
		return nil, fmt.Errorf("tipping: offset and limit must be non-negative")
	}
	return e.state.TipHistory(normalized, offset, limit)
}

// LinkedWallet returns the wallet pinned to the handle, if any.
func (e *Engine) LinkedWallet(handle string) ([20]byte, bool, error) {
	if e == nil || e.state == nil {
		return [20]byte{}, false, errNilState
	}
	normalized, err := NormalizeHandle(handle)
	if err != nil {
		return [20]byte{}, false, err
	}
	acc, ok, err := e.loadAccount(normalized)
	if err != nil || !ok {
		return [20]byte{}, false, err
	}
	return acc.LinkedWallet, acc.WalletLinked, nil
}

// IsRegistered reports whether the handle has ever received a tip.
func (e *Engine) IsRegistered(handle string) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	normalized, err := NormalizeHandle(handle)
	if err != nil {
		return false, err
	}
	_, ok, err := e.state.HandleGet(normalized)
	return ok, err
}

// CollectedFees returns the platform fees accrued and not yet swept.
func (e *Engine) CollectedFees() (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.FeesAccrued()
}

func depositTxRef(handle string, from [20]byte, seq uint64) [32]byte {
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256([]byte(handle), from[:], seqBuf[:]))
	return out
}
