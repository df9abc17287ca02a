package token

import (
	"errors"
	"math/big"
	"sync"
)

var (
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrInvalidAmount         = errors.New("token: amount must be positive")
)

// Token is the fungible-token surface the ledger depends on. Deposits pull
// funds with TransferFrom (requires a prior Approve by the depositor) and
// claims pay out with Transfer.
type Token interface {
	Transfer(from, to [20]byte, amount *big.Int) error
	TransferFrom(spender, from, to [20]byte, amount *big.Int) error
	Approve(owner, spender [20]byte, amount *big.Int) error
	Allowance(owner, spender [20]byte) *big.Int
	BalanceOf(addr [20]byte) *big.Int
}

// Book is an in-process account book implementing Token. It stands in for
// the on-chain token contract the production system settles against.
type Book struct {
	mu         sync.Mutex
	balances   map[[20]byte]*big.Int
	allowances map[[20]byte]map[[20]byte]*big.Int
}

func NewBook() *Book {
	return &Book{
		balances:   make(map[[20]byte]*big.Int),
		allowances: make(map[[20]byte]map[[20]byte]*big.Int),
	}
}

// Mint credits freshly issued units to an address. Used by genesis wiring
// and tests.
func (b *Book) Mint(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credit(addr, amount)
	return nil
}

func (b *Book) Transfer(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.move(from, to, amount)
}

func (b *Book) TransferFrom(spender, from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	allowed := b.allowance(from, spender)
	if allowed.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	if err := b.move(from, to, amount); err != nil {
		return err
	}
	b.allowances[from][spender] = new(big.Int).Sub(allowed, amount)
	return nil
}

func (b *Book) Approve(owner, spender [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.allowances[owner] == nil {
		b.allowances[owner] = make(map[[20]byte]*big.Int)
	}
	b.allowances[owner][spender] = new(big.Int).Set(amount)
	return nil
}

func (b *Book) Allowance(owner, spender [20]byte) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.allowance(owner, spender))
}

func (b *Book) BalanceOf(addr [20]byte) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bal, ok := b.balances[addr]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

func (b *Book) allowance(owner, spender [20]byte) *big.Int {
	if m, ok := b.allowances[owner]; ok {
		if amt, ok := m[spender]; ok {
			return amt
		}
	}
	return big.NewInt(0)
}

func (b *Book) move(from, to [20]byte, amount *big.Int) error {
	bal, ok := b.balances[from]
	if !ok || bal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	b.balances[from] = new(big.Int).Sub(bal, amount)
	b.credit(to, amount)
	return nil
}

func (b *Book) credit(addr [20]byte, amount *big.Int) {
	if bal, ok := b.balances[addr]; ok {
		b.balances[addr] = new(big.Int).Add(bal, amount)
		return
	}
	b.balances[addr] = new(big.Int).Set(amount)
}
