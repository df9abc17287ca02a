package state

import (
	"math/big"
	"testing"

	"tipvault/crypto"
	"tipvault/native/tipping"
	"tipvault/native/token"
	"tipvault/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(storage.NewMemDB())
}

func TestHandleRoundTrip(t *testing.T) {
	store := newTestStore(t)

	_, ok, err := store.HandleGet("alice")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if ok {
		t.Fatal("found account before any put")
	}

	acc := &tipping.HandleAccount{
		Handle:         "alice",
		PendingBalance: big.NewInt(990_000),
		LinkedWallet:   [20]byte{0xAB},
		WalletLinked:   true,
		Registered:     true,
		TotalReceived:  big.NewInt(990_000),
		TotalClaimed:   big.NewInt(0),
		TipCount:       1,
	}
	if err := store.HandlePut(acc); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := store.HandleGet("alice")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.PendingBalance.Cmp(acc.PendingBalance) != 0 {
		t.Fatalf("pending = %s, want %s", got.PendingBalance, acc.PendingBalance)
	}
	if got.LinkedWallet != acc.LinkedWallet || !got.WalletLinked {
		t.Fatal("linked wallet not round-tripped")
	}
	if got.TipCount != 1 || !got.Registered {
		t.Fatal("counters not round-tripped")
	}
}

func TestTipAppendAndHistory(t *testing.T) {
	store := newTestStore(t)
	for i := int64(1); i <= 5; i++ {
		tip := &tipping.Tip{
			TxRef:       [32]byte{byte(i)},
			ToHandle:    "alice",
			GrossAmount: big.NewInt(i * 100),
			Fee:         big.NewInt(i),
			NetAmount:   big.NewInt(i*100 - i),
			Timestamp:   1_700_000_000 + i,
			BlockRef:    uint64(i),
		}
		if err := store.TipAppend(tip); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	page, err := store.TipHistory("alice", 0, 3)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(page) != 3 {
		t.Fatalf("page length = %d, want 3", len(page))
	}
	for i, tip := range page {
		if tip.BlockRef != uint64(i+1) {
			t.Fatalf("page[%d].BlockRef = %d, want %d", i, tip.BlockRef, i+1)
		}
	}

	tail, err := store.TipHistory("alice", 3, 10)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(tail) != 2 {
		t.Fatalf("tail length = %d, want 2", len(tail))
	}
	if tail[0].BlockRef != 4 || tail[1].BlockRef != 5 {
		t.Fatalf("tail refs = %d,%d, want 4,5", tail[0].BlockRef, tail[1].BlockRef)
	}

	empty, err := store.TipHistory("alice", 99, 10)
	if err != nil {
		t.Fatalf("past-end history: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("past-end length = %d, want 0", len(empty))
	}
}

func TestTipsAllWalksEveryHandle(t *testing.T) {
	store := newTestStore(t)
	handles := []string{"alice", "bob", "carol"}
	for _, h := range handles {
		tip := &tipping.Tip{ToHandle: h, GrossAmount: big.NewInt(100), Fee: big.NewInt(1), NetAmount: big.NewInt(99)}
		if err := store.TipAppend(tip); err != nil {
			t.Fatalf("append %s: %v", h, err)
		}
	}
	seen := make(map[string]int)
	if err := store.TipsAll(func(tip *tipping.Tip) bool {
		seen[tip.ToHandle]++
		return true
	}); err != nil {
		t.Fatalf("walk: %v", err)
	}
	for _, h := range handles {
		if seen[h] != 1 {
			t.Fatalf("handle %s seen %d times, want 1", h, seen[h])
		}
	}
}

func TestNonceConsumption(t *testing.T) {
	store := newTestStore(t)
	nonce := [32]byte{0x01, 0x02}
	used, err := store.NonceConsumed(nonce)
	if err != nil {
		t.Fatalf("check fresh: %v", err)
	}
	if used {
		t.Fatal("fresh nonce reported consumed")
	}
	if err := store.NonceConsume(nonce); err != nil {
		t.Fatalf("consume: %v", err)
	}
	used, err = store.NonceConsumed(nonce)
	if err != nil {
		t.Fatalf("check consumed: %v", err)
	}
	if !used {
		t.Fatal("consumed nonce reported fresh")
	}
}

func TestNextSequenceMonotonic(t *testing.T) {
	store := newTestStore(t)
	for want := uint64(1); want <= 3; want++ {
		seq, err := store.NextSequence()
		if err != nil {
			t.Fatalf("next sequence: %v", err)
		}
		if seq != want {
			t.Fatalf("sequence = %d, want %d", seq, want)
		}
	}
}

func TestFeesRoundTrip(t *testing.T) {
	store := newTestStore(t)
	fees, err := store.FeesAccrued()
	if err != nil {
		t.Fatalf("initial fees: %v", err)
	}
	if fees.Sign() != 0 {
		t.Fatalf("initial fees = %s, want 0", fees)
	}
	if err := store.FeesSet(big.NewInt(10_000)); err != nil {
		t.Fatalf("set: %v", err)
	}
	fees, err = store.FeesAccrued()
	if err != nil {
		t.Fatalf("fees after set: %v", err)
	}
	if fees.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("fees = %s, want 10000", fees)
	}
	if err := store.FeesSet(big.NewInt(-1)); err == nil {
		t.Fatal("negative fees accepted")
	}
}

func TestStoreDrivesEngine(t *testing.T) {
	store := newTestStore(t)
	book := token.NewBook()
	oracleKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	vault := [20]byte{0xEE}
	depositor := [20]byte{0x01}
	wallet := [20]byte{0xAB}

	engine := tipping.NewEngine()
	engine.SetState(store)
	engine.SetToken(book)
	engine.SetVaultAddress(vault)
	engine.SetOracle(oracleKey.PubKey().EthAddress())
	engine.SetFeeTreasury([20]byte{0xFF})
	engine.SetFeeConfig(tipping.FeeConfig{FeeBps: 100, MinimumTipAmount: big.NewInt(1)})

	if err := book.Mint(depositor, big.NewInt(5_000_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := book.Approve(depositor, vault, big.NewInt(5_000_000)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := engine.Deposit(depositor, "alice", big.NewInt(5_000_000), "nice post"); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	pending, err := engine.PendingBalance("alice")
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if pending.Cmp(big.NewInt(4_950_000)) != 0 {
		t.Fatalf("pending = %s, want 4950000", pending)
	}

	nonce, err := tipping.NewNonce()
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	sig, err := tipping.SignAuthorization(oracleKey, "alice", wallet, nonce)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	paid, err := engine.Claim("alice", wallet, nonce, sig)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if paid.Cmp(big.NewInt(4_950_000)) != 0 {
		t.Fatalf("payout = %s, want 4950000", paid)
	}
	pending, err = engine.PendingBalance("alice")
	if err != nil {
		t.Fatalf("pending after claim: %v", err)
	}
	if pending.Sign() != 0 {
		t.Fatalf("pending = %s after claim, want 0", pending)
	}
}
