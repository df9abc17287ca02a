package rpc

import (
	"context"
	"encoding/hex"
	"math/big"
	"net/http/httptest"
	"strings"
	"testing"

	"tipvault/core/events"
	"tipvault/core/state"
	"tipvault/crypto"
	"tipvault/native/tipping"
	"tipvault/native/token"
	"tipvault/storage"
)

type ledgerFixture struct {
	client *Client
	book   *token.Book
	oracle *crypto.PrivateKey
	vault  [20]byte
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	db := storage.NewMemDB()
	log := events.NewLog(db)
	oracleKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	fx := &ledgerFixture{
		book:   token.NewBook(),
		oracle: oracleKey,
		vault:  [20]byte{0xEE},
	}
	engine := tipping.NewEngine()
	engine.SetState(state.NewStore(db))
	engine.SetToken(fx.book)
	engine.SetEmitter(log)
	engine.SetVaultAddress(fx.vault)
	engine.SetOracle(oracleKey.PubKey().EthAddress())
	engine.SetFeeTreasury([20]byte{0xFF})
	engine.SetFeeConfig(tipping.FeeConfig{FeeBps: 100, MinimumTipAmount: big.NewInt(1)})

	server, err := NewServer(engine, log, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv := httptest.NewServer(server.Routes())
	t.Cleanup(srv.Close)
	fx.client = NewClient(srv.URL)
	return fx
}

func (fx *ledgerFixture) fund(t *testing.T, addr [20]byte, amount int64) {
	t.Helper()
	if err := fx.book.Mint(addr, big.NewInt(amount)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := fx.book.Approve(addr, fx.vault, big.NewInt(amount)); err != nil {
		t.Fatalf("approve: %v", err)
	}
}

func TestDepositClaimOverHTTP(t *testing.T) {
	fx := newLedgerFixture(t)
	ctx := context.Background()
	depositor := [20]byte{0x01}
	wallet := [20]byte{0xAB}
	fx.fund(t, depositor, 5_000_000)

	dep, err := fx.client.Deposit(ctx, DepositRequest{
		From:    "0x" + hex.EncodeToString(depositor[:]),
		Handle:  "alice",
		Amount:  "5000000",
		Message: "nice post",
	})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if dep.Net != "4950000" || dep.Fee != "50000" {
		t.Fatalf("deposit response = %+v", dep)
	}
	if dep.TxRef == "" || dep.BlockRef == 0 {
		t.Fatalf("deposit references missing: %+v", dep)
	}

	bal, err := fx.client.PendingBalance(ctx, "alice")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Pending != "4950000" {
		t.Fatalf("pending = %s, want 4950000", bal.Pending)
	}

	nonce, err := tipping.NewNonce()
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	sig, err := tipping.SignAuthorization(fx.oracle, "alice", wallet, nonce)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claim, err := fx.client.Claim(ctx, ClaimRequest{
		Handle:    "alice",
		Wallet:    "0x" + hex.EncodeToString(wallet[:]),
		Nonce:     hex.EncodeToString(nonce[:]),
		Signature: hex.EncodeToString(sig),
	})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claim.Amount != "4950000" {
		t.Fatalf("claim amount = %s, want 4950000", claim.Amount)
	}

	info, err := fx.client.HandleInfo(ctx, "alice")
	if err != nil {
		t.Fatalf("handle info: %v", err)
	}
	if info.Pending != "0" || info.TotalClaimed != "4950000" || info.TipCount != 1 {
		t.Fatalf("handle info = %+v", info)
	}
	if info.LinkedWallet != "0x"+hex.EncodeToString(wallet[:]) {
		t.Fatalf("linked wallet = %q", info.LinkedWallet)
	}
}

func TestClaimReplayOverHTTP(t *testing.T) {
	fx := newLedgerFixture(t)
	ctx := context.Background()
	depositor := [20]byte{0x01}
	wallet := [20]byte{0xAB}
	fx.fund(t, depositor, 2_000_000)

	if _, err := fx.client.Deposit(ctx, DepositRequest{
		From: "0x" + hex.EncodeToString(depositor[:]), Handle: "alice", Amount: "1000000",
	}); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	nonce, err := tipping.NewNonce()
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	sig, err := tipping.SignAuthorization(fx.oracle, "alice", wallet, nonce)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req := ClaimRequest{
		Handle:    "alice",
		Wallet:    "0x" + hex.EncodeToString(wallet[:]),
		Nonce:     hex.EncodeToString(nonce[:]),
		Signature: hex.EncodeToString(sig),
	}
	if _, err := fx.client.Claim(ctx, req); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if _, err := fx.client.Deposit(ctx, DepositRequest{
		From: "0x" + hex.EncodeToString(depositor[:]), Handle: "alice", Amount: "1000000",
	}); err != nil {
		t.Fatalf("second deposit: %v", err)
	}
	_, err = fx.client.Claim(ctx, req)
	if err == nil {
		t.Fatal("replayed claim accepted")
	}
	if !strings.Contains(err.Error(), "already claimed") {
		t.Fatalf("replay error = %v", err)
	}
}

func TestDepositValidationOverHTTP(t *testing.T) {
	fx := newLedgerFixture(t)
	ctx := context.Background()
	depositorAddr := bytesOf(0x01)
	depositor := "0x" + hex.EncodeToString(depositorAddr[:])

	if _, err := fx.client.Deposit(ctx, DepositRequest{From: "garbage", Handle: "alice", Amount: "100"}); err == nil {
		t.Fatal("bad from address accepted")
	}
	if _, err := fx.client.Deposit(ctx, DepositRequest{From: depositor, Handle: "alice", Amount: "1.5"}); err == nil {
		t.Fatal("non-integer amount accepted")
	}
	if _, err := fx.client.Deposit(ctx, DepositRequest{From: depositor, Handle: "bad handle!", Amount: "100"}); err == nil {
		t.Fatal("invalid handle accepted")
	}
}

func TestEventsReaderOverHTTP(t *testing.T) {
	fx := newLedgerFixture(t)
	ctx := context.Background()
	depositor := [20]byte{0x01}
	fx.fund(t, depositor, 3_000_000)
	for i := 0; i < 3; i++ {
		if _, err := fx.client.Deposit(ctx, DepositRequest{
			From: "0x" + hex.EncodeToString(depositor[:]), Handle: "alice", Amount: "1000000",
		}); err != nil {
			t.Fatalf("deposit %d: %v", i, err)
		}
	}

	head, err := fx.client.Head(ctx)
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head != 3 {
		t.Fatalf("head = %d, want 3", head)
	}
	recs, err := fx.client.Range(ctx, 1, head)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("range length = %d, want 3", len(recs))
	}
	for i, rec := range recs {
		if rec.Sequence != uint64(i+1) {
			t.Fatalf("recs[%d].Sequence = %d", i, rec.Sequence)
		}
		if rec.Type != tipping.EventTypeDeposited {
			t.Fatalf("recs[%d].Type = %q", i, rec.Type)
		}
		if rec.Attributes["handle"] != "alice" {
			t.Fatalf("recs[%d] handle = %q", i, rec.Attributes["handle"])
		}
	}
}

func TestRegisteredAndWalletLookups(t *testing.T) {
	fx := newLedgerFixture(t)
	ctx := context.Background()

	registered, err := fx.client.IsRegistered(ctx, "ghost")
	if err != nil {
		t.Fatalf("registered: %v", err)
	}
	if registered {
		t.Fatal("unknown handle reported registered")
	}
	linked, err := fx.client.LinkedWallet(ctx, "ghost")
	if err != nil {
		t.Fatalf("linked wallet: %v", err)
	}
	if linked.Linked || linked.Wallet != "" {
		t.Fatalf("linked wallet = %+v", linked)
	}
}

func bytesOf(fill byte) [20]byte {
	var out [20]byte
	for i := range out {
		out[i] = fill
	}
	return out
}
