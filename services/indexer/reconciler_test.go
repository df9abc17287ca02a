package indexer

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"tipvault/core/events"
	"tipvault/core/state"
	"tipvault/crypto"
	"tipvault/native/tipping"
	"tipvault/native/token"
	"tipvault/storage"
)

type fixture struct {
	rec    *Reconciler
	db     *gorm.DB
	log    *events.Log
	engine *tipping.Engine
	book   *token.Book
	oracle *crypto.PrivateKey
	vault  [20]byte
}

func newFixture(t *testing.T, maxRange uint64) *fixture {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	log := events.NewLog(storage.NewMemDB())
	oracleKey, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	fx := &fixture{
		db:     db,
		log:    log,
		book:   token.NewBook(),
		oracle: oracleKey,
		vault:  [20]byte{0xEE},
	}
	engine := tipping.NewEngine()
	engine.SetState(state.NewStore(storage.NewMemDB()))
	engine.SetToken(fx.book)
	engine.SetEmitter(log)
	engine.SetVaultAddress(fx.vault)
	engine.SetOracle(oracleKey.PubKey().EthAddress())
	engine.SetFeeTreasury([20]byte{0xFF})
	engine.SetFeeConfig(tipping.FeeConfig{FeeBps: 100, MinimumTipAmount: big.NewInt(1)})
	fx.engine = engine

	rec, err := New(Config{DB: db, Ledger: log, MaxRange: maxRange})
	require.NoError(t, err)
	fx.rec = rec
	return fx
}

func (fx *fixture) deposit(t *testing.T, from [20]byte, handle string, amount int64) {
	t.Helper()
	require.NoError(t, fx.book.Mint(from, big.NewInt(amount)))
	require.NoError(t, fx.book.Approve(from, fx.vault, big.NewInt(amount)))
	_, err := fx.engine.Deposit(from, handle, big.NewInt(amount), "")
	require.NoError(t, err)
}

func (fx *fixture) claim(t *testing.T, handle string, wallet [20]byte) {
	t.Helper()
	nonce, err := tipping.NewNonce()
	require.NoError(t, err)
	sig, err := tipping.SignAuthorization(fx.oracle, handle, wallet, nonce)
	require.NoError(t, err)
	_, err = fx.engine.Claim(handle, wallet, nonce, sig)
	require.NoError(t, err)
}

func (fx *fixture) resetCursor(t *testing.T) {
	t.Helper()
	err := fx.db.Model(&Cursor{}).Where("id = ?", cursorRowID).Update("last_processed", 0).Error
	require.NoError(t, err)
}

func TestSyncAppliesDeposits(t *testing.T) {
	fx := newFixture(t, 0)
	depositor := [20]byte{0x01}
	fx.deposit(t, depositor, "alice", 1_000_000)
	fx.deposit(t, depositor, "alice", 500_000)
	fx.deposit(t, depositor, "bob", 200_000)

	applied, err := fx.rec.Sync(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, applied)

	var tips int64
	require.NoError(t, fx.db.Model(&TipRecord{}).Count(&tips).Error)
	require.EqualValues(t, 3, tips)

	stats, err := fx.rec.Stats("alice")
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.TipCount)
	// 1% fee on each deposit.
	require.Equal(t, "1485000", stats.TotalReceived)

	wallet := &WalletStats{}
	require.NoError(t, fx.db.First(wallet, "wallet = ?", hex.EncodeToString(depositor[:])).Error)
	require.EqualValues(t, 3, wallet.TipsSent)
	require.Equal(t, "1700000", wallet.TotalSent)

	cursor, err := fx.rec.Cursor()
	require.NoError(t, err)
	require.EqualValues(t, 3, cursor)
}

func TestSyncIdempotentReplay(t *testing.T) {
	fx := newFixture(t, 0)
	depositor := [20]byte{0x01}
	wallet := [20]byte{0xAB}
	fx.deposit(t, depositor, "alice", 1_000_000)
	fx.claim(t, "alice", wallet)

	_, err := fx.rec.Sync(context.Background())
	require.NoError(t, err)
	first, err := fx.rec.Stats("alice")
	require.NoError(t, err)

	// Replaying the full range must change nothing: the upserts skip rows
	// that already exist and their aggregate deltas with them.
	fx.resetCursor(t)
	_, err = fx.rec.Sync(context.Background())
	require.NoError(t, err)
	second, err := fx.rec.Stats("alice")
	require.NoError(t, err)
	require.Equal(t, first.TipCount, second.TipCount)
	require.Equal(t, first.TotalReceived, second.TotalReceived)
	require.Equal(t, first.ClaimCount, second.ClaimCount)
	require.Equal(t, first.TotalClaimed, second.TotalClaimed)

	var claims int64
	require.NoError(t, fx.db.Model(&ClaimRecord{}).Count(&claims).Error)
	require.EqualValues(t, 1, claims)
}

func TestSyncBatchesByMaxRange(t *testing.T) {
	fx := newFixture(t, 2)
	depositor := [20]byte{0x01}
	for i := 0; i < 5; i++ {
		fx.deposit(t, depositor, "alice", 100_000)
	}

	applied, err := fx.rec.Sync(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, applied)
	cursor, err := fx.rec.Cursor()
	require.NoError(t, err)
	require.EqualValues(t, 2, cursor)

	for cursor < 5 {
		_, err := fx.rec.Sync(context.Background())
		require.NoError(t, err)
		next, err := fx.rec.Cursor()
		require.NoError(t, err)
		require.Greater(t, next, cursor, "cursor must advance each batch")
		cursor = next
	}
	stats, err := fx.rec.Stats("alice")
	require.NoError(t, err)
	require.EqualValues(t, 5, stats.TipCount)
}

func TestSyncNoNewEvents(t *testing.T) {
	fx := newFixture(t, 0)
	applied, err := fx.rec.Sync(context.Background())
	require.NoError(t, err)
	require.Zero(t, applied)
}

func TestMalformedEventQuarantined(t *testing.T) {
	fx := newFixture(t, 0)
	depositor := [20]byte{0x01}
	fx.deposit(t, depositor, "alice", 1_000_000)
	// An event the reconciler cannot parse sits between two good ones.
	_, err := fx.log.Append(&events.Event{
		Type:       tipping.EventTypeDeposited,
		Attributes: map[string]string{"handle": "mallory", "amount": "not-a-number"},
	})
	require.NoError(t, err)
	fx.deposit(t, depositor, "bob", 200_000)

	applied, err := fx.rec.Sync(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, applied)
	cursor, err := fx.rec.Cursor()
	require.NoError(t, err)
	require.EqualValues(t, 3, cursor)

	var quarantined []MalformedEvent
	require.NoError(t, fx.db.Find(&quarantined).Error)
	require.Len(t, quarantined, 1)
	require.EqualValues(t, 2, quarantined[0].Sequence)

	// Both well-formed neighbors still landed.
	var tips int64
	require.NoError(t, fx.db.Model(&TipRecord{}).Count(&tips).Error)
	require.EqualValues(t, 2, tips)
}

func TestUnknownEventTypeQuarantined(t *testing.T) {
	fx := newFixture(t, 0)
	_, err := fx.log.Append(&events.Event{Type: "governance.vote", Attributes: map[string]string{}})
	require.NoError(t, err)
	_, err = fx.rec.Sync(context.Background())
	require.NoError(t, err)

	var count int64
	require.NoError(t, fx.db.Model(&MalformedEvent{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

type failingReader struct{}

func (failingReader) Head(context.Context) (uint64, error) {
	return 0, errors.New("ledger unreachable")
}

func (failingReader) Range(context.Context, uint64, uint64) ([]events.Recorded, error) {
	return nil, errors.New("ledger unreachable")
}

func TestFetchFailureLeavesCursor(t *testing.T) {
	fx := newFixture(t, 0)
	depositor := [20]byte{0x01}
	fx.deposit(t, depositor, "alice", 1_000_000)
	_, err := fx.rec.Sync(context.Background())
	require.NoError(t, err)
	before, err := fx.rec.Cursor()
	require.NoError(t, err)

	broken, err := New(Config{DB: fx.db, Ledger: failingReader{}})
	require.NoError(t, err)
	_, err = broken.Sync(context.Background())
	require.Error(t, err)

	after, err := fx.rec.Cursor()
	require.NoError(t, err)
	require.Equal(t, before, after, "fetch failure must not move the cursor")
}

func TestRebuildRepairsDrift(t *testing.T) {
	fx := newFixture(t, 0)
	depositor := [20]byte{0x01}
	wallet := [20]byte{0xAB}
	fx.deposit(t, depositor, "alice", 1_000_000)
	fx.deposit(t, depositor, "alice", 500_000)
	fx.claim(t, "alice", wallet)
	_, err := fx.rec.Sync(context.Background())
	require.NoError(t, err)
	want, err := fx.rec.Stats("alice")
	require.NoError(t, err)

	// Simulate aggregate drift, then rebuild from the raw records.
	err = fx.db.Model(&HandleStats{}).Where("handle = ?", "alice").
		Updates(map[string]any{"tip_count": 99, "total_received": "1"}).Error
	require.NoError(t, err)
	require.NoError(t, fx.rec.Rebuild(context.Background()))

	got, err := fx.rec.Stats("alice")
	require.NoError(t, err)
	require.Equal(t, want.TipCount, got.TipCount)
	require.Equal(t, want.TotalReceived, got.TotalReceived)
	require.Equal(t, want.ClaimCount, got.ClaimCount)
	require.Equal(t, want.TotalClaimed, got.TotalClaimed)
	require.Equal(t, hex.EncodeToString(wallet[:]), got.LinkedWallet)
}

func TestClaimAndLinkAggregation(t *testing.T) {
	fx := newFixture(t, 0)
	depositor := [20]byte{0x01}
	wallet := [20]byte{0xAB}
	fx.deposit(t, depositor, "alice", 1_000_000)
	fx.claim(t, "alice", wallet)
	_, err := fx.rec.Sync(context.Background())
	require.NoError(t, err)

	stats, err := fx.rec.Stats("alice")
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.ClaimCount)
	require.Equal(t, "990000", stats.TotalClaimed)
	require.Equal(t, hex.EncodeToString(wallet[:]), stats.LinkedWallet)

	payout := &WalletStats{}
	require.NoError(t, fx.db.First(payout, "wallet = ?", hex.EncodeToString(wallet[:])).Error)
	require.EqualValues(t, 1, payout.ClaimCount)
	require.Equal(t, "990000", payout.TotalClaimed)
}

func TestStatsUnknownHandle(t *testing.T) {
	fx := newFixture(t, 0)
	stats, err := fx.rec.Stats("ghost")
	require.NoError(t, err)
	require.Zero(t, stats.TipCount)
	require.Equal(t, "0", stats.TotalReceived)
	require.Equal(t, "0", stats.TotalClaimed)
}

func TestRecentTipsAndTopHandles(t *testing.T) {
	fx := newFixture(t, 0)
	depositor := [20]byte{0x01}
	fx.deposit(t, depositor, "alice", 100_000)
	fx.deposit(t, depositor, "bob", 200_000)
	fx.deposit(t, depositor, "alice", 300_000)
	_, err := fx.rec.Sync(context.Background())
	require.NoError(t, err)

	recent, err := fx.rec.RecentTips(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.EqualValues(t, 3, recent[0].Sequence)
	require.EqualValues(t, 2, recent[1].Sequence)

	top, err := fx.rec.TopHandles(10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	require.Equal(t, "alice", top[0].Handle)
	require.EqualValues(t, 2, top[0].TipCount)
}

func TestRunStopsOnCancel(t *testing.T) {
	fx := newFixture(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fx.rec.Run(ctx, 10*time.Millisecond) }()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}
