package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tipvault/core/events"
	"tipvault/native/tipping"
)

const (
	defaultMaxRange     = 1000
	defaultFetchTimeout = 10 * time.Second
	defaultBackoff      = time.Second
	maxBackoff          = time.Minute
)

// Config captures the dependencies required to construct a Reconciler.
type Config struct {
	DB           *gorm.DB
	Ledger       events.Reader
	MaxRange     uint64
	FetchTimeout time.Duration
	Backoff      time.Duration
	Now          func() time.Time
	Logger       *slog.Logger
	Metrics      *Metrics
}

// Reconciler mirrors the ledger's event log into the read cache. The cache
// is never authoritative: every row is derivable by replaying the log from
// genesis, and Rebuild does exactly that for the aggregates.
//
// A deployment must run at most one active Reconciler per cache. Concurrent
// instances can advance the cursor past unprocessed ranges or double-apply
// aggregate deltas; mutual exclusion is an operational requirement, not
// something the type enforces.
type Reconciler struct {
	db           *gorm.DB
	ledger       events.Reader
	maxRange     uint64
	fetchTimeout time.Duration
	backoff      time.Duration
	now          func() time.Time
	logger       *slog.Logger
	metrics      *Metrics
}

func New(cfg Config) (*Reconciler, error) {
	if cfg.DB == nil {
		return nil, errors.New("indexer: db required")
	}
	if cfg.Ledger == nil {
		return nil, errors.New("indexer: ledger reader required")
	}
	r := &Reconciler{
		db:           cfg.DB,
		ledger:       cfg.Ledger,
		maxRange:     cfg.MaxRange,
		fetchTimeout: cfg.FetchTimeout,
		backoff:      cfg.Backoff,
		now:          cfg.Now,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
	}
	if r.maxRange == 0 {
		r.maxRange = defaultMaxRange
	}
	if r.fetchTimeout <= 0 {
		r.fetchTimeout = defaultFetchTimeout
	}
	if r.backoff <= 0 {
		r.backoff = defaultBackoff
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r, nil
}

// Cursor returns the last durably processed sequence number.
func (r *Reconciler) Cursor() (uint64, error) {
	cursor, err := r.loadCursor(r.db)
	if err != nil {
		return 0, err
	}
	return cursor.LastProcessed, nil
}

func (r *Reconciler) loadCursor(db *gorm.DB) (*Cursor, error) {
	cursor := &Cursor{ID: cursorRowID}
	if err := db.FirstOrCreate(cursor, Cursor{ID: cursorRowID}).Error; err != nil {
		return nil, fmt.Errorf("indexer: load cursor: %w", err)
	}
	return cursor, nil
}

// Sync runs one incremental cycle: fetch the next bounded event range,
// apply it, and advance the cursor. The batch and the cursor move in a
// single transaction, so a crash mid-batch retries the identical range and
// the idempotent upserts make the retry a no-op. A fetch failure leaves the
// cursor untouched. Returns the number of events applied.
func (r *Reconciler) Sync(ctx context.Context) (int, error) {
	cursor, err := r.loadCursor(r.db)
	if err != nil {
		return 0, err
	}
	fetchCtx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	defer cancel()
	head, err := r.ledger.Head(fetchCtx)
	if err != nil {
		return 0, fmt.Errorf("indexer: fetch head: %w", err)
	}
	if head <= cursor.LastProcessed {
		return 0, nil
	}
	from := cursor.LastProcessed + 1
	to := head
	if span := cursor.LastProcessed + r.maxRange; to > span {
		to = span
	}
	recs, err := r.ledger.Range(fetchCtx, from, to)
	if err != nil {
		return 0, fmt.Errorf("indexer: fetch range [%d,%d]: %w", from, to, err)
	}
	applied := 0
	err = r.db.Transaction(func(tx *gorm.DB) error {
		for i := range recs {
			if err := r.applyEvent(tx, &recs[i]); err != nil {
				return err
			}
			applied++
		}
		res := tx.Model(&Cursor{}).
			Where("id = ? AND last_processed < ?", cursorRowID, to).
			Updates(map[string]any{"last_processed": to, "updated_at": r.now()})
		if res.Error != nil {
			return fmt.Errorf("indexer: advance cursor: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// Another writer moved the cursor ahead; this instance must stop.
			return fmt.Errorf("indexer: cursor advanced concurrently, refusing to regress")
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	r.metrics.observeBatch(to)
	r.logger.Info("sync batch committed", "from", from, "to", to, "events", applied)
	return applied, nil
}

// Run polls the ledger until the context is cancelled, backing off
// exponentially on errors.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	backoff := r.backoff
	for {
		if _, err := r.Sync(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Error("sync failed", "err", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = r.backoff
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// applyEvent upserts the normalized record for one event and folds it into
// the derived aggregates. Events that cannot be parsed are quarantined and
// skipped: the cache is non-authoritative, so halting all stats on one bad
// event would be strictly worse than recording it for repair.
func (r *Reconciler) applyEvent(tx *gorm.DB, rec *events.Recorded) error {
	switch rec.Type {
	case tipping.EventTypeDeposited:
		row, err := parseDeposit(rec)
		if err != nil {
			return r.quarantine(tx, rec, err)
		}
		return r.applyDeposit(tx, row)
	case tipping.EventTypeClaimed:
		row, err := parseClaim(rec)
		if err != nil {
			return r.quarantine(tx, rec, err)
		}
		return r.applyClaim(tx, row)
	case tipping.EventTypeWalletLinked:
		row, err := parseWalletLink(rec)
		if err != nil {
			return r.quarantine(tx, rec, err)
		}
		return r.applyWalletLink(tx, row)
	default:
		return r.quarantine(tx, rec, fmt.Errorf("unknown event type %q", rec.Type))
	}
}

func (r *Reconciler) quarantine(tx *gorm.DB, rec *events.Recorded, cause error) error {
	payload, _ := json.Marshal(rec.Attributes)
	row := MalformedEvent{
		Sequence:  rec.Sequence,
		EventType: rec.Type,
		Detail:    cause.Error(),
		Payload:   string(payload),
		CreatedAt: r.now(),
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("indexer: quarantine event %d: %w", rec.Sequence, err)
	}
	r.metrics.observeMalformed()
	r.logger.Warn("malformed event quarantined", "sequence", rec.Sequence, "type", rec.Type, "err", cause)
	return nil
}

func (r *Reconciler) applyDeposit(tx *gorm.DB, row *TipRecord) error {
	row.CreatedAt = r.now()
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if res.Error != nil {
		return fmt.Errorf("indexer: upsert tip %s: %w", row.TxRef, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil // already applied in a previous batch
	}
	handle := &HandleStats{Handle: row.Handle}
	if err := tx.FirstOrCreate(handle, HandleStats{Handle: row.Handle}).Error; err != nil {
		return fmt.Errorf("indexer: load handle stats %q: %w", row.Handle, err)
	}
	handle.TipCount++
	handle.TotalReceived = addDecimal(handle.TotalReceived, row.NetAmount)
	if row.Timestamp > handle.LastTipAt {
		handle.LastTipAt = row.Timestamp
	}
	handle.UpdatedAt = r.now()
	if err := tx.Save(handle).Error; err != nil {
		return fmt.Errorf("indexer: save handle stats %q: %w", row.Handle, err)
	}
	wallet := &WalletStats{Wallet: row.Depositor}
	if err := tx.FirstOrCreate(wallet, WalletStats{Wallet: row.Depositor}).Error; err != nil {
		return fmt.Errorf("indexer: load wallet stats %q: %w", row.Depositor, err)
	}
	wallet.TipsSent++
	wallet.TotalSent = addDecimal(wallet.TotalSent, row.GrossAmount)
	wallet.UpdatedAt = r.now()
	if err := tx.Save(wallet).Error; err != nil {
		return fmt.Errorf("indexer: save wallet stats %q: %w", row.Depositor, err)
	}
	r.metrics.observeProcessed(tipping.EventTypeDeposited)
	return nil
}

func (r *Reconciler) applyClaim(tx *gorm.DB, row *ClaimRecord) error {
	row.CreatedAt = r.now()
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if res.Error != nil {
		return fmt.Errorf("indexer: upsert claim %d: %w", row.Sequence, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil
	}
	handle := &HandleStats{Handle: row.Handle}
	if err := tx.FirstOrCreate(handle, HandleStats{Handle: row.Handle}).Error; err != nil {
		return fmt.Errorf("indexer: load handle stats %q: %w", row.Handle, err)
	}
	handle.ClaimCount++
	handle.TotalClaimed = addDecimal(handle.TotalClaimed, row.Amount)
	handle.UpdatedAt = r.now()
	if err := tx.Save(handle).Error; err != nil {
		return fmt.Errorf("indexer: save handle stats %q: %w", row.Handle, err)
	}
	wallet := &WalletStats{Wallet: row.Wallet}
	if err := tx.FirstOrCreate(wallet, WalletStats{Wallet: row.Wallet}).Error; err != nil {
		return fmt.Errorf("indexer: load wallet stats %q: %w", row.Wallet, err)
	}
	wallet.ClaimCount++
	wallet.TotalClaimed = addDecimal(wallet.TotalClaimed, row.Amount)
	wallet.UpdatedAt = r.now()
	if err := tx.Save(wallet).Error; err != nil {
		return fmt.Errorf("indexer: save wallet stats %q: %w", row.Wallet, err)
	}
	r.metrics.observeProcessed(tipping.EventTypeClaimed)
	return nil
}

func (r *Reconciler) applyWalletLink(tx *gorm.DB, row *WalletLinkRecord) error {
	row.CreatedAt = r.now()
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if res.Error != nil {
		return fmt.Errorf("indexer: upsert wallet link %d: %w", row.Sequence, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil
	}
	handle := &HandleStats{Handle: row.Handle}
	if err := tx.FirstOrCreate(handle, HandleStats{Handle: row.Handle}).Error; err != nil {
		return fmt.Errorf("indexer: load handle stats %q: %w", row.Handle, err)
	}
	handle.LinkedWallet = row.Wallet
	handle.UpdatedAt = r.now()
	if err := tx.Save(handle).Error; err != nil {
		return fmt.Errorf("indexer: save handle stats %q: %w", row.Handle, err)
	}
	r.metrics.observeProcessed(tipping.EventTypeWalletLinked)
	return nil
}

// Rebuild recomputes every derived aggregate from the complete raw record
// set. Used to repair drift; the raw records themselves are never touched.
func (r *Reconciler) Rebuild(ctx context.Context) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&HandleStats{}).Error; err != nil {
			return fmt.Errorf("indexer: clear handle stats: %w", err)
		}
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&WalletStats{}).Error; err != nil {
			return fmt.Errorf("indexer: clear wallet stats: %w", err)
		}
		handles := make(map[string]*HandleStats)
		wallets := make(map[string]*WalletStats)
		var tips []TipRecord
		if err := tx.Order("sequence").FindInBatches(&tips, 500, func(_ *gorm.DB, _ int) error {
			for i := range tips {
				t := &tips[i]
				h := statsFor(handles, t.Handle)
				h.TipCount++
				h.TotalReceived = addDecimal(h.TotalReceived, t.NetAmount)
				if t.Timestamp > h.LastTipAt {
					h.LastTipAt = t.Timestamp
				}
				w := walletFor(wallets, t.Depositor)
				w.TipsSent++
				w.TotalSent = addDecimal(w.TotalSent, t.GrossAmount)
			}
			return nil
		}).Error; err != nil {
			return fmt.Errorf("indexer: replay tips: %w", err)
		}
		var claims []ClaimRecord
		if err := tx.Order("sequence").FindInBatches(&claims, 500, func(_ *gorm.DB, _ int) error {
			for i := range claims {
				c := &claims[i]
				h := statsFor(handles, c.Handle)
				h.ClaimCount++
				h.TotalClaimed = addDecimal(h.TotalClaimed, c.Amount)
				w := walletFor(wallets, c.Wallet)
				w.ClaimCount++
				w.TotalClaimed = addDecimal(w.TotalClaimed, c.Amount)
			}
			return nil
		}).Error; err != nil {
			return fmt.Errorf("indexer: replay claims: %w", err)
		}
		var links []WalletLinkRecord
		if err := tx.Order("sequence").Find(&links).Error; err != nil {
			return fmt.Errorf("indexer: replay wallet links: %w", err)
		}
		for i := range links {
			statsFor(handles, links[i].Handle).LinkedWallet = links[i].Wallet
		}
		now := r.now()
		for _, h := range handles {
			h.UpdatedAt = now
			if err := tx.Create(h).Error; err != nil {
				return fmt.Errorf("indexer: write handle stats %q: %w", h.Handle, err)
			}
		}
		for _, w := range wallets {
			w.UpdatedAt = now
			if err := tx.Create(w).Error; err != nil {
				return fmt.Errorf("indexer: write wallet stats %q: %w", w.Wallet, err)
			}
		}
		return nil
	})
}

// --- Read surface ---

// Stats returns the cached aggregate for a handle.
func (r *Reconciler) Stats(handle string) (*HandleStats, error) {
	stats := &HandleStats{}
	err := r.db.First(stats, "handle = ?", handle).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &HandleStats{Handle: handle, TotalReceived: "0", TotalClaimed: "0"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("indexer: load stats %q: %w", handle, err)
	}
	return stats, nil
}

// RecentTips returns the newest cached tips, most recent first.
func (r *Reconciler) RecentTips(limit int) ([]TipRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []TipRecord
	if err := r.db.Order("sequence DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("indexer: load recent tips: %w", err)
	}
	return out, nil
}

// TopHandles returns the most-tipped handles by tip count.
func (r *Reconciler) TopHandles(limit int) ([]HandleStats, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []HandleStats
	if err := r.db.Order("tip_count DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("indexer: load top handles: %w", err)
	}
	return out, nil
}

// --- Event parsing ---

func parseDeposit(rec *events.Recorded) (*TipRecord, error) {
	attrs := rec.Attributes
	for _, key := range []string{"txRef", "handle", "depositor", "amount", "fee", "net", "ts"} {
		if attrs[key] == "" {
			return nil, fmt.Errorf("deposit event missing %q", key)
		}
	}
	ts, err := strconv.ParseInt(attrs["ts"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("deposit event timestamp: %w", err)
	}
	for _, key := range []string{"amount", "fee", "net"} {
		if _, ok := new(big.Int).SetString(attrs[key], 10); !ok {
			return nil, fmt.Errorf("deposit event %q is not an integer", key)
		}
	}
	return &TipRecord{
		TxRef:       attrs["txRef"],
		Sequence:    rec.Sequence,
		HandleHash:  attrs["handleHash"],
		Handle:      attrs["handle"],
		Depositor:   attrs["depositor"],
		GrossAmount: attrs["amount"],
		Fee:         attrs["fee"],
		NetAmount:   attrs["net"],
		Message:     attrs["message"],
		Timestamp:   ts,
	}, nil
}

func parseClaim(rec *events.Recorded) (*ClaimRecord, error) {
	attrs := rec.Attributes
	for _, key := range []string{"handle", "wallet", "amount", "ts"} {
		if attrs[key] == "" {
			return nil, fmt.Errorf("claim event missing %q", key)
		}
	}
	ts, err := strconv.ParseInt(attrs["ts"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("claim event timestamp: %w", err)
	}
	if _, ok := new(big.Int).SetString(attrs["amount"], 10); !ok {
		return nil, fmt.Errorf("claim event amount is not an integer")
	}
	return &ClaimRecord{
		Sequence:   rec.Sequence,
		HandleHash: attrs["handleHash"],
		Handle:     attrs["handle"],
		Wallet:     attrs["wallet"],
		Amount:     attrs["amount"],
		Timestamp:  ts,
	}, nil
}

func parseWalletLink(rec *events.Recorded) (*WalletLinkRecord, error) {
	attrs := rec.Attributes
	for _, key := range []string{"handle", "wallet"} {
		if attrs[key] == "" {
			return nil, fmt.Errorf("wallet-linked event missing %q", key)
		}
	}
	return &WalletLinkRecord{
		Sequence: rec.Sequence,
		Handle:   attrs["handle"],
		Wallet:   attrs["wallet"],
	}, nil
}

func statsFor(m map[string]*HandleStats, handle string) *HandleStats {
	if s, ok := m[handle]; ok {
		return s
	}
	s := &HandleStats{Handle: handle, TotalReceived: "0", TotalClaimed: "0"}
	m[handle] = s
	return s
}

func walletFor(m map[string]*WalletStats, wallet string) *WalletStats {
	if s, ok := m[wallet]; ok {
		return s
	}
	s := &WalletStats{Wallet: wallet, TotalSent: "0", TotalClaimed: "0"}
	m[wallet] = s
	return s
}

func addDecimal(a, b string) string {
	x, ok := new(big.Int).SetString(a, 10)
	if !ok {
		x = big.NewInt(0)
	}
	y, ok := new(big.Int).SetString(b, 10)
	if !ok {
		y = big.NewInt(0)
	}
	return new(big.Int).Add(x, y).String()
}
