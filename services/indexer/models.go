package indexer

import "time"

// TipRecord is the normalized row for one deposit event. TxRef is the
// globally unique transaction reference, so re-processing the same event is
// a no-op.
type TipRecord struct {
	TxRef       string `gorm:"primaryKey;size:64"`
	Sequence    uint64 `gorm:"uniqueIndex"`
	HandleHash  string `gorm:"size:64;index"`
	Handle      string `gorm:"size:15;index"`
	Depositor   string `gorm:"size:40;index"`
	GrossAmount string `gorm:"size:80"`
	Fee         string `gorm:"size:80"`
	NetAmount   string `gorm:"size:80"`
	Message     string `gorm:"size:280"`
	Timestamp   int64  `gorm:"index"`
	CreatedAt   time.Time
}

// ClaimRecord is the normalized row for one claim event, keyed by the event
// sequence.
type ClaimRecord struct {
	Sequence   uint64 `gorm:"primaryKey"`
	HandleHash string `gorm:"size:64;index"`
	Handle     string `gorm:"size:15;index"`
	Wallet     string `gorm:"size:40;index"`
	Amount     string `gorm:"size:80"`
	Timestamp  int64
	CreatedAt  time.Time
}

// WalletLinkRecord captures a handle's first-claim wallet binding.
type WalletLinkRecord struct {
	Sequence  uint64 `gorm:"primaryKey"`
	Handle    string `gorm:"size:15;uniqueIndex"`
	Wallet    string `gorm:"size:40"`
	CreatedAt time.Time
}

// HandleStats is the derived per-handle aggregate. Amounts are decimal
// strings in the token's smallest unit.
type HandleStats struct {
	Handle        string `gorm:"primaryKey;size:15"`
	TipCount      uint64
	TotalReceived string `gorm:"size:80"` // net of fees
	TotalClaimed  string `gorm:"size:80"`
	ClaimCount    uint64
	LinkedWallet  string `gorm:"size:40"`
	LastTipAt     int64
	UpdatedAt     time.Time
}

// WalletStats is the derived per-wallet aggregate, covering both tipping
// activity and claim payouts.
type WalletStats struct {
	Wallet       string `gorm:"primaryKey;size:40"`
	TipsSent     uint64
	TotalSent    string `gorm:"size:80"` // gross amounts deposited
	ClaimCount   uint64
	TotalClaimed string `gorm:"size:80"`
	UpdatedAt    time.Time
}

// Cursor is the single-row sync checkpoint. LastProcessed advances
// monotonically and only after a batch is durably committed.
type Cursor struct {
	ID            uint `gorm:"primaryKey"`
	LastProcessed uint64
	UpdatedAt     time.Time
}

// MalformedEvent quarantines events that could not be parsed. Keyed by
// sequence so retried batches do not duplicate entries.
type MalformedEvent struct {
	Sequence  uint64 `gorm:"primaryKey"`
	EventType string `gorm:"size:64"`
	Detail    string `gorm:"size:512"`
	Payload   string
	CreatedAt time.Time
}

const cursorRowID = 1

func allModels() []any {
	return []any{
		&TipRecord{},
		&ClaimRecord{},
		&WalletLinkRecord{},
		&HandleStats{},
		&WalletStats{},
		&Cursor{},
		&MalformedEvent{},
	}
}
