package tipping

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"tipvault/core/events"
)

const (
	EventTypeDeposited    = "tipping.deposited"
	EventTypeClaimed      = "tipping.claimed"
	EventTypeWalletLinked = "tipping.wallet_linked"
)

// NewDepositedEvent returns the canonical payload emitted for each recorded
// tip.
func NewDepositedEvent(tip *Tip) *events.Event {
	attrs := make(map[string]string)
	if tip == nil {
		return &events.Event{Type: EventTypeDeposited, Attributes: attrs}
	}
	hash := HandleHash(tip.ToHandle)
	attrs["handleHash"] = hex.EncodeToString(hash[:])
	attrs["handle"] = tip.ToHandle
	attrs["txRef"] = hex.EncodeToString(tip.TxRef[:])
	attrs["depositor"] = hex.EncodeToString(tip.FromAddress[:])
	attrs["amount"] = bigIntString(tip.GrossAmount)
	attrs["fee"] = bigIntString(tip.Fee)
	attrs["net"] = bigIntString(tip.NetAmount)
	attrs["message"] = tip.Message
	attrs["ts"] = strconv.FormatInt(tip.Timestamp, 10)
	return &events.Event{Type: EventTypeDeposited, Attributes: attrs}
}

// NewClaimedEvent returns the canonical payload emitted when a handle's
// entire pending balance is paid out.
func NewClaimedEvent(handle string, wallet [20]byte, amount *big.Int, ts int64) *events.Event {
	hash := HandleHash(handle)
	return &events.Event{
		Type: EventTypeClaimed,
		Attributes: map[string]string{
			"handleHash": hex.EncodeToString(hash[:]),
			"handle":     handle,
			"wallet":     hex.EncodeToString(wallet[:]),
			"amount":     bigIntString(amount),
			"ts":         strconv.FormatInt(ts, 10),
		},
	}
}

// NewWalletLinkedEvent returns the payload emitted on a handle's first
// successful claim, when the payout wallet becomes pinned.
func NewWalletLinkedEvent(handle string, wallet [20]byte) *events.Event {
	hash := HandleHash(handle)
	return &events.Event{
		Type: EventTypeWalletLinked,
		Attributes: map[string]string{
			"handleHash": hex.EncodeToString(hash[:]),
			"handle":     handle,
			"wallet":     hex.EncodeToString(wallet[:]),
		},
	}
}

func bigIntString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
