package rpc

// Typed request/response structs for every ledger operation. Callers build
// these directly; there is no string-keyed dispatch anywhere on the wire.

type DepositRequest struct {
	From    string `json:"from"`
	Handle  string `json:"handle"`
	Amount  string `json:"amount"`
	Message string `json:"message,omitempty"`
}

type DepositResponse struct {
	TxRef     string `json:"txRef"`
	Handle    string `json:"handle"`
	Gross     string `json:"gross"`
	Fee       string `json:"fee"`
	Net       string `json:"net"`
	Timestamp int64  `json:"timestamp"`
	BlockRef  uint64 `json:"blockRef"`
}

type ClaimRequest struct {
	Handle    string `json:"handle"`
	Wallet    string `json:"wallet"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
}

type ClaimResponse struct {
	Handle string `json:"handle"`
	Wallet string `json:"wallet"`
	Amount string `json:"amount"`
}

type BalanceResponse struct {
	Handle  string `json:"handle"`
	Pending string `json:"pending"`
}

type HandleInfoResponse struct {
	Handle        string `json:"handle"`
	Pending       string `json:"pending"`
	LinkedWallet  string `json:"linkedWallet,omitempty"`
	Registered    bool   `json:"registered"`
	TotalReceived string `json:"totalReceived"`
	TotalClaimed  string `json:"totalClaimed"`
	TipCount      uint64 `json:"tipCount"`
}

type TipEntry struct {
	TxRef     string `json:"txRef"`
	From      string `json:"from"`
	Handle    string `json:"handle"`
	Gross     string `json:"gross"`
	Fee       string `json:"fee"`
	Net       string `json:"net"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp"`
	BlockRef  uint64 `json:"blockRef"`
}

type TipHistoryResponse struct {
	Handle string     `json:"handle"`
	Offset int        `json:"offset"`
	Tips   []TipEntry `json:"tips"`
}

type LinkedWalletResponse struct {
	Handle string `json:"handle"`
	Wallet string `json:"wallet,omitempty"`
	Linked bool   `json:"linked"`
}

type RegisteredResponse struct {
	Handle     string `json:"handle"`
	Registered bool   `json:"registered"`
}

type HeadResponse struct {
	Head uint64 `json:"head"`
}

type EventEntry struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

type EventsResponse struct {
	Events []EventEntry `json:"events"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
