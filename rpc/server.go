package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"tipvault/core/events"
	"tipvault/crypto"
	"tipvault/native/tipping"
)

const maxBodyBytes = 1 << 16 // 64 KiB

// Server exposes the ledger's operations and event log over HTTP.
type Server struct {
	engine *tipping.Engine
	log    events.Reader
	logger *slog.Logger
}

func NewServer(engine *tipping.Engine, log events.Reader, logger *slog.Logger) (*Server, error) {
	if engine == nil {
		return nil, errors.New("rpc: engine required")
	}
	if log == nil {
		return nil, errors.New("rpc: event log required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: engine, log: log, logger: logger}, nil
}

// Routes builds the chi router for the ledger surface.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/v1/ledger/deposit", s.handleDeposit)
	r.Post("/v1/ledger/claim", s.handleClaim)
	r.Get("/v1/ledger/balance/{handle}", s.handleBalance)
	r.Get("/v1/ledger/handle/{handle}", s.handleHandleInfo)
	r.Get("/v1/ledger/tips/{handle}", s.handleTipHistory)
	r.Get("/v1/ledger/wallet/{handle}", s.handleLinkedWallet)
	r.Get("/v1/ledger/registered/{handle}", s.handleRegistered)
	r.Get("/v1/events/head", s.handleHead)
	r.Get("/v1/events", s.handleEvents)
	return r
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if !s.decode(w, r, &req) {
		return
	}
	from, err := crypto.ParseWallet(req.From)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid from address")
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	tip, err := s.engine.Deposit(from, req.Handle, amount, req.Message)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, DepositResponse{
		TxRef:     hex.EncodeToString(tip.TxRef[:]),
		Handle:    tip.ToHandle,
		Gross:     tip.GrossAmount.String(),
		Fee:       tip.Fee.String(),
		Net:       tip.NetAmount.String(),
		Timestamp: tip.Timestamp,
		BlockRef:  tip.BlockRef,
	})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if !s.decode(w, r, &req) {
		return
	}
	wallet, err := crypto.ParseWallet(req.Wallet)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid wallet address")
		return
	}
	nonceBytes, err := hex.DecodeString(req.Nonce)
	if err != nil || len(nonceBytes) != 32 {
		s.writeError(w, http.StatusBadRequest, "invalid nonce")
		return
	}
	var nonce [32]byte
	copy(nonce[:], nonceBytes)
	signature, err := hex.DecodeString(req.Signature)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid signature encoding")
		return
	}
	amount, err := s.engine.Claim(req.Handle, wallet, nonce, signature)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ClaimResponse{
		Handle: req.Handle,
		Wallet: req.Wallet,
		Amount: amount.String(),
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	pending, err := s.engine.PendingBalance(handle)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, BalanceResponse{Handle: handle, Pending: pending.String()})
}

func (s *Server) handleHandleInfo(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	acc, err := s.engine.HandleInfo(handle)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	resp := HandleInfoResponse{
		Handle:        acc.Handle,
		Pending:       acc.PendingBalance.String(),
		Registered:    acc.Registered,
		TotalReceived: acc.TotalReceived.String(),
		TotalClaimed:  acc.TotalClaimed.String(),
		TipCount:      acc.TipCount,
	}
	if acc.WalletLinked {
		resp.LinkedWallet = "0x" + hex.EncodeToString(acc.LinkedWallet[:])
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTipHistory(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 20)
	tips, err := s.engine.TipHistory(handle, offset, limit)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	entries := make([]TipEntry, 0, len(tips))
	for _, tip := range tips {
		entries = append(entries, TipEntry{
			TxRef:     hex.EncodeToString(tip.TxRef[:]),
			From:      "0x" + hex.EncodeToString(tip.FromAddress[:]),
			Handle:    tip.ToHandle,
			Gross:     tip.GrossAmount.String(),
			Fee:       tip.Fee.String(),
			Net:       tip.NetAmount.String(),
			Message:   tip.Message,
			Timestamp: tip.Timestamp,
			BlockRef:  tip.BlockRef,
		})
	}
	s.writeJSON(w, http.StatusOK, TipHistoryResponse{Handle: handle, Offset: offset, Tips: entries})
}

func (s *Server) handleLinkedWallet(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	wallet, linked, err := s.engine.LinkedWallet(handle)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	resp := LinkedWalletResponse{Handle: handle, Linked: linked}
	if linked {
		resp.Wallet = "0x" + hex.EncodeToString(wallet[:])
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRegistered(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	registered, err := s.engine.IsRegistered(handle)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, RegisteredResponse{Handle: handle, Registered: registered})
}

func (s *Server) handleHead(w http.ResponseWriter, r *http.Request) {
	head, err := s.log.Head(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "event log unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, HeadResponse{Head: head})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	from := queryUint(r, "from", 1)
	to := queryUint(r, "to", from)
	recs, err := s.log.Range(r.Context(), from, to)
	if err != nil {
		if errors.Is(err, events.ErrInvalidRange) || errors.Is(err, context.Canceled) {
			s.writeError(w, http.StatusBadRequest, "invalid event range")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "event log unavailable")
		return
	}
	entries := make([]EventEntry, 0, len(recs))
	for _, rec := range recs {
		entries = append(entries, EventEntry{Sequence: rec.Sequence, Type: rec.Type, Attributes: rec.Attributes})
	}
	s.writeJSON(w, http.StatusOK, EventsResponse{Events: entries})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// writeLedgerError maps the engine's sentinel errors onto specific,
// actionable HTTP responses.
func (s *Server) writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tipping.ErrInvalidHandle):
		s.writeError(w, http.StatusBadRequest, "invalid handle")
	case errors.Is(err, tipping.ErrMessageTooLong):
		s.writeError(w, http.StatusBadRequest, "message too long")
	case errors.Is(err, tipping.ErrBelowMinimum):
		s.writeError(w, http.StatusUnprocessableEntity, "amount below minimum tip")
	case errors.Is(err, tipping.ErrTransferFailed):
		s.writeError(w, http.StatusUnprocessableEntity, "token transfer failed")
	case errors.Is(err, tipping.ErrInvalidSignature):
		s.writeError(w, http.StatusUnauthorized, "authorization not signed by oracle")
	case errors.Is(err, tipping.ErrNonceAlreadyUsed):
		s.writeError(w, http.StatusConflict, "already claimed")
	case errors.Is(err, tipping.ErrNothingToClaim):
		s.writeError(w, http.StatusConflict, "nothing to claim")
	case errors.Is(err, tipping.ErrWalletMismatch):
		s.writeError(w, http.StatusConflict, "wallet already linked to a different address")
	default:
		s.logger.Error("ledger operation failed", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func queryUint(r *http.Request, key string, fallback uint64) uint64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return v
}
