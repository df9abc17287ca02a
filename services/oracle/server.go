package oracle

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"tipvault/crypto"
	"tipvault/native/tipping"
)

const (
	stateCookie  = "tipvault_oauth_state"
	maxBodyBytes = 1 << 16 // 64 KiB
)

// Server exposes the identity-verification and claim-authorization HTTP
// surface.
type Server struct {
	verifier *Verifier
	signer   *Signer
	sessions *SessionManager
	limiter  *rate.Limiter
	logger   *slog.Logger
}

func NewServer(verifier *Verifier, signer *Signer, sessions *SessionManager, limiter *rate.Limiter, logger *slog.Logger) (*Server, error) {
	if verifier == nil {
		return nil, errors.New("oracle: verifier required")
	}
	if sessions == nil {
		return nil, errors.New("oracle: session manager required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return &Server{
		verifier: verifier,
		signer:   signer,
		sessions: sessions,
		limiter:  limiter,
		logger:   logger,
	}, nil
}

// Routes builds the chi router for the service.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/v1/auth/login", s.handleLogin)
	r.Get("/v1/auth/callback", s.handleCallback)
	r.Post("/v1/auth/logout", s.handleLogout)
	r.Post("/v1/claims/authorize", s.handleAuthorize)
	return r
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/v1/auth",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, s.verifier.LoginURL(state), http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != r.URL.Query().Get("state") {
		s.writeError(w, http.StatusUnauthorized, "state mismatch")
		return
	}
	token, session, err := s.verifier.CompleteLogin(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		s.logger.Warn("identity verification failed", "err", err)
		s.writeError(w, http.StatusUnauthorized, "verification failed, please re-verify")
		return
	}
	s.logger.Info("identity verified", "handle", session.Handle)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"token":     token,
		"handle":    session.Handle,
		"expiresAt": session.ExpiresAt.Unix(),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Revoke(bearerToken(r)); err != nil {
		s.writeError(w, http.StatusUnauthorized, "not yet verified")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type authorizeRequest struct {
	Wallet string `json:"wallet"`
}

type authorizeResponse struct {
	Handle        string `json:"handle"`
	Wallet        string `json:"wallet"`
	Nonce         string `json:"nonce"`
	Signature     string `json:"signature"`
	OracleAddress string `json:"oracleAddress"`
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		s.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	session, err := s.sessions.Verify(bearerToken(r))
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "not yet verified")
		return
	}
	var req authorizeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	wallet, err := crypto.ParseWallet(req.Wallet)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid wallet address")
		return
	}
	auth, err := s.authorize(session, wallet)
	if err != nil {
		switch {
		case errors.Is(err, ErrSignerNotConfigured):
			// Operational fault, distinct from user errors.
			s.logger.Error("claim authorization unavailable", "err", err)
			s.writeError(w, http.StatusServiceUnavailable, "authorization service unavailable")
		case errors.Is(err, tipping.ErrInvalidHandle):
			s.writeError(w, http.StatusUnprocessableEntity, "verified handle is not tippable")
		default:
			s.logger.Error("claim authorization failed", "err", err)
			s.writeError(w, http.StatusInternalServerError, "authorization failed")
		}
		return
	}
	oracleAddr, err := s.signer.Address()
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "authorization service unavailable")
		return
	}
	bech, err := cryptoAddress(oracleAddr)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "authorization failed")
		return
	}
	s.logger.Info("claim authorization issued", "handle", auth.Handle)
	s.writeJSON(w, http.StatusOK, authorizeResponse{
		Handle:        auth.Handle,
		Wallet:        "0x" + hex.EncodeToString(auth.Wallet[:]),
		Nonce:         hex.EncodeToString(auth.Nonce[:]),
		Signature:     hex.EncodeToString(auth.Signature),
		OracleAddress: bech,
	})
}

func (s *Server) authorize(session *Session, wallet [20]byte) (*tipping.ClaimAuthorization, error) {
	if s.signer == nil {
		return nil, ErrSignerNotConfigured
	}
	return s.signer.Authorize(session, wallet)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func cryptoAddress(raw [20]byte) (string, error) {
	addr, err := crypto.NewAddress(crypto.TipPrefix, raw[:])
	if err != nil {
		return "", err
	}
	return addr.String(), nil
}
