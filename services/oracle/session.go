package oracle

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultSessionTTL = 15 * time.Minute

// Session is an authenticated identity-verification result. It is bound to
// the provider's stable user id; the handle is recorded as of verification
// time and may drift afterwards.
type Session struct {
	ID        string
	UserID    string
	Handle    string
	ExpiresAt time.Time
}

type sessionClaims struct {
	Handle string `json:"handle"`
	jwt.RegisteredClaims
}

// SessionManager issues and verifies short-lived signed session tokens and
// tracks revocations until their natural expiry.
type SessionManager struct {
	secret []byte
	ttl    time.Duration
	nowFn  func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time
}

func NewSessionManager(secret []byte, ttl time.Duration) (*SessionManager, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("oracle: session secret required")
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &SessionManager{
		secret:  append([]byte(nil), secret...),
		ttl:     ttl,
		nowFn:   time.Now,
		revoked: make(map[string]time.Time),
	}, nil
}

// SetNowFunc overrides the time source, for deterministic tests.
func (m *SessionManager) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	m.nowFn = now
}

// Issue mints a session token for a verified identity. The subject is the
// provider's stable user id, never the display handle.
func (m *SessionManager) Issue(userID, handle string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", fmt.Errorf("oracle: user id required")
	}
	now := m.nowFn()
	claims := sessionClaims{
		Handle: handle,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("oracle: sign session: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a session token, rejecting expired or revoked
// sessions.
func (m *SessionManager) Verify(raw string) (*Session, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrUnauthenticated
	}
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return m.nowFn() }))
	if err != nil || !token.Valid {
		return nil, ErrUnauthenticated
	}
	m.mu.Lock()
	_, revoked := m.revoked[claims.ID]
	m.mu.Unlock()
	if revoked {
		return nil, ErrSessionRevoked
	}
	var expires time.Time
	if claims.ExpiresAt != nil {
		expires = claims.ExpiresAt.Time
	}
	return &Session{
		ID:        claims.ID,
		UserID:    claims.Subject,
		Handle:    claims.Handle,
		ExpiresAt: expires,
	}, nil
}

// Revoke invalidates a session token ahead of its expiry. Revocations for
// already-expired sessions are pruned opportunistically.
func (m *SessionManager) Revoke(raw string) error {
	session, err := m.Verify(raw)
	if err != nil {
		return err
	}
	now := m.nowFn()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, exp := range m.revoked {
		if exp.Before(now) {
			delete(m.revoked, id)
		}
	}
	m.revoked[session.ID] = session.ExpiresAt
	return nil
}
