package oracle

import (
	"errors"
	"testing"
	"time"

	"tipvault/crypto"
	"tipvault/native/tipping"
)

func TestSignerAuthorize(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer := NewSigner(key)
	signer.SetNowFunc(func() time.Time { return time.Unix(1_700_000_000, 0) })
	wallet := [20]byte{0xAB}
	session := &Session{ID: "s1", UserID: "12345", Handle: "Alice"}

	auth, err := signer.Authorize(session, wallet)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if auth.Handle != "alice" {
		t.Fatalf("handle = %q, want alice", auth.Handle)
	}
	if auth.Wallet != wallet {
		t.Fatalf("wallet = %x, want %x", auth.Wallet, wallet)
	}
	if auth.IssuedAt != 1_700_000_000 {
		t.Fatalf("issued at = %d", auth.IssuedAt)
	}

	recovered, err := tipping.RecoverAuthorizer(auth.Handle, auth.Wallet, auth.Nonce, auth.Signature)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	oracleAddr, err := signer.Address()
	if err != nil {
		t.Fatalf("address: %v", err)
	}
	if recovered != oracleAddr {
		t.Fatalf("recovered %x, want %x", recovered, oracleAddr)
	}
}

func TestSignerNoncesNeverRepeat(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer := NewSigner(key)
	session := &Session{ID: "s1", UserID: "12345", Handle: "alice"}
	wallet := [20]byte{0xAB}
	seen := make(map[[32]byte]bool)
	for i := 0; i < 16; i++ {
		auth, err := signer.Authorize(session, wallet)
		if err != nil {
			t.Fatalf("authorize %d: %v", i, err)
		}
		if seen[auth.Nonce] {
			t.Fatal("nonce repeated for identical inputs")
		}
		seen[auth.Nonce] = true
	}
}

func TestSignerFailsClosed(t *testing.T) {
	signer := NewSigner(nil)
	if _, err := signer.Address(); !errors.Is(err, ErrSignerNotConfigured) {
		t.Fatalf("expected ErrSignerNotConfigured, got %v", err)
	}
	if _, err := signer.Authorize(&Session{Handle: "alice"}, [20]byte{0x01}); !errors.Is(err, ErrSignerNotConfigured) {
		t.Fatalf("expected ErrSignerNotConfigured, got %v", err)
	}
}

func TestSignerRejectsMissingSession(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer := NewSigner(key)
	if _, err := signer.Authorize(nil, [20]byte{0x01}); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestSignerRejectsUntippableHandle(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer := NewSigner(key)
	session := &Session{ID: "s1", UserID: "12345", Handle: "not a handle!"}
	if _, err := signer.Authorize(session, [20]byte{0x01}); !errors.Is(err, tipping.ErrInvalidHandle) {
		t.Fatalf("expected ErrInvalidHandle, got %v", err)
	}
}
