package state

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"tipvault/native/tipping"
	"tipvault/storage"
)

const (
	accountPrefix  = "acct:"
	tipPrefix      = "tip:"
	tipCountPrefix = "tipcnt:"
	noncePrefix    = "nonce:"
	sequenceKey    = "seq"
	feesKey        = "fees"
)

// Store persists ledger state in a key-value database. It implements the
// tipping engine's state interface. Open it with storage.NewMemDB for tests
// or storage.NewLevelDB for a daemon, and Close it when done.
type Store struct {
	db storage.Database
}

func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) HandleGet(handle string) (*tipping.HandleAccount, bool, error) {
	raw, err := s.db.Get(accountKey(handle))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("state: load account %q: %w", handle, err)
	}
	acc := &tipping.HandleAccount{}
	if err := json.Unmarshal(raw, acc); err != nil {
		return nil, false, fmt.Errorf("state: decode account %q: %w", handle, err)
	}
	return acc, true, nil
}

func (s *Store) HandlePut(acc *tipping.HandleAccount) error {
	if acc == nil {
		return fmt.Errorf("state: nil account")
	}
	raw, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("state: encode account %q: %w", acc.Handle, err)
	}
	return s.db.Put(accountKey(acc.Handle), raw)
}

// TipAppend stores the tip at the next per-handle history index. Tips are
// immutable: nothing ever rewrites an existing index.
func (s *Store) TipAppend(tip *tipping.Tip) error {
	if tip == nil {
		return fmt.Errorf("state: nil tip")
	}
	count, err := s.counter(tipCountKey(tip.ToHandle))
	if err != nil {
		return err
	}
	raw, err := json.Marshal(tip)
	if err != nil {
		return fmt.Errorf("state: encode tip: %w", err)
	}
	if err := s.db.Put(tipKey(tip.ToHandle, count), raw); err != nil {
		return err
	}
	return s.putCounter(tipCountKey(tip.ToHandle), count+1)
}

// TipHistory returns tips for a handle in chronological order starting at
// offset, at most limit entries.
func (s *Store) TipHistory(handle string, offset, limit int) ([]*tipping.Tip, error) {
	count, err := s.counter(tipCountKey(handle))
	if err != nil {
		return nil, err
	}
	out := make([]*tipping.Tip, 0, limit)
	for i := uint64(offset); i < count && len(out) < limit; i++ {
		raw, err := s.db.Get(tipKey(handle, i))
		if err != nil {
			return nil, fmt.Errorf("state: load tip %s/%d: %w", handle, i, err)
		}
		tip := &tipping.Tip{}
		if err := json.Unmarshal(raw, tip); err != nil {
			return nil, fmt.Errorf("state: decode tip %s/%d: %w", handle, i, err)
		}
		out = append(out, tip)
	}
	return out, nil
}

// TipsAll walks every stored tip. Returning false from fn stops the walk.
func (s *Store) TipsAll(fn func(*tipping.Tip) bool) error {
	return s.db.IteratePrefix([]byte(tipPrefix), func(_, value []byte) bool {
		tip := &tipping.Tip{}
		if err := json.Unmarshal(value, tip); err != nil {
			return true
		}
		return fn(tip)
	})
}

func (s *Store) NonceConsumed(nonce [32]byte) (bool, error) {
	return s.db.Has(nonceKey(nonce))
}

func (s *Store) NonceConsume(nonce [32]byte) error {
	return s.db.Put(nonceKey(nonce), []byte{1})
}

// NextSequence increments and returns the global ledger sequence.
func (s *Store) NextSequence() (uint64, error) {
	current, err := s.counter([]byte(sequenceKey))
	if err != nil {
		return 0, err
	}
	next := current + 1
	if err := s.putCounter([]byte(sequenceKey), next); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *Store) FeesAccrued() (*big.Int, error) {
	raw, err := s.db.Get([]byte(feesKey))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: load fees: %w", err)
	}
	fees, ok := new(big.Int).SetString(string(raw), 10)
	if !ok {
		return nil, fmt.Errorf("state: corrupt fee record %q", raw)
	}
	return fees, nil
}

func (s *Store) FeesSet(v *big.Int) error {
	if v == nil || v.Sign() < 0 {
		return fmt.Errorf("state: fees must be non-negative")
	}
	return s.db.Put([]byte(feesKey), []byte(v.String()))
}

func (s *Store) counter(key []byte) (uint64, error) {
	raw, err := s.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("state: load counter %q: %w", key, err)
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("state: corrupt counter %q", key)
	}
	return binary.BigEndian.Uint64(raw), nil
}

func (s *Store) putCounter(key []byte, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return s.db.Put(key, buf[:])
}

func accountKey(handle string) []byte {
	return []byte(accountPrefix + handle)
}

func tipKey(handle string, index uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%016x", tipPrefix, handle, index))
}

func tipCountKey(handle string) []byte {
	return []byte(tipCountPrefix + handle)
}

func nonceKey(nonce [32]byte) []byte {
	return []byte(noncePrefix + hex.EncodeToString(nonce[:]))
}
