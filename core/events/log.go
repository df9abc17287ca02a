package events

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"tipvault/storage"
)

const (
	logHeadKey   = "evlog:head"
	logEntryPref = "evlog:seq:"
)

var (
	// ErrInvalidRange is returned when a range query is empty or inverted.
	ErrInvalidRange = errors.New("events: invalid range")
)

// Recorded is an Event annotated with its position in the append-only log.
// Sequence numbers start at 1 and never repeat; they are the "block refs"
// downstream reconcilers checkpoint against.
type Recorded struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Reader is the typed read surface reconcilers poll. Implementations must
// return events in sequence order and never mutate history.
type Reader interface {
	Head(ctx context.Context) (uint64, error)
	Range(ctx context.Context, from, to uint64) ([]Recorded, error)
}

// Log persists emitted events in order. It satisfies both Emitter (for the
// ledger engine) and Reader (for reconcilers).
type Log struct {
	mu sync.Mutex
	db storage.Database
}

func NewLog(db storage.Database) *Log {
	return &Log{db: db}
}

// Emit appends the event to the log, assigning the next sequence number.
// Append failures are unrecoverable for an emitter interface without an
// error return, so the entry is dropped and the head left unchanged; Append
// is the error-returning form.
func (l *Log) Emit(evt *Event) {
	_, _ = l.Append(evt)
}

// Append writes the event and returns its assigned sequence number.
func (l *Log) Append(evt *Event) (uint64, error) {
	if l == nil || l.db == nil {
		return 0, fmt.Errorf("events: log not configured")
	}
	if evt == nil {
		return 0, fmt.Errorf("events: nil event")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	head, err := l.head()
	if err != nil {
		return 0, err
	}
	seq := head + 1
	rec := Recorded{Sequence: seq, Type: evt.Type, Attributes: evt.Attributes}
	payload, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("events: encode entry: %w", err)
	}
	if err := l.db.Put(entryKey(seq), payload); err != nil {
		return 0, fmt.Errorf("events: persist entry: %w", err)
	}
	var headBuf [8]byte
	binary.BigEndian.PutUint64(headBuf[:], seq)
	if err := l.db.Put([]byte(logHeadKey), headBuf[:]); err != nil {
		return 0, fmt.Errorf("events: advance head: %w", err)
	}
	return seq, nil
}

// Head returns the sequence number of the most recent entry, zero when the
// log is empty.
func (l *Log) Head(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head()
}

func (l *Log) head() (uint64, error) {
	raw, err := l.db.Get([]byte(logHeadKey))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("events: load head: %w", err)
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("events: corrupt head entry")
	}
	return binary.BigEndian.Uint64(raw), nil
}

// Range returns entries with sequence numbers in [from, to] inclusive.
// Entries beyond the head are simply absent from the result.
func (l *Log) Range(ctx context.Context, from, to uint64) ([]Recorded, error) {
	if from == 0 || to < from {
		return nil, ErrInvalidRange
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]Recorded, 0, to-from+1)
	for seq := from; seq <= to; seq++ {
		raw, err := l.db.Get(entryKey(seq))
		if errors.Is(err, storage.ErrKeyNotFound) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("events: load entry %d: %w", seq, err)
		}
		var rec Recorded
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("events: decode entry %d: %w", seq, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func entryKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%016x", logEntryPref, seq))
}
