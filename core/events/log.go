package events

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"rentescrow/core/types"
)

// ErrChainBroken is returned when a record does not link to its predecessor.
var ErrChainBroken = errors.New("events: notification chain broken")

// Record is a single committed entry of the notification log. Each record
// commits to its predecessor through PrevHash so that the log is tamper
// evident when replayed.
type Record struct {
	Sequence uint64
	PrevHash [32]byte
	Hash     [32]byte
	Event    types.Event
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Event = *r.Event.Clone()
	return &clone
}

// Store persists notification records. Implementations must keep records
// addressable by sequence number.
type Store interface {
	EventAppend(rec *Record) error
	EventCount() (uint64, error)
	EventGet(seq uint64) (*Record, bool, error)
}

type payloadEvent interface {
	Event() *types.Event
}

// Log is an ordered, append-only notification log. It satisfies Emitter so
// engines can publish into it directly, and fans committed records out to
// subscribers without ever blocking the publisher.
type Log struct {
	mu      sync.Mutex
	store   Store
	memory  []*Record
	next    uint64
	head    [32]byte
	subs    map[uint64]chan *Record
	nextSub uint64
	onError func(error)
	onDrop  func()
}

// NewLog creates a log backed by the optional store. When a store is supplied
// the sequence counter and chain head resume from the persisted records.
func NewLog(store Store) (*Log, error) {
	l := &Log{store: store, subs: make(map[uint64]chan *Record)}
	if store == nil {
		return l, nil
	}
	count, err := store.EventCount()
	if err != nil {
		return nil, fmt.Errorf("events: load count: %w", err)
	}
	if count == 0 {
		return l, nil
	}
	last, ok, err := store.EventGet(count - 1)
	if err != nil {
		return nil, fmt.Errorf("events: load head: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("events: head record %d missing", count-1)
	}
	l.next = count
	l.head = last.Hash
	return l, nil
}

// SetErrorHandler registers a callback for persistence failures raised while
// emitting. Emit has no error return, so this is the only way to observe them.
func (l *Log) SetErrorHandler(fn func(error)) {
	l.mu.Lock()
	l.onError = fn
	l.mu.Unlock()
}

// SetDropHandler registers a callback invoked whenever a subscriber misses a
// record because its buffer was full.
func (l *Log) SetDropHandler(fn func()) {
	l.mu.Lock()
	l.onDrop = fn
	l.mu.Unlock()
}

// Emit implements Emitter.
func (l *Log) Emit(evt Event) {
	if l == nil || evt == nil {
		return
	}
	var payload *types.Event
	if p, ok := evt.(payloadEvent); ok {
		payload = p.Event()
	}
	if payload == nil {
		payload = &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
	}
	if _, err := l.Append(payload); err != nil {
		l.mu.Lock()
		onError := l.onError
		l.mu.Unlock()
		if onError != nil {
			onError(err)
		}
	}
}

// Append commits the event as the next record and returns it.
func (l *Log) Append(evt *types.Event) (*Record, error) {
	if evt == nil {
		return nil, fmt.Errorf("events: nil event")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := &Record{
		Sequence: l.next,
		PrevHash: l.head,
		Event:    *evt.Clone(),
	}
	rec.Hash = HashRecord(rec.PrevHash, rec.Sequence, &rec.Event)
	if l.store != nil {
		if err := l.store.EventAppend(rec); err != nil {
			return nil, fmt.Errorf("events: append %d: %w", rec.Sequence, err)
		}
	} else {
		l.memory = append(l.memory, rec)
	}
	l.next++
	l.head = rec.Hash

	for _, ch := range l.subs {
		select {
		case ch <- rec.Clone():
		default:
			if l.onDrop != nil {
				l.onDrop()
			}
		}
	}
	return rec.Clone(), nil
}

// Len returns the number of committed records.
func (l *Log) Len() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.next
}

// Head returns the hash of the latest record, or the zero hash when empty.
func (l *Log) Head() [32]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head
}

// Records returns copies of every record with sequence >= from.
func (l *Log) Records(from uint64) ([]*Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if from >= l.next {
		return []*Record{}, nil
	}
	out := make([]*Record, 0, l.next-from)
	for seq := from; seq < l.next; seq++ {
		if l.store == nil {
			out = append(out, l.memory[seq].Clone())
			continue
		}
		rec, ok, err := l.store.EventGet(seq)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("events: record %d missing", seq)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Subscribe registers a buffered subscriber. Records committed after the call
// are delivered in order; the returned function unsubscribes and closes the
// channel.
func (l *Log) Subscribe(buffer int) (<-chan *Record, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan *Record, buffer)
	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = ch
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
			close(ch)
		})
	}
}

// HashRecord computes the chained digest of a record. Attributes are hashed
// in key order so the digest does not depend on map iteration.
func HashRecord(prev [32]byte, seq uint64, evt *types.Event) [32]byte {
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)
	parts := [][]byte{prev[:], seqBuf[:], lengthPrefixed(evt.Type)}
	keys := make([]string, 0, len(evt.Attributes))
	for k := range evt.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, lengthPrefixed(k), lengthPrefixed(evt.Attributes[k]))
	}
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(parts...))
	return out
}

func lengthPrefixed(s string) []byte {
	buf := make([]byte, 4+len(s))
	binary.BigEndian.PutUint32(buf, uint32(len(s)))
	copy(buf[4:], s)
	return buf
}

// VerifyChain checks sequence continuity and hash links of records starting
// at sequence zero.
func VerifyChain(records []*Record) error {
	var prev [32]byte
	for i, rec := range records {
		if rec == nil {
			return fmt.Errorf("%w: nil record at %d", ErrChainBroken, i)
		}
		if rec.Sequence != uint64(i) {
			return fmt.Errorf("%w: expected sequence %d, got %d", ErrChainBroken, i, rec.Sequence)
		}
		if rec.PrevHash != prev {
			return fmt.Errorf("%w: record %d does not link to predecessor", ErrChainBroken, rec.Sequence)
		}
		if HashRecord(rec.PrevHash, rec.Sequence, &rec.Event) != rec.Hash {
			return fmt.Errorf("%w: record %d digest mismatch", ErrChainBroken, rec.Sequence)
		}
		prev = rec.Hash
	}
	return nil
}
