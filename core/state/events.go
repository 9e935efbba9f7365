package state

import (
	"fmt"
	"sort"

	"rentescrow/core/events"
	"rentescrow/core/types"
)

// storedRecord flattens the attribute map into parallel key-ordered slices
// since RLP has no map encoding.
type storedRecord struct {
	Sequence uint64
	PrevHash [32]byte
	Hash     [32]byte
	Type     string
	Keys     []string
	Values   []string
}

func newStoredRecord(rec *events.Record) *storedRecord {
	keys := make([]string, 0, len(rec.Event.Attributes))
	for k := range rec.Event.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = rec.Event.Attributes[k]
	}
	return &storedRecord{
		Sequence: rec.Sequence,
		PrevHash: rec.PrevHash,
		Hash:     rec.Hash,
		Type:     rec.Event.Type,
		Keys:     keys,
		Values:   values,
	}
}

func (s *storedRecord) toRecord() (*events.Record, error) {
	if len(s.Keys) != len(s.Values) {
		return nil, fmt.Errorf("events: record %d has %d keys and %d values", s.Sequence, len(s.Keys), len(s.Values))
	}
	attrs := make(map[string]string, len(s.Keys))
	for i, k := range s.Keys {
		attrs[k] = s.Values[i]
	}
	return &events.Record{
		Sequence: s.Sequence,
		PrevHash: s.PrevHash,
		Hash:     s.Hash,
		Event:    types.Event{Type: s.Type, Attributes: attrs},
	}, nil
}

// EventCount returns the number of persisted notification records.
func (m *Manager) EventCount() (uint64, error) {
	var count uint64
	if _, err := m.KVGet(eventCountKey, &count); err != nil {
		return 0, err
	}
	return count, nil
}

// EventAppend persists rec as the next notification record.
func (m *Manager) EventAppend(rec *events.Record) error {
	if rec == nil {
		return fmt.Errorf("events: nil record")
	}
	return m.Atomic(func(tx *Manager) error {
		count, err := tx.EventCount()
		if err != nil {
			return err
		}
		if rec.Sequence != count {
			return fmt.Errorf("events: record %d does not follow count %d", rec.Sequence, count)
		}
		if err := tx.KVPut(EventRecordKey(rec.Sequence), newStoredRecord(rec)); err != nil {
			return err
		}
		return tx.KVPut(eventCountKey, count+1)
	})
}

// EventGet loads the notification record at seq.
func (m *Manager) EventGet(seq uint64) (*events.Record, bool, error) {
	stored := new(storedRecord)
	ok, err := m.KVGet(EventRecordKey(seq), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	rec, err := stored.toRecord()
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

var _ events.Store = (*Manager)(nil)
