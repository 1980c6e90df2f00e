package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aupiff/apex-protocol/core/events"
	"github.com/aupiff/apex-protocol/core/types"
)

var journalPrefix = []byte("journal/fact/")

// payloadEvent is satisfied by facts that carry a wire representation; other
// events pass through the journal unrecorded.
type payloadEvent interface {
	events.Event
	Event() *types.Event
}

// Journal is an append-only record of every fact the core emits, keyed by a
// monotonically increasing sequence so a downstream indexer can replay the
// full audit trail in order.
type Journal struct {
	mu   sync.Mutex
	db   Database
	next uint64
}

// NewJournal opens a journal over the given database, resuming the sequence
// after the highest previously recorded fact.
func NewJournal(db Database) (*Journal, error) {
	if db == nil {
		return nil, fmt.Errorf("journal: nil database")
	}
	j := &Journal{db: db}
	err := db.Iterate(journalPrefix, func(key, _ []byte) (bool, error) {
		seq, err := sequenceFromKey(key)
		if err != nil {
			return false, err
		}
		if seq >= j.next {
			j.next = seq + 1
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return j, nil
}

// Emit implements events.Emitter. Persistence failures are logged rather than
// propagated: the emitting state transition has already committed and must
// not be unwound by its audit trail.
func (j *Journal) Emit(evt events.Event) {
	payload, ok := evt.(payloadEvent)
	if !ok {
		return
	}
	record := payload.Event()
	if record == nil {
		return
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		slog.Error("journal: encode fact", "type", evt.EventType(), "err", err)
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.db.Put(sequenceKey(j.next), encoded); err != nil {
		slog.Error("journal: persist fact", "type", evt.EventType(), "err", err)
		return
	}
	j.next++
}

// Replay visits every recorded fact in sequence order.
func (j *Journal) Replay(fn func(seq uint64, evt *types.Event) error) error {
	return j.db.Iterate(journalPrefix, func(key, value []byte) (bool, error) {
		seq, err := sequenceFromKey(key)
		if err != nil {
			return false, err
		}
		var record types.Event
		if err := json.Unmarshal(value, &record); err != nil {
			return false, fmt.Errorf("journal: decode fact %d: %w", seq, err)
		}
		if err := fn(seq, &record); err != nil {
			return false, err
		}
		return true, nil
	})
}

// NextSequence reports the sequence the next fact will receive.
func (j *Journal) NextSequence() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.next
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, len(journalPrefix)+8)
	copy(key, journalPrefix)
	binary.BigEndian.PutUint64(key[len(journalPrefix):], seq)
	return key
}

func sequenceFromKey(key []byte) (uint64, error) {
	if len(key) != len(journalPrefix)+8 {
		return 0, fmt.Errorf("journal: malformed key %q", key)
	}
	return binary.BigEndian.Uint64(key[len(journalPrefix):]), nil
}
