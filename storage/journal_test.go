package storage

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/aupiff/apex-protocol/core/events"
	"github.com/aupiff/apex-protocol/core/types"
)

func TestJournalAppendsAndReplaysInOrder(t *testing.T) {
	db := NewMemDB()
	journal, err := NewJournal(db)
	require.NoError(t, err)

	journal.Emit(events.AmmSync{BaseReserve: big.NewInt(1000), QuoteReserve: big.NewInt(2_000_000)})
	journal.Emit(events.AmmSwap{
		InputToken:   common.HexToAddress("0xb1"),
		OutputToken:  common.HexToAddress("0xc1"),
		InputAmount:  big.NewInt(10),
		OutputAmount: big.NewInt(19_801),
	})
	require.Equal(t, uint64(2), journal.NextSequence())

	var replayed []*types.Event
	var seqs []uint64
	require.NoError(t, journal.Replay(func(seq uint64, evt *types.Event) error {
		seqs = append(seqs, seq)
		replayed = append(replayed, evt)
		return nil
	}))
	require.Equal(t, []uint64{0, 1}, seqs)
	require.Len(t, replayed, 2)
	require.Equal(t, events.TypeAmmSync, replayed[0].Type)
	require.Equal(t, events.TypeAmmSwap, replayed[1].Type)
	require.Equal(t, "19801", replayed[1].Attributes["outputAmount"])
}

func TestJournalResumesSequence(t *testing.T) {
	db := NewMemDB()
	journal, err := NewJournal(db)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		journal.Emit(events.AmmSync{BaseReserve: big.NewInt(int64(i)), QuoteReserve: big.NewInt(int64(i))})
	}

	reopened, err := NewJournal(db)
	require.NoError(t, err)
	require.Equal(t, uint64(5), reopened.NextSequence())
}

type bareEvent struct{}

func (bareEvent) EventType() string { return "test.bare" }

func TestJournalSkipsPayloadlessEvents(t *testing.T) {
	journal, err := NewJournal(NewMemDB())
	require.NoError(t, err)
	journal.Emit(bareEvent{})
	require.Equal(t, uint64(0), journal.NextSequence())
}

func TestMemDBIterateIsPrefixBoundAndOrdered(t *testing.T) {
	db := NewMemDB()
	require.NoError(t, db.Put([]byte("a/2"), []byte("two")))
	require.NoError(t, db.Put([]byte("a/1"), []byte("one")))
	require.NoError(t, db.Put([]byte("b/1"), []byte("other")))

	var keys []string
	require.NoError(t, db.Iterate([]byte("a/"), func(key, _ []byte) (bool, error) {
		keys = append(keys, string(key))
		return true, nil
	}))
	require.Equal(t, []string{"a/1", "a/2"}, keys)

	value, ok, err := db.Get([]byte("b/1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("other"), value)

	_, ok, err = db.Get([]byte("missing"))
	require.NoError(t, err)
	require.False(t, ok)
}
