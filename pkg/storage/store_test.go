package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/dexcore/escrowd/pkg/events"
	"github.com/dexcore/escrowd/pkg/exchange/book"
)

var (
	alice  = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob    = common.HexToAddress("0xBB00000000000000000000000000000000000000")
	tokenX = common.HexToAddress("0x1000000000000000000000000000000000000001")
	tokenY = common.HexToAddress("0x1000000000000000000000000000000000000002")
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := fmt.Sprintf("./tmp_test_store_%s.db", t.Name())
	os.RemoveAll(dbPath)
	t.Cleanup(func() { os.RemoveAll(dbPath) })

	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// commit runs writes against a fresh batch and commits it, the way the
// engine persists every operation.
func commit(t *testing.T, s *Store, writes func(*Batch) error) {
	t.Helper()
	b := s.NewBatch()
	defer b.Close()
	if err := writes(b); err != nil {
		t.Fatalf("batch writes: %v", err)
	}
	if err := b.Commit(); err != nil {
		t.Fatalf("batch commit: %v", err)
	}
}

func TestBalanceRoundTrip(t *testing.T) {
	s := newTestStore(t)

	big := new(uint256.Int).SetAllOne() // full 256-bit width survives
	commit(t, s, func(b *Batch) error {
		if err := b.SaveBalance(tokenX, alice, uint256.NewInt(100)); err != nil {
			return err
		}
		return b.SaveBalance(tokenY, bob, big)
	})
	// Overwrite is a plain replace.
	commit(t, s, func(b *Batch) error {
		return b.SaveBalance(tokenX, alice, uint256.NewInt(40))
	})

	got := map[string]*uint256.Int{}
	err := s.LoadBalances(func(token, holder common.Address, amount *uint256.Int) {
		got[token.Hex()+":"+holder.Hex()] = amount
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("loaded %d cells, want 2", len(got))
	}
	if v := got[tokenX.Hex()+":"+alice.Hex()]; !v.Eq(uint256.NewInt(40)) {
		t.Errorf("(X, alice) = %s, want 40", v.Dec())
	}
	if v := got[tokenY.Hex()+":"+bob.Hex()]; !v.Eq(big) {
		t.Errorf("(Y, bob) = %s, want max uint256", v.Dec())
	}
}

func TestOrderRoundTrip(t *testing.T) {
	s := newTestStore(t)

	orders := []*book.Order{
		{
			ID: 2, Creator: alice,
			TokenGet: tokenY, AmountGet: uint256.NewInt(1),
			TokenGive: tokenX, AmountGive: uint256.NewInt(10),
			CreatedAt: 1700000000000, Status: book.Filled,
		},
		{
			ID: 1, Creator: bob,
			TokenGet: tokenX, AmountGet: uint256.NewInt(5),
			TokenGive: tokenY, AmountGive: uint256.NewInt(3),
			CreatedAt: 1700000000001, Status: book.Open,
		},
	}
	commit(t, s, func(b *Batch) error {
		for _, o := range orders {
			if err := b.SaveOrder(o); err != nil {
				return err
			}
		}
		return nil
	})

	var loaded []*book.Order
	if err := s.LoadOrders(func(o *book.Order) { loaded = append(loaded, o) }); err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d orders, want 2", len(loaded))
	}
	// Zero-padded keys: ascending by id regardless of write order.
	if loaded[0].ID != 1 || loaded[1].ID != 2 {
		t.Errorf("order ids = %d, %d; want 1, 2", loaded[0].ID, loaded[1].ID)
	}
	if loaded[1].Status != book.Filled {
		t.Errorf("order 2 status = %s, want filled", loaded[1].Status)
	}
	if !loaded[1].AmountGive.Eq(uint256.NewInt(10)) {
		t.Errorf("order 2 amountGive = %s, want 10", loaded[1].AmountGive.Dec())
	}
}

func TestOrderSeqRoundTrip(t *testing.T) {
	s := newTestStore(t)

	if seq, err := s.LoadOrderSeq(); err != nil || seq != 0 {
		t.Fatalf("fresh seq = %d, %v; want 0, nil", seq, err)
	}
	commit(t, s, func(b *Batch) error { return b.SaveOrderSeq(17) })
	if seq, err := s.LoadOrderSeq(); err != nil || seq != 17 {
		t.Fatalf("seq = %d, %v; want 17, nil", seq, err)
	}
}

func TestEventLogNewestFirst(t *testing.T) {
	s := newTestStore(t)

	for i := uint64(1); i <= 5; i++ {
		rec := events.Deposit{
			Token:     tokenX,
			Account:   alice,
			Amount:    uint256.NewInt(i),
			Balance:   uint256.NewInt(i),
			Timestamp: int64(i),
		}
		commit(t, s, func(b *Batch) error { return b.AppendEvent(rec) })
	}

	recent, err := s.RecentEvents(3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("got %d events, want 3", len(recent))
	}

	var envelope struct {
		Kind string `json:"kind"`
		Data struct {
			Timestamp int64 `json:"timestamp"`
		} `json:"data"`
	}
	if err := json.Unmarshal(recent[0], &envelope); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if envelope.Kind != string(events.KindDeposit) {
		t.Errorf("kind = %s, want %s", envelope.Kind, events.KindDeposit)
	}
	if envelope.Data.Timestamp != 5 {
		t.Errorf("first record timestamp = %d, want 5 (newest)", envelope.Data.Timestamp)
	}
}

func TestEventSeqSurvivesReopen(t *testing.T) {
	dbPath := fmt.Sprintf("./tmp_test_store_%s.db", t.Name())
	os.RemoveAll(dbPath)
	t.Cleanup(func() { os.RemoveAll(dbPath) })

	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 0; i < 3; i++ {
		rec := events.Cancel{ID: uint64(i + 1), By: alice, Timestamp: int64(i)}
		commit(t, s, func(b *Batch) error { return b.AppendEvent(rec) })
	}
	s.Close()

	// Reopened store must continue the event sequence, not restart it
	// and overwrite existing records.
	s2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	commit(t, s2, func(b *Batch) error {
		return b.AppendEvent(events.Cancel{ID: 4, By: alice, Timestamp: 9})
	})

	recent, err := s2.RecentEvents(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 4 {
		t.Errorf("got %d events after reopen, want 4", len(recent))
	}
}

func TestBatchCommitIsAtomicAndVisible(t *testing.T) {
	s := newTestStore(t)

	commit(t, s, func(b *Batch) error {
		if err := b.SaveBalance(tokenX, alice, uint256.NewInt(1)); err != nil {
			return err
		}
		if err := b.SaveBalance(tokenX, bob, uint256.NewInt(2)); err != nil {
			return err
		}
		if err := b.SaveOrder(&book.Order{
			ID: 1, Creator: alice,
			TokenGet: tokenY, AmountGet: uint256.NewInt(1),
			TokenGive: tokenX, AmountGive: uint256.NewInt(1),
			CreatedAt: 1, Status: book.Filled,
		}); err != nil {
			return err
		}
		if err := b.SaveOrderSeq(1); err != nil {
			return err
		}
		return b.AppendEvent(events.Trade{ID: 1, Filler: bob, Creator: alice, Timestamp: 1})
	})

	cells := 0
	s.LoadBalances(func(token, holder common.Address, amount *uint256.Int) { cells++ })
	if cells != 2 {
		t.Errorf("cells = %d, want 2", cells)
	}
	seq, _ := s.LoadOrderSeq()
	if seq != 1 {
		t.Errorf("seq = %d, want 1", seq)
	}
	recent, _ := s.RecentEvents(10)
	if len(recent) != 1 {
		t.Errorf("events = %d, want 1", len(recent))
	}
}

func TestUncommittedBatchLeavesNoTrace(t *testing.T) {
	s := newTestStore(t)

	b := s.NewBatch()
	b.SaveBalance(tokenX, alice, uint256.NewInt(99))
	b.Close() // dropped without commit

	cells := 0
	s.LoadBalances(func(token, holder common.Address, amount *uint256.Int) { cells++ })
	if cells != 0 {
		t.Errorf("cells = %d, want 0 (batch was never committed)", cells)
	}
}
