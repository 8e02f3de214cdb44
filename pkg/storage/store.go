// Package storage is the pebble-backed write-through persistence for
// the exchange: balance cells, orders, the order counter, and the
// append-only notification audit log. The engine owns all writes and
// every write lands through a Batch commit; this package never
// interprets the data it stores.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/dexcore/escrowd/pkg/events"
	"github.com/dexcore/escrowd/pkg/exchange/book"
)

type Store struct {
	db *pebble.DB

	mu       sync.Mutex
	eventSeq uint64
}

func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble db at %s: %w", path, err)
	}

	s := &Store{db: db}
	if err := s.loadEventSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) loadEventSeq() error {
	prefix := []byte(prefixEvent)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	if iter.Last() && iter.Valid() {
		key := iter.Key()
		var seq uint64
		fmt.Sscanf(string(key[len(prefixEvent):]), "%d", &seq)
		s.eventSeq = seq
	}
	return nil
}

// LoadBalances calls fn for every persisted cell.
func (s *Store) LoadBalances(fn func(token, holder common.Address, amount *uint256.Int)) error {
	prefix := []byte(prefixBalance)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		token, holder, err := parseBalanceKey(iter.Key())
		if err != nil {
			continue // skip invalid entries
		}
		amount := new(uint256.Int).SetBytes(iter.Value())
		fn(token, holder, amount)
	}
	return nil
}

// LoadOrders calls fn for every persisted order, ascending by id.
func (s *Store) LoadOrders(fn func(o *book.Order)) error {
	prefix := []byte(prefixOrder)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var o book.Order
		if err := json.Unmarshal(iter.Value(), &o); err != nil {
			continue
		}
		fn(&o)
	}
	return nil
}

func (s *Store) LoadOrderSeq() (uint64, error) {
	val, closer, err := s.db.Get([]byte(keySeq))
	if err == pebble.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()
	return binary.BigEndian.Uint64(val), nil
}

// RecentEvents returns up to limit audit records, newest first.
func (s *Store) RecentEvents(limit int) ([]json.RawMessage, error) {
	prefix := []byte(prefixEvent)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []json.RawMessage
	for iter.Last(); iter.Valid() && len(out) < limit; iter.Prev() {
		data := make([]byte, len(iter.Value()))
		copy(data, iter.Value())
		out = append(out, data)
	}
	return out, nil
}

// Batch groups writes that must land atomically, e.g. the five balance
// cells plus the order status of a single fill.
type Batch struct {
	batch *pebble.Batch
	store *Store
}

func (s *Store) NewBatch() *Batch {
	return &Batch{batch: s.db.NewBatch(), store: s}
}

func (b *Batch) SaveBalance(token, holder common.Address, amount *uint256.Int) error {
	val := amount.Bytes32()
	return b.batch.Set(balanceKey(token, holder), val[:], nil)
}

func (b *Batch) SaveOrder(o *book.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return b.batch.Set(orderKey(o.ID), data, nil)
}

func (b *Batch) SaveOrderSeq(seq uint64) error {
	var val [8]byte
	binary.BigEndian.PutUint64(val[:], seq)
	return b.batch.Set([]byte(keySeq), val[:], nil)
}

func (b *Batch) AppendEvent(rec events.Record) error {
	data, err := events.Marshal(rec)
	if err != nil {
		return err
	}
	b.store.mu.Lock()
	b.store.eventSeq++
	seq := b.store.eventSeq
	b.store.mu.Unlock()
	return b.batch.Set(eventKey(seq), data, nil)
}

func (b *Batch) Commit() error { return b.batch.Commit(pebble.Sync) }
func (b *Batch) Close() error  { return b.batch.Close() }
