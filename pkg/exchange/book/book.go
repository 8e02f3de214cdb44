// Package book stores orders keyed by a monotonically increasing id.
// An order's only mutable field is its status, which moves from Open to
// exactly one of Cancelled or Filled and never back.
package book

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrNotFound         = errors.New("order not found")
	ErrAlreadyFilled    = errors.New("order already filled")
	ErrAlreadyCancelled = errors.New("order already cancelled")
)

// Status is the lifecycle state of an order. A single enum (rather than
// independent cancelled/filled flags) makes Filled+Cancelled unrepresentable.
type Status int8

const (
	Open Status = iota
	Cancelled
	Filled
)

func (s Status) String() string {
	switch s {
	case Open:
		return "open"
	case Cancelled:
		return "cancelled"
	case Filled:
		return "filled"
	default:
		return "unknown"
	}
}

// Order is a standing offer by Creator to swap AmountGive of TokenGive
// for AmountGet of TokenGet. Immutable once created except for Status.
type Order struct {
	ID         uint64         `json:"id"`
	Creator    common.Address `json:"creator"`
	TokenGet   common.Address `json:"tokenGet"`
	AmountGet  *uint256.Int   `json:"amountGet"`
	TokenGive  common.Address `json:"tokenGive"`
	AmountGive *uint256.Int   `json:"amountGive"`
	CreatedAt  int64          `json:"createdAt"` // unix milliseconds
	Status     Status         `json:"status"`
}

func (o *Order) clone() *Order {
	c := *o
	c.AmountGet = new(uint256.Int).Set(o.AmountGet)
	c.AmountGive = new(uint256.Int).Set(o.AmountGive)
	return &c
}

type Book struct {
	mu     sync.RWMutex
	orders map[uint64]*Order
	seq    uint64
}

func New() *Book {
	return &Book{orders: make(map[uint64]*Order)}
}

// Add assigns the next sequential id (starting at 1) and stores the
// order as Open. Returns a copy of the stored order.
func (b *Book) Add(creator, tokenGet common.Address, amountGet *uint256.Int, tokenGive common.Address, amountGive *uint256.Int, createdAt int64) *Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	o := &Order{
		ID:         b.seq,
		Creator:    creator,
		TokenGet:   tokenGet,
		AmountGet:  new(uint256.Int).Set(amountGet),
		TokenGive:  tokenGive,
		AmountGive: new(uint256.Int).Set(amountGive),
		CreatedAt:  createdAt,
		Status:     Open,
	}
	b.orders[o.ID] = o
	return o.clone()
}

// Get returns a copy of the order, or ErrNotFound for unknown ids.
func (b *Book) Get(id uint64) (*Order, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	o, ok := b.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	return o.clone(), nil
}

// Count returns the number of orders ever created.
func (b *Book) Count() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

// Cancel marks an order cancelled. Filled and cancelled orders are
// terminal, so both are rejected.
func (b *Book) Cancel(id uint64) (*Order, error) {
	return b.transition(id, Cancelled)
}

// Fill marks an order filled.
func (b *Book) Fill(id uint64) (*Order, error) {
	return b.transition(id, Filled)
}

func (b *Book) transition(id uint64, to Status) (*Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	switch o.Status {
	case Filled:
		return nil, fmt.Errorf("order %d: %w", id, ErrAlreadyFilled)
	case Cancelled:
		return nil, fmt.Errorf("order %d: %w", id, ErrAlreadyCancelled)
	}
	o.Status = to
	return o.clone(), nil
}

// List returns copies of all orders with the given status, ascending by id.
func (b *Book) List(status Status) []*Order {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*Order
	for id := uint64(1); id <= b.seq; id++ {
		if o, ok := b.orders[id]; ok && o.Status == status {
			out = append(out, o.clone())
		}
	}
	return out
}

// All returns copies of every order, ascending by id.
func (b *Book) All() []*Order {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*Order, 0, len(b.orders))
	for id := uint64(1); id <= b.seq; id++ {
		if o, ok := b.orders[id]; ok {
			out = append(out, o.clone())
		}
	}
	return out
}

// Remove deletes an order and, if it was the newest, rolls the id
// counter back so the next Add reuses the slot. Used to undo an Add
// whose persistence failed; never called for committed orders.
func (b *Book) Remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.orders[id]; !ok {
		return
	}
	delete(b.orders, id)
	if id == b.seq {
		b.seq--
	}
}

// AdvanceSeq raises the id counter to at least n. Used when replaying
// a persisted counter so ids stay monotonic across restarts.
func (b *Book) AdvanceSeq(n uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > b.seq {
		b.seq = n
	}
}

// Restore inserts a persisted order verbatim and advances the id
// counter past it. Used when replaying state at startup.
func (b *Book) Restore(o *Order) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.orders[o.ID] = o.clone()
	if o.ID > b.seq {
		b.seq = o.ID
	}
}
