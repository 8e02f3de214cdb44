// Package ledger is the authoritative store of escrow balances. A cell
// is keyed by (token, holder) and holds a non-negative 256-bit amount.
// Cells are created on first credit and never deleted; a zero balance
// is a valid steady state.
package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	// ErrInsufficientBalance is returned when a debit exceeds the cell balance.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrOverflow is returned when a credit would exceed the 256-bit range.
	// It indicates a configuration or input bug, never normal operation.
	ErrOverflow = errors.New("arithmetic overflow")
)

type cell struct {
	Token  common.Address
	Holder common.Address
}

// Entry is a single signed mutation of one cell. Entries are applied
// through Apply, which is all-or-nothing across the whole slice.
type Entry struct {
	Token  common.Address
	Holder common.Address
	Amount *uint256.Int
	Debit  bool
}

func Credit(token, holder common.Address, amount *uint256.Int) Entry {
	return Entry{Token: token, Holder: holder, Amount: amount}
}

func Debit(token, holder common.Address, amount *uint256.Int) Entry {
	return Entry{Token: token, Holder: holder, Amount: amount, Debit: true}
}

type Ledger struct {
	mu    sync.RWMutex
	cells map[cell]*uint256.Int
}

func New() *Ledger {
	return &Ledger{cells: make(map[cell]*uint256.Int)}
}

// BalanceOf returns the current balance of (token, holder), zero for
// cells that were never credited. The returned value is a copy.
func (l *Ledger) BalanceOf(token, holder common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	bal, ok := l.cells[cell{token, holder}]
	if !ok {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(bal)
}

// Apply mutates a set of cells atomically: every entry is validated
// against a scratch view first, and only if all debits are covered and
// no credit overflows is anything written back. On error the ledger is
// untouched.
func (l *Ledger) Apply(entries ...Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	scratch := make(map[cell]*uint256.Int, len(entries))
	view := func(c cell) *uint256.Int {
		if v, ok := scratch[c]; ok {
			return v
		}
		v := new(uint256.Int)
		if cur, ok := l.cells[c]; ok {
			v.Set(cur)
		}
		scratch[c] = v
		return v
	}

	for _, e := range entries {
		c := cell{e.Token, e.Holder}
		bal := view(c)
		if e.Debit {
			if bal.Lt(e.Amount) {
				return fmt.Errorf("debit %s of %s from %s: %w",
					e.Amount.Dec(), e.Token.Hex(), e.Holder.Hex(), ErrInsufficientBalance)
			}
			bal.Sub(bal, e.Amount)
		} else {
			if _, overflow := bal.AddOverflow(bal, e.Amount); overflow {
				return fmt.Errorf("credit %s of %s to %s: %w",
					e.Amount.Dec(), e.Token.Hex(), e.Holder.Hex(), ErrOverflow)
			}
		}
	}

	for c, v := range scratch {
		l.cells[c] = v
	}
	return nil
}

// Credit increases a single cell. Fails only on overflow.
func (l *Ledger) Credit(token, holder common.Address, amount *uint256.Int) error {
	return l.Apply(Credit(token, holder, amount))
}

// Debit decreases a single cell, failing with ErrInsufficientBalance
// if the cell holds less than amount.
func (l *Ledger) Debit(token, holder common.Address, amount *uint256.Int) error {
	return l.Apply(Debit(token, holder, amount))
}

// Restore sets a cell directly. Used when replaying persisted state at
// startup, never during normal operation.
func (l *Ledger) Restore(token, holder common.Address, amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cells[cell{token, holder}] = new(uint256.Int).Set(amount)
}

// Range calls fn for every cell. Iteration order is unspecified.
func (l *Ledger) Range(fn func(token, holder common.Address, amount *uint256.Int)) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for c, bal := range l.cells {
		fn(c.Token, c.Holder, new(uint256.Int).Set(bal))
	}
}
