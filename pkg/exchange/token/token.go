// Package token is the boundary to the asset contracts that actually
// move value in and out of the exchange's custody. The engine only ever
// sees the narrow Token capability; the ERC20 implementation in this
// package backs the devnet binary and the test fixtures.
package token

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientHolding   = errors.New("insufficient token holding")
	ErrInsufficientAllowance = errors.New("insufficient token allowance")
	ErrUnknownToken          = errors.New("unknown token")
)

// Token is the capability the engine holds for one asset. TransferIn
// pulls amount from an external holder into custody, TransferOut pushes
// it back. Both can fail; the engine treats failure as a rejection of
// the enclosing operation.
type Token interface {
	TransferIn(from common.Address, amount *uint256.Int) error
	TransferOut(to common.Address, amount *uint256.Int) error
	BalanceOf(holder common.Address) *uint256.Int
}

// ERC20 is an in-process token with the transfer/approve/transferFrom
// semantics the engine's custody flow relies on.
type ERC20 struct {
	Name   string
	Symbol string

	mu         sync.Mutex
	supply     *uint256.Int
	balances   map[common.Address]*uint256.Int
	allowances map[common.Address]map[common.Address]*uint256.Int
}

// NewERC20 mints the full supply to owner.
func NewERC20(name, symbol string, supply *uint256.Int, owner common.Address) *ERC20 {
	t := &ERC20{
		Name:       name,
		Symbol:     symbol,
		supply:     new(uint256.Int).Set(supply),
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[common.Address]map[common.Address]*uint256.Int),
	}
	t.balances[owner] = new(uint256.Int).Set(supply)
	return t
}

func (t *ERC20) TotalSupply() *uint256.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(uint256.Int).Set(t.supply)
}

func (t *ERC20) BalanceOf(holder common.Address) *uint256.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(uint256.Int).Set(t.balance(holder))
}

func (t *ERC20) balance(holder common.Address) *uint256.Int {
	b, ok := t.balances[holder]
	if !ok {
		b = new(uint256.Int)
		t.balances[holder] = b
	}
	return b
}

// Transfer moves amount from one holder to another.
func (t *ERC20) Transfer(from, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transfer(from, to, amount)
}

func (t *ERC20) transfer(from, to common.Address, amount *uint256.Int) error {
	src := t.balance(from)
	if src.Lt(amount) {
		return fmt.Errorf("%s: transfer %s from %s: %w", t.Symbol, amount.Dec(), from.Hex(), ErrInsufficientHolding)
	}
	src.Sub(src, amount)
	dst := t.balance(to)
	dst.Add(dst, amount)
	return nil
}

// Approve lets spender move up to amount on owner's behalf.
func (t *ERC20) Approve(owner, spender common.Address, amount *uint256.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	m, ok := t.allowances[owner]
	if !ok {
		m = make(map[common.Address]*uint256.Int)
		t.allowances[owner] = m
	}
	m[spender] = new(uint256.Int).Set(amount)
}

func (t *ERC20) Allowance(owner, spender common.Address) *uint256.Int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if a, ok := t.allowances[owner][spender]; ok {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int)
}

// TransferFrom moves amount from `from` to `to`, drawing down spender's
// allowance. Fails before mutating anything.
func (t *ERC20) TransferFrom(spender, from, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	allowance, ok := t.allowances[from][spender]
	if !ok || allowance.Lt(amount) {
		return fmt.Errorf("%s: spender %s on %s: %w", t.Symbol, spender.Hex(), from.Hex(), ErrInsufficientAllowance)
	}
	if err := t.transfer(from, to, amount); err != nil {
		return err
	}
	allowance.Sub(allowance, amount)
	return nil
}

// Custody binds an ERC20 to the exchange's custody address, yielding
// the Token capability the engine uses. TransferIn is a transferFrom
// with the custodian as spender and recipient, so a deposit requires a
// prior Approve by the depositor.
type Custody struct {
	token     *ERC20
	custodian common.Address
}

func NewCustody(t *ERC20, custodian common.Address) *Custody {
	return &Custody{token: t, custodian: custodian}
}

func (c *Custody) TransferIn(from common.Address, amount *uint256.Int) error {
	return c.token.TransferFrom(c.custodian, from, c.custodian, amount)
}

func (c *Custody) TransferOut(to common.Address, amount *uint256.Int) error {
	return c.token.Transfer(c.custodian, to, amount)
}

func (c *Custody) BalanceOf(holder common.Address) *uint256.Int {
	return c.token.BalanceOf(holder)
}

var _ Token = (*Custody)(nil)
