// Package exchange implements the escrow exchange engine: a trusted
// ledger of deposited token balances and a book of bilateral orders
// filled one at a time by an explicit counter-party. Every operation
// runs under one exclusive lock and either completes or leaves all
// state exactly as it found it.
package exchange

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/dexcore/escrowd/pkg/events"
	"github.com/dexcore/escrowd/pkg/exchange/book"
	"github.com/dexcore/escrowd/pkg/exchange/ledger"
	"github.com/dexcore/escrowd/pkg/exchange/token"
	"github.com/dexcore/escrowd/pkg/storage"
	"github.com/dexcore/escrowd/pkg/util"
)

// Config is fixed at construction and immutable thereafter.
type Config struct {
	FeeCollector common.Address
	FeePercent   uint64 // integer percent of AmountGet, in [0,100]
}

// Engine orchestrates the ledger, the order book and the token
// collaborators. It is the only component that mutates ledger and book
// together.
type Engine struct {
	mu     sync.Mutex
	cfg    Config
	ledger *ledger.Ledger
	book   *book.Book
	tokens *token.Registry
	clock  util.Clock
	sink   events.Sink
	store  persister
	log    *zap.Logger
}

// persister is the slice of the storage layer the engine depends on.
// Narrowed to an interface so tests can inject failing commits.
type persister interface {
	LoadBalances(func(token, holder common.Address, amount *uint256.Int)) error
	LoadOrders(func(*book.Order)) error
	LoadOrderSeq() (uint64, error)
	NewBatch() batch
}

type batch interface {
	SaveBalance(token, holder common.Address, amount *uint256.Int) error
	SaveOrder(*book.Order) error
	SaveOrderSeq(uint64) error
	AppendEvent(events.Record) error
	Commit() error
	Close() error
}

type pebbleStore struct{ *storage.Store }

func (p pebbleStore) NewBatch() batch { return p.Store.NewBatch() }

type Option func(*Engine)

func WithClock(c util.Clock) Option     { return func(e *Engine) { e.clock = c } }
func WithSink(s events.Sink) Option     { return func(e *Engine) { e.sink = s } }
func WithStore(s *storage.Store) Option { return func(e *Engine) { e.store = pebbleStore{s} } }
func WithLogger(l *zap.Logger) Option   { return func(e *Engine) { e.log = l } }

// New builds an engine. If a store is supplied, persisted balances and
// orders are replayed before the engine accepts its first call.
func New(cfg Config, tokens *token.Registry, opts ...Option) (*Engine, error) {
	if cfg.FeePercent > 100 {
		return nil, fmt.Errorf("fee percent %d out of range [0,100]", cfg.FeePercent)
	}

	e := &Engine{
		cfg:    cfg,
		ledger: ledger.New(),
		book:   book.New(),
		tokens: tokens,
		clock:  util.RealClock{},
		sink:   events.NopSink{},
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.store != nil {
		if err := e.replay(); err != nil {
			return nil, fmt.Errorf("replay persisted state: %w", err)
		}
	}
	return e, nil
}

func (e *Engine) replay() error {
	err := e.store.LoadBalances(func(tok, holder common.Address, amount *uint256.Int) {
		e.ledger.Restore(tok, holder, amount)
	})
	if err != nil {
		return err
	}
	if err := e.store.LoadOrders(func(o *book.Order) { e.book.Restore(o) }); err != nil {
		return err
	}
	seq, err := e.store.LoadOrderSeq()
	if err != nil {
		return err
	}
	e.book.AdvanceSeq(seq)
	e.log.Info("state replayed",
		zap.Uint64("orders", e.book.Count()),
	)
	return nil
}

// Config returns the immutable construction configuration.
func (e *Engine) Config() Config { return e.cfg }

// DepositToken pulls amount of tok from account's external holding into
// custody, then credits the escrow ledger. The external transfer comes
// first so the ledger only ever reflects value actually received; if it
// fails nothing is mutated. Zero amounts are accepted as no-ops.
func (e *Engine) DepositToken(account, tok common.Address, amount *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.tokens.Get(tok)
	if err != nil {
		return err
	}
	if err := t.TransferIn(account, amount); err != nil {
		return fmt.Errorf("deposit %s of %s: %w", amount.Dec(), tok.Hex(), err)
	}
	if err := e.ledger.Credit(tok, account, amount); err != nil {
		// Ledger rejected the credit (overflow). Return custody so the
		// failed call stays side-effect free.
		_ = t.TransferOut(account, amount)
		return err
	}

	balance := e.ledger.BalanceOf(tok, account)
	rec := events.Deposit{
		Token:     tok,
		Account:   account,
		Amount:    new(uint256.Int).Set(amount),
		Balance:   balance,
		Timestamp: e.clock.Now().UnixMilli(),
	}
	if err := e.persist(rec, func(b batch) error {
		return b.SaveBalance(tok, account, balance)
	}); err != nil {
		// Roll the credit back and return custody so the failed call
		// stays side-effect free.
		_ = e.ledger.Debit(tok, account, amount)
		_ = t.TransferOut(account, amount)
		return err
	}

	e.sink.Emit(rec)
	e.log.Info("deposit",
		zap.String("token", tok.Hex()),
		zap.String("account", account.Hex()),
		zap.String("amount", amount.Dec()),
	)
	return nil
}

// WithdrawToken debits the escrow ledger, then pushes amount back to
// the account's external holding. The debit comes strictly first: a
// reentrant external call can never observe escrow it no longer owns.
// If the external transfer fails the debit is compensated while the
// engine lock is still held, so the failed call is side-effect free.
func (e *Engine) WithdrawToken(account, tok common.Address, amount *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.tokens.Get(tok)
	if err != nil {
		return err
	}
	if err := e.ledger.Debit(tok, account, amount); err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			return fmt.Errorf("withdraw %s of %s: %w", amount.Dec(), tok.Hex(), ErrAmountExceedsBalance)
		}
		return err
	}
	if err := t.TransferOut(account, amount); err != nil {
		if cerr := e.ledger.Credit(tok, account, amount); cerr != nil {
			// Restoring a just-debited cell cannot overflow.
			e.log.Error("withdraw compensation failed", zap.Error(cerr))
		}
		return fmt.Errorf("withdraw %s of %s: %w", amount.Dec(), tok.Hex(), err)
	}

	balance := e.ledger.BalanceOf(tok, account)
	rec := events.Withdraw{
		Token:     tok,
		Account:   account,
		Amount:    new(uint256.Int).Set(amount),
		Balance:   balance,
		Timestamp: e.clock.Now().UnixMilli(),
	}
	if err := e.persist(rec, func(b batch) error {
		return b.SaveBalance(tok, account, balance)
	}); err != nil {
		// Reclaim custody and restore the escrow balance. The reclaim
		// draws on the account's standing approval; if that is gone the
		// discrepancy is logged for the operator.
		if terr := t.TransferIn(account, amount); terr != nil {
			e.log.Error("withdraw compensation failed", zap.Error(terr))
		}
		_ = e.ledger.Credit(tok, account, amount)
		return err
	}

	e.sink.Emit(rec)
	e.log.Info("withdraw",
		zap.String("token", tok.Hex()),
		zap.String("account", account.Hex()),
		zap.String("amount", amount.Dec()),
	)
	return nil
}

// MakeOrder records a standing offer by creator to swap amountGive of
// tokenGive for amountGet of tokenGet. The offered escrow must be on
// deposit but is not locked: it stays attributed to the creator until
// fill time. Zero-amount orders are accepted.
func (e *Engine) MakeOrder(creator, tokenGet common.Address, amountGet *uint256.Int, tokenGive common.Address, amountGive *uint256.Int) (*book.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ledger.BalanceOf(tokenGive, creator).Lt(amountGive) {
		return nil, fmt.Errorf("make order offering %s of %s: %w", amountGive.Dec(), tokenGive.Hex(), ErrInsufficientEscrow)
	}

	o := e.book.Add(creator, tokenGet, amountGet, tokenGive, amountGive, e.clock.Now().UnixMilli())

	rec := events.Order{
		ID:         o.ID,
		Creator:    o.Creator,
		TokenGet:   o.TokenGet,
		AmountGet:  o.AmountGet,
		TokenGive:  o.TokenGive,
		AmountGive: o.AmountGive,
		Timestamp:  o.CreatedAt,
	}
	if err := e.persist(rec, func(b batch) error {
		if err := b.SaveOrder(o); err != nil {
			return err
		}
		return b.SaveOrderSeq(o.ID)
	}); err != nil {
		e.book.Remove(o.ID)
		return nil, err
	}

	e.sink.Emit(rec)
	e.log.Info("order created",
		zap.Uint64("id", o.ID),
		zap.String("creator", creator.Hex()),
	)
	return o, nil
}

// CancelOrder marks an open order cancelled. Only the creator may
// cancel, and a filled order can no longer be cancelled.
func (e *Engine) CancelOrder(caller common.Address, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev, err := e.book.Get(id)
	if err != nil {
		return fmt.Errorf("cancel order %d: %w", id, ErrOrderNotFound)
	}
	if caller != prev.Creator {
		return fmt.Errorf("cancel order %d: %w", id, ErrUnauthorized)
	}

	o, err := e.book.Cancel(id)
	if err != nil {
		return fmt.Errorf("cancel order %d: %w", id, mapBookErr(err))
	}

	rec := events.Cancel{
		ID:         o.ID,
		By:         caller,
		TokenGet:   o.TokenGet,
		AmountGet:  o.AmountGet,
		TokenGive:  o.TokenGive,
		AmountGive: o.AmountGive,
		Timestamp:  e.clock.Now().UnixMilli(),
	}
	if err := e.persist(rec, func(b batch) error {
		return b.SaveOrder(o)
	}); err != nil {
		e.book.Restore(prev)
		return err
	}

	e.sink.Emit(rec)
	e.log.Info("order cancelled", zap.Uint64("id", id))
	return nil
}

// FillOrder executes an order against caller's escrowed balances. The
// fee, floor(amountGet * feePercent / 100), is additive: the filler is
// debited amountGet plus the fee, the creator receives amountGet in
// full, the fee collector receives the fee. All five balance mutations
// land atomically or not at all.
func (e *Engine) FillOrder(caller common.Address, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, err := e.book.Get(id)
	if err != nil {
		return fmt.Errorf("fill order %d: %w", id, ErrOrderNotFound)
	}
	switch o.Status {
	case book.Filled:
		return fmt.Errorf("fill order %d: %w", id, ErrAlreadyFilled)
	case book.Cancelled:
		return fmt.Errorf("fill order %d: %w", id, ErrAlreadyCancelled)
	}
	prev := o // open snapshot, for unwinding a failed persist

	fee := new(uint256.Int)
	if _, overflow := fee.MulOverflow(o.AmountGet, uint256.NewInt(e.cfg.FeePercent)); overflow {
		return fmt.Errorf("fill order %d: fee: %w", id, ErrOverflow)
	}
	fee.Div(fee, uint256.NewInt(100))

	total := new(uint256.Int)
	if _, overflow := total.AddOverflow(o.AmountGet, fee); overflow {
		return fmt.Errorf("fill order %d: total: %w", id, ErrOverflow)
	}

	err = e.ledger.Apply(
		ledger.Debit(o.TokenGet, caller, total),
		ledger.Credit(o.TokenGet, o.Creator, o.AmountGet),
		ledger.Credit(o.TokenGet, e.cfg.FeeCollector, fee),
		ledger.Debit(o.TokenGive, o.Creator, o.AmountGive),
		ledger.Credit(o.TokenGive, caller, o.AmountGive),
	)
	if err != nil {
		return fmt.Errorf("fill order %d: %w", id, err)
	}

	o, err = e.book.Fill(id)
	if err != nil {
		// Unreachable: status was checked above under the same lock.
		return fmt.Errorf("fill order %d: %w", id, mapBookErr(err))
	}

	rec := events.Trade{
		ID:         o.ID,
		Filler:     caller,
		TokenGet:   o.TokenGet,
		AmountGet:  o.AmountGet,
		TokenGive:  o.TokenGive,
		AmountGive: o.AmountGive,
		FeeAmount:  fee,
		Creator:    o.Creator,
		Timestamp:  e.clock.Now().UnixMilli(),
	}
	if err := e.persist(rec, func(b batch) error {
		for _, cell := range []struct {
			tok, holder common.Address
		}{
			{o.TokenGet, caller},
			{o.TokenGet, o.Creator},
			{o.TokenGet, e.cfg.FeeCollector},
			{o.TokenGive, o.Creator},
			{o.TokenGive, caller},
		} {
			if err := b.SaveBalance(cell.tok, cell.holder, e.ledger.BalanceOf(cell.tok, cell.holder)); err != nil {
				return err
			}
		}
		return b.SaveOrder(o)
	}); err != nil {
		// Unwind the settlement entry by entry in reverse and reopen the
		// order. Every intermediate state below was valid on the way in,
		// so none of these entries can fail.
		_ = e.ledger.Apply(
			ledger.Debit(o.TokenGive, caller, o.AmountGive),
			ledger.Credit(o.TokenGive, o.Creator, o.AmountGive),
			ledger.Debit(o.TokenGet, e.cfg.FeeCollector, fee),
			ledger.Debit(o.TokenGet, o.Creator, o.AmountGet),
			ledger.Credit(o.TokenGet, caller, total),
		)
		e.book.Restore(prev)
		return err
	}

	e.sink.Emit(rec)
	e.log.Info("order filled",
		zap.Uint64("id", id),
		zap.String("filler", caller.Hex()),
		zap.String("fee", fee.Dec()),
	)
	return nil
}

// persist commits the write set plus the audit record in one batch.
// No-op when the engine runs without a store. Callers must compensate
// their in-memory mutations when it fails.
func (e *Engine) persist(rec events.Record, writes func(batch) error) error {
	if e.store == nil {
		return nil
	}
	b := e.store.NewBatch()
	defer b.Close()
	if err := writes(b); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	if err := b.AppendEvent(rec); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	if err := b.Commit(); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	return nil
}

func mapBookErr(err error) error {
	switch {
	case errors.Is(err, book.ErrNotFound):
		return ErrOrderNotFound
	case errors.Is(err, book.ErrAlreadyFilled):
		return ErrAlreadyFilled
	case errors.Is(err, book.ErrAlreadyCancelled):
		return ErrAlreadyCancelled
	default:
		return err
	}
}

// Read accessors take the engine lock so a reader can never observe a
// mid-operation state, e.g. a fill's settlement applied while the order
// still reads open.

// BalanceOf returns the escrowed balance of (tok, account).
func (e *Engine) BalanceOf(tok, account common.Address) *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.BalanceOf(tok, account)
}

// OrderCount returns the number of orders ever created.
func (e *Engine) OrderCount() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.Count()
}

// GetOrder returns a copy of the order, or ErrOrderNotFound.
func (e *Engine) GetOrder(id uint64) (*book.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.getOrder(id)
}

func (e *Engine) getOrder(id uint64) (*book.Order, error) {
	o, err := e.book.Get(id)
	if err != nil {
		return nil, fmt.Errorf("order %d: %w", id, ErrOrderNotFound)
	}
	return o, nil
}

// IsCancelled reports whether the order has been cancelled.
func (e *Engine) IsCancelled(id uint64) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, err := e.getOrder(id)
	if err != nil {
		return false, err
	}
	return o.Status == book.Cancelled, nil
}

// IsFilled reports whether the order has been filled.
func (e *Engine) IsFilled(id uint64) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, err := e.getOrder(id)
	if err != nil {
		return false, err
	}
	return o.Status == book.Filled, nil
}

// Orders returns copies of every order, ascending by id.
func (e *Engine) Orders() []*book.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.All()
}

// OrdersByStatus returns copies of all orders in the given status.
func (e *Engine) OrdersByStatus(s book.Status) []*book.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.List(s)
}
