// Package events defines the notification records the engine emits,
// one per successful mutating operation. Records reach the outside
// world through an injected Sink so the core stays transport-free.
package events

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type Kind string

const (
	KindDeposit  Kind = "deposit"
	KindWithdraw Kind = "withdraw"
	KindOrder    Kind = "order"
	KindCancel   Kind = "cancel"
	KindTrade    Kind = "trade"
)

// Record is one notification. Records are immutable once emitted.
type Record interface {
	Kind() Kind
}

// Deposit is emitted after tokens move into custody and the ledger is credited.
type Deposit struct {
	Token     common.Address `json:"token"`
	Account   common.Address `json:"account"`
	Amount    *uint256.Int   `json:"amount"`
	Balance   *uint256.Int   `json:"balance"` // ledger balance after the credit
	Timestamp int64          `json:"timestamp"`
}

func (Deposit) Kind() Kind { return KindDeposit }

// Withdraw is emitted after the ledger is debited and tokens leave custody.
type Withdraw struct {
	Token     common.Address `json:"token"`
	Account   common.Address `json:"account"`
	Amount    *uint256.Int   `json:"amount"`
	Balance   *uint256.Int   `json:"balance"` // ledger balance after the debit
	Timestamp int64          `json:"timestamp"`
}

func (Withdraw) Kind() Kind { return KindWithdraw }

// Order is emitted once per order creation.
type Order struct {
	ID         uint64         `json:"id"`
	Creator    common.Address `json:"creator"`
	TokenGet   common.Address `json:"tokenGet"`
	AmountGet  *uint256.Int   `json:"amountGet"`
	TokenGive  common.Address `json:"tokenGive"`
	AmountGive *uint256.Int   `json:"amountGive"`
	Timestamp  int64          `json:"timestamp"`
}

func (Order) Kind() Kind { return KindOrder }

// Cancel is emitted once per order cancellation.
type Cancel struct {
	ID         uint64         `json:"id"`
	By         common.Address `json:"by"`
	TokenGet   common.Address `json:"tokenGet"`
	AmountGet  *uint256.Int   `json:"amountGet"`
	TokenGive  common.Address `json:"tokenGive"`
	AmountGive *uint256.Int   `json:"amountGive"`
	Timestamp  int64          `json:"timestamp"`
}

func (Cancel) Kind() Kind { return KindCancel }

// Trade is emitted once per fill. Its shape is deliberately distinct
// from Cancel: the filler leads and the creator trails.
type Trade struct {
	ID         uint64         `json:"id"`
	Filler     common.Address `json:"filler"`
	TokenGet   common.Address `json:"tokenGet"`
	AmountGet  *uint256.Int   `json:"amountGet"`
	TokenGive  common.Address `json:"tokenGive"`
	AmountGive *uint256.Int   `json:"amountGive"`
	FeeAmount  *uint256.Int   `json:"feeAmount"`
	Creator    common.Address `json:"creator"`
	Timestamp  int64          `json:"timestamp"`
}

func (Trade) Kind() Kind { return KindTrade }

// Sink consumes records. Emit is called with the engine lock held, so
// implementations must not call back into the engine.
type Sink interface {
	Emit(Record)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Emit(Record) {}

// Sinks fans out to several sinks in order.
type Sinks []Sink

func (s Sinks) Emit(r Record) {
	for _, sink := range s {
		sink.Emit(r)
	}
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Record)

func (f SinkFunc) Emit(r Record) { f(r) }

type envelope struct {
	Kind Kind   `json:"kind"`
	Data Record `json:"data"`
}

// Marshal wraps a record with its kind tag and encodes it as JSON.
// Used by the audit log and the websocket stream.
func Marshal(r Record) ([]byte, error) {
	return json.Marshal(envelope{Kind: r.Kind(), Data: r})
}
