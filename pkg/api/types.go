package api

import "github.com/holiman/uint256"

// Request/response shapes for the REST surface. Amounts cross the wire
// as strings (decimal or 0x-hex) and parse into 256-bit integers.

type DepositRequest struct {
	Address string       `json:"address"` // depositing account
	Token   string       `json:"token"`
	Amount  *uint256.Int `json:"amount"`
}

type WithdrawRequest struct {
	Address string       `json:"address"` // withdrawing account
	Token   string       `json:"token"`
	Amount  *uint256.Int `json:"amount"`
}

type MakeOrderRequest struct {
	Address    string       `json:"address"` // order creator
	TokenGet   string       `json:"tokenGet"`
	AmountGet  *uint256.Int `json:"amountGet"`
	TokenGive  string       `json:"tokenGive"`
	AmountGive *uint256.Int `json:"amountGive"`
}

// CallerRequest identifies the account behind a cancel or fill.
type CallerRequest struct {
	Address string `json:"address"`
}

type BalanceResponse struct {
	Token   string       `json:"token"`
	Address string       `json:"address"`
	Balance *uint256.Int `json:"balance"`
}

type OrderResponse struct {
	ID         uint64       `json:"id"`
	Creator    string       `json:"creator"`
	TokenGet   string       `json:"tokenGet"`
	AmountGet  *uint256.Int `json:"amountGet"`
	TokenGive  string       `json:"tokenGive"`
	AmountGive *uint256.Int `json:"amountGive"`
	CreatedAt  int64        `json:"createdAt"`
	Status     string       `json:"status"`
}

type OrderCountResponse struct {
	Count uint64 `json:"count"`
}

type StatusResponse struct {
	Status string `json:"status"`
	ID     uint64 `json:"id,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WSSubscribeRequest is sent by clients to manage channel subscriptions.
// Channels: "deposits", "withdrawals", "orders", "cancels", "trades".
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}
