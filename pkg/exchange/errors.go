package exchange

import "errors"

// Failure taxonomy of the engine. The message texts are the revert
// reasons of the on-chain contract this engine mirrors, kept verbatim
// so downstream consumers see identical rejections.
var (
	// ErrAmountExceedsBalance rejects a withdrawal larger than the
	// caller's escrowed balance.
	ErrAmountExceedsBalance = errors.New("Amount exceeds token balance")

	// ErrInsufficientEscrow rejects an order offering more than the
	// creator has on deposit.
	ErrInsufficientEscrow = errors.New("Tokens deposited are not enough")

	// ErrOrderNotFound rejects any reference to an id outside
	// [1, orderCount].
	ErrOrderNotFound = errors.New("Order does not exist")

	// ErrUnauthorized rejects a cancel by anyone but the order creator.
	ErrUnauthorized = errors.New("Only the order maker can cancel the order")

	ErrAlreadyFilled    = errors.New("Order has been filled")
	ErrAlreadyCancelled = errors.New("Order has been cancelled")

	// ErrOverflow indicates fee or total arithmetic left the 256-bit
	// range. A configuration or input bug, never normal operation.
	ErrOverflow = errors.New("arithmetic overflow")
)
