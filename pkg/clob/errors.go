package clob

import "errors"

// Every error is operation-scoped: a failed operation aborts atomically and
// leaves book and balances exactly as they were before the call.
var (
	// Validation: rejected before any state mutation.
	ErrInvalidPrice    = errors.New("invalid price")
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrInvalidOrder    = errors.New("invalid order")
	ErrUnknownOrder    = errors.New("order not found")
	ErrUnknownMarket   = errors.New("market not found")
	ErrMarketNotActive = errors.New("market not active")

	// Funds.
	ErrInsufficientAvailable = errors.New("insufficient available balance")
	ErrInsufficientLocked    = errors.New("insufficient locked balance")

	// Ownership and lifecycle.
	ErrNotOwner    = errors.New("not order owner")
	ErrOrderClosed = errors.New("order already filled or cancelled")

	// Guards.
	ErrReentrantCall = errors.New("reentrant call")
	ErrFillBudget    = errors.New("fill budget exceeded")

	// Hook protocol: a hook may refuse or adjust, but a wrong acknowledgment
	// or an uninvokable lifecycle point aborts the enclosing operation.
	ErrHookMisbehaved     = errors.New("hook misbehaved")
	ErrHookNotImplemented = errors.New("hook lifecycle point not implemented")
)
