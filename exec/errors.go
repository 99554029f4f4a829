package exec

import "errors"

var (
	// ErrAlreadyLeading rejects a bid attempt while this executor's bid wins.
	ErrAlreadyLeading = errors.New("already the leading bidder")
	// ErrBidInFlight rejects a bid attempt while a submission is pending.
	ErrBidInFlight = errors.New("bid submission already in flight")
	// ErrNotInBidding rejects a bid attempt outside the bidding window.
	ErrNotInBidding = errors.New("side effect is not in bidding")

	// ErrUnknownXtx flags an event referencing an untracked transaction.
	ErrUnknownXtx = errors.New("unknown cross-chain transaction")
	// ErrUnknownSfx flags an event referencing an untracked side effect.
	ErrUnknownSfx = errors.New("unknown side effect")
	// ErrUnknownVendor flags a gateway-less target.
	ErrUnknownVendor = errors.New("no gateway configured for vendor")

	// ErrMismatchedPayload flags a side-effects event whose id and payload
	// lists differ in length.
	ErrMismatchedPayload = errors.New("side effect ids and payloads differ in length")
)
