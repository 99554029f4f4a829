package types

import "errors"

// These errors are returned while decoding coordinator payloads.
var (
	// ErrUnknownAsset is returned when an asset ticker has no registry entry.
	ErrUnknownAsset = errors.New("unknown asset")

	// ErrUnsupportedAction is returned when a side-effect carries an action
	// tag the executor does not implement.
	ErrUnsupportedAction = errors.New("unsupported side effect action")

	// ErrMalformedArguments is returned when a side-effect's encoded call
	// arguments do not match its action's expected shape.
	ErrMalformedArguments = errors.New("malformed side effect arguments")
)
