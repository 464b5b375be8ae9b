package tokutei

import "errors"

var (
	// ErrEngineNotReady is returned when an Engine method is used after Close
	// or on a nil Engine.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrClientIDRequired is returned when a store is requested without a
	// client id.
	ErrClientIDRequired = errors.New("client id required")
	// ErrStoreClosed is returned by actions on an evicted or closed store.
	ErrStoreClosed = errors.New("store closed")
	// ErrSuperseded is returned by an action whose backend call succeeded
	// after a newer action was started on the same store. The state was
	// left to the newer action.
	ErrSuperseded = errors.New("superseded by a newer request")
)
