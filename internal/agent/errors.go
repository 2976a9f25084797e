package agent

import "errors"

// Sentinel errors used to classify failures the way the supervisor's
// restart policy needs: configuration errors fail fast at construction,
// recoverable-transport errors trigger a pipeline restart, anything else
// is unexpected and shuts the process down.
var (
	ErrConfiguration        = errors.New("configuration error")
	ErrRecoverableTransport = errors.New("recoverable transport error")
	ErrQueueClosed          = errors.New("events manager closed")
)
