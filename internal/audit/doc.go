// Package audit dispatches security events (logins, refreshes, lockouts,
// federated callbacks) to a sink without blocking the request path.
//
// [Dispatcher] owns one goroutine and a bounded buffer. With DropIfFull set,
// a full buffer drops the event and counts it in [Dispatcher.Dropped].
//
// This package does not decide which events to emit; the Engine does.
package audit
