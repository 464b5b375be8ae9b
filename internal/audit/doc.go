// Package audit delivers auth audit events off the request path.
//
// Events are queued on a bounded channel and handed to a [Sink] by a single
// worker goroutine. With DropIfFull set, a full queue drops the event and
// counts it instead of blocking the caller.
package audit
