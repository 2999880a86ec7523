package chain

import (
	"errors"
	"fmt"
	"time"
)

// RPCError classifies a provider failure. Temporary errors are retried
// with rotation; permanent ones surface immediately.
type RPCError struct {
	Code        int
	Message     string
	HTTPStatus  int
	RateLimited bool
	Temporary   bool
	RetryAfter  time.Duration
}

func (e *RPCError) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("rpc error: http %d code %d: %s", e.HTTPStatus, e.Code, e.Message)
	}
	return fmt.Sprintf("rpc error: code %d: %s", e.Code, e.Message)
}

// IsTemporary reports whether the error is worth a retry on the same or
// a rotated endpoint.
func IsTemporary(err error) bool {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Temporary
	}
	// Transport-level failures (timeouts, resets) are temporary.
	return err != nil
}

// IsRateLimited reports whether the provider throttled the call.
func IsRateLimited(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && rpcErr.RateLimited
}
