// Package middlewares wraps protocol handlers with cross-cutting behaviour.
package middlewares

import "github.com/seofernando25/catfish/internal/core/protocol"

type Middleware func(next protocol.Handler) protocol.Handler

// Chain applies mws so that the first one listed sees the message first.
func Chain(h protocol.Handler, mws ...Middleware) protocol.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
