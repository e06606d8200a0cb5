package middlewares

import (
	"sync"
	"time"

	"github.com/seofernando25/catfish/internal/core/observability/log"
	"github.com/seofernando25/catfish/internal/core/protocol"
)

// RateLimit drops messages beyond limit per window. State lives in the
// returned middleware, so build one per connection. A limit of zero or less
// disables it.
func RateLimit(limit int, window time.Duration, logger log.Log) Middleware {
	return func(next protocol.Handler) protocol.Handler {
		if limit <= 0 || window <= 0 {
			return next
		}
		var (
			mu      sync.Mutex
			count   int
			started time.Time
			warned  bool
		)
		return func(msg *protocol.Message) {
			now := time.Now()
			mu.Lock()
			if now.Sub(started) > window {
				count, started, warned = 0, now, false
			}
			count++
			over := count > limit
			first := over && !warned
			if first {
				warned = true
			}
			mu.Unlock()

			if over {
				if first {
					logger.Warn("rate limit exceeded",
						log.String("type", msg.Type),
						log.Int("limit", limit),
						log.Duration("window", window),
					)
				}
				return
			}
			next(msg)
		}
	}
}
