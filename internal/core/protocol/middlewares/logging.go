package middlewares

import (
	"time"

	"github.com/seofernando25/catfish/internal/core/observability/log"
	"github.com/seofernando25/catfish/internal/core/protocol"
)

// Logging records every handled message at debug level.
func Logging(logger log.Log) Middleware {
	return func(next protocol.Handler) protocol.Handler {
		return func(msg *protocol.Message) {
			if !logger.Enabled(log.LevelDebug) {
				next(msg)
				return
			}
			start := time.Now()
			next(msg)
			logger.Debug("message handled",
				log.String("type", msg.Type),
				log.Uint64("seq", msg.Seq),
				log.Duration("took", time.Since(start)),
			)
		}
	}
}
