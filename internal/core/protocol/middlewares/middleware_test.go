package middlewares

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/seofernando25/catfish/internal/core/observability/log"
	"github.com/seofernando25/catfish/internal/core/protocol"
)

func message(typ string) *protocol.Message {
	return &protocol.Message{Envelope: &protocol.Envelope{Type: typ}}
}

func TestChain_Order(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next protocol.Handler) protocol.Handler {
			return func(msg *protocol.Message) {
				order = append(order, name)
				next(msg)
			}
		}
	}

	h := Chain(func(*protocol.Message) { order = append(order, "handler") }, tag("a"), tag("b"))
	h(message("x"))
	assert.Equal(t, []string{"a", "b", "handler"}, order)
}

func TestRateLimit_DropsBeyondLimit(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	calls := 0
	h := Chain(func(*protocol.Message) { calls++ },
		RateLimit(3, time.Hour, log.NewFromZap(zap.New(core))))

	for i := 0; i < 10; i++ {
		h(message(protocol.EventActionMove))
	}
	assert.Equal(t, 3, calls)
	assert.Equal(t, 1, logs.FilterMessage("rate limit exceeded").Len(), "warn once per window")
}

func TestRateLimit_WindowResets(t *testing.T) {
	calls := 0
	h := RateLimit(1, 20*time.Millisecond, log.Nop())(func(*protocol.Message) { calls++ })

	h(message("x"))
	h(message("x"))
	assert.Equal(t, 1, calls)

	time.Sleep(30 * time.Millisecond)
	h(message("x"))
	assert.Equal(t, 2, calls)
}

func TestRateLimit_Disabled(t *testing.T) {
	calls := 0
	h := RateLimit(0, time.Second, log.Nop())(func(*protocol.Message) { calls++ })
	for i := 0; i < 5; i++ {
		h(message("x"))
	}
	assert.Equal(t, 5, calls)
}

func TestLogging_RecordsAtDebug(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handled := false
	h := Logging(log.NewFromZap(zap.New(core)))(func(*protocol.Message) { handled = true })

	h(message(protocol.EventSpawn))
	assert.True(t, handled)
	assert.Equal(t, 1, logs.FilterMessage("message handled").Len())
}
