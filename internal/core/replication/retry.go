package replication

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/seofernando25/catfish/internal/core/protocol"
)

const (
	DefaultMaxRetries  = 5
	DefaultAckTimeout  = time.Second
	DefaultRetryDelay  = 500 * time.Millisecond
	DefaultRemoveDelay = 100 * time.Millisecond
)

var (
	// ErrDisconnected ends delivery to a client that is gone. It is expected
	// lifecycle, not an application failure.
	ErrDisconnected = errors.New("client disconnected")
	ErrExhausted    = errors.New("retries exhausted")
)

// Socket is the slice of a client connection replication needs.
// *protocol.Connection satisfies it.
type Socket interface {
	ID() string
	EmitWithAck(ctx context.Context, event string, body protocol.Body) error
	Done() <-chan struct{}
}

// Options tunes one delivery. MaxRetries is the total number of attempts.
type Options struct {
	MaxRetries int
	AckTimeout time.Duration
	RetryDelay time.Duration
}

// DefaultOptions returns the per-event defaults: removes retry faster.
func DefaultOptions(event string) Options {
	opts := Options{
		MaxRetries: DefaultMaxRetries,
		AckTimeout: DefaultAckTimeout,
		RetryDelay: DefaultRetryDelay,
	}
	if event == protocol.EventRemoveEntity {
		opts.RetryDelay = DefaultRemoveDelay
	}
	return opts
}

func (o Options) withDefaults(event string) Options {
	d := DefaultOptions(event)
	if o.MaxRetries <= 0 {
		o.MaxRetries = d.MaxRetries
	}
	if o.AckTimeout <= 0 {
		o.AckTimeout = d.AckTimeout
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	} else if o.RetryDelay == 0 {
		o.RetryDelay = d.RetryDelay
	}
	return o
}

type Result struct {
	Success  bool
	Attempts int
	Err      error
}

// EmitWithRetry sends event until the client acks it or attempts run out.
// A constant delay separates attempts. If the socket goes away or ctx ends
// the loop stops at once with ErrDisconnected.
func EmitWithRetry(ctx context.Context, sock Socket, event string, body protocol.Body, opts Options) Result {
	opts = opts.withDefaults(event)

	var lastErr error
	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		if gone(ctx, sock) {
			return Result{Attempts: attempt - 1, Err: ErrDisconnected}
		}

		actx, cancel := context.WithTimeout(ctx, opts.AckTimeout)
		err := sock.EmitWithAck(actx, event, body)
		cancel()

		if err == nil {
			return Result{Success: true, Attempts: attempt}
		}
		if errors.Is(err, protocol.ErrConnectionClosed) || gone(ctx, sock) {
			return Result{Attempts: attempt, Err: errors.Wrap(ErrDisconnected, err.Error())}
		}
		lastErr = err

		if attempt == opts.MaxRetries {
			break
		}

		timer := time.NewTimer(opts.RetryDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return Result{Attempts: attempt, Err: ErrDisconnected}
		case <-sock.Done():
			timer.Stop()
			return Result{Attempts: attempt, Err: ErrDisconnected}
		}
	}

	return Result{
		Attempts: opts.MaxRetries,
		Err:      errors.Wrapf(ErrExhausted, "%s after %d attempts: %v", event, opts.MaxRetries, lastErr),
	}
}

func gone(ctx context.Context, sock Socket) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-sock.Done():
		return true
	default:
		return false
	}
}
