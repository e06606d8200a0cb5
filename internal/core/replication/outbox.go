package replication

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/seofernando25/catfish/internal/core/ecs"
	"github.com/seofernando25/catfish/internal/core/observability/log"
	"github.com/seofernando25/catfish/internal/core/observability/metrics"
	"github.com/seofernando25/catfish/internal/core/protocol"
	"github.com/seofernando25/catfish/pkg/sequence"
)

const (
	DefaultBatchInterval = 50 * time.Millisecond
	DefaultMaxBatch      = 32
)

// Pending resolves once its operation is acked, exhausted or abandoned.
type Pending struct {
	done   chan struct{}
	result Result
}

func newPending() *Pending { return &Pending{done: make(chan struct{})} }

func (p *Pending) resolve(r Result) {
	p.result = r
	close(p.done)
}

func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the operation settles. It returns the delivery error,
// if any, or ctx's error when ctx ends first.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.result.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Result is only meaningful after Done is closed.
func (p *Pending) Result() Result { return p.result }

type op struct {
	id       ecs.EntityID
	event    string
	body     protocol.Body
	pending  *Pending
	released bool
	started  bool
}

// lane holds the operations of one entity. Only its head is ever in flight.
type lane struct {
	ops     sequence.Queue[*op]
	running bool
}

type OutboxConfig struct {
	BatchInterval time.Duration
	MaxBatch      int
	// Retry overrides per event; missing events use DefaultOptions.
	Retry   map[string]Options
	Logger  log.Log
	Metrics *metrics.Collector
}

// Outbox delivers replication operations to one client. Operations on the
// same entity are delivered strictly in order; different entities proceed
// independently. Adds are held back and released in bounded batches on a
// fixed interval so a large snapshot does not flood the client.
type Outbox struct {
	sock    Socket
	config  OutboxConfig
	logger  log.Log
	metrics *metrics.Collector

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	lanes  map[ecs.EntityID]*lane
	adds   sequence.Queue[*op]
	closed bool
}

func NewOutbox(ctx context.Context, sock Socket, cfg OutboxConfig) *Outbox {
	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = DefaultBatchInterval
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = DefaultMaxBatch
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Nop()
	}
	ctx, cancel := context.WithCancel(ctx)
	o := &Outbox{
		sock:    sock,
		config:  cfg,
		logger:  cfg.Logger.With(log.Component("outbox"), log.String("socket", sock.ID())),
		metrics: cfg.Metrics,
		ctx:     ctx,
		cancel:  cancel,
		lanes:   make(map[ecs.EntityID]*lane),
	}
	o.wg.Add(1)
	go o.drainLoop()
	return o
}

// Enqueue schedules event for entity id. An update that has not started yet
// and sits at the tail of the entity's lane absorbs newer updates.
func (o *Outbox) Enqueue(id ecs.EntityID, event string, body protocol.Body) *Pending {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		p := newPending()
		p.resolve(Result{Err: ErrDisconnected})
		return p
	}

	l := o.lanes[id]
	if l == nil {
		l = &lane{}
		o.lanes[id] = l
	}

	if event == protocol.EventUpdateEntity {
		if tail, ok := l.ops.Tail(); ok && tail.event == event && !tail.started {
			tail.body = body
			return tail.pending
		}
	}

	item := &op{id: id, event: event, body: body, pending: newPending()}
	if event == protocol.EventAddEntity {
		o.adds.Push(item)
	} else {
		item.released = true
	}
	l.ops.Push(item)
	o.kickLocked(l)
	return item.pending
}

// Len reports operations not yet settled.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, l := range o.lanes {
		n += l.ops.Len()
	}
	return n
}

// Close abandons everything still queued and stops in-flight retries.
func (o *Outbox) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.cancel()
	o.adds.Drain()
	for id, l := range o.lanes {
		if l.running {
			// the worker settles the head and fails the rest
			continue
		}
		abandon(l)
		delete(o.lanes, id)
	}
	o.mu.Unlock()
	o.wg.Wait()
}

func (o *Outbox) drainLoop() {
	defer o.wg.Done()
	t := time.NewTicker(o.config.BatchInterval)
	defer t.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-o.sock.Done():
			go o.Close()
			return
		case <-t.C:
			o.releaseBatch()
		}
	}
}

func (o *Outbox) releaseBatch() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := 0; i < o.config.MaxBatch; i++ {
		item, ok := o.adds.Pop()
		if !ok {
			return
		}
		item.released = true
		if l := o.lanes[item.id]; l != nil {
			o.kickLocked(l)
		}
	}
}

func (o *Outbox) kickLocked(l *lane) {
	if l.running || o.closed {
		return
	}
	head, ok := l.ops.Peek()
	if !ok || !head.released {
		return
	}
	head.started = true
	l.running = true
	o.wg.Add(1)
	go o.deliver(l, head)
}

func (o *Outbox) deliver(l *lane, item *op) {
	defer o.wg.Done()

	res := EmitWithRetry(o.ctx, o.sock, item.event, item.body, o.config.Retry[item.event])
	o.record(item, res)

	o.mu.Lock()
	l.ops.Pop()
	l.running = false
	item.pending.resolve(res)
	if o.closed {
		abandon(l)
	}
	if l.ops.Len() == 0 {
		if o.lanes[item.id] == l {
			delete(o.lanes, item.id)
		}
	} else {
		o.kickLocked(l)
	}
	o.mu.Unlock()
}

func (o *Outbox) record(item *op, res Result) {
	outcome := "acked"
	switch {
	case res.Success:
	case errors.Is(res.Err, ErrDisconnected):
		outcome = "disconnected"
	default:
		outcome = "dropped"
		o.logger.Warn("replication dropped",
			log.String("event", item.event),
			log.Uint64("entity", uint64(item.id)),
			log.Int("attempts", res.Attempts),
			log.Error(res.Err),
		)
	}
	o.metrics.ObserveReplication(item.event, outcome, res.Attempts)
}

func abandon(l *lane) {
	for _, item := range l.ops.Drain() {
		item.pending.resolve(Result{Err: ErrDisconnected})
	}
}
