package replication

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/seofernando25/catfish/internal/core/ecs"
	"github.com/seofernando25/catfish/internal/core/observability/metrics"
	"github.com/seofernando25/catfish/internal/core/protocol"
	"github.com/seofernando25/catfish/pkg/encoding"
)

// Replicator is one client's view of the world. It remembers which entities
// the client has been sent so the snapshot and the live subscription never
// deliver the same entity twice, and it skips updates whose encoded payload
// did not change since the last one.
// Add payloads go out compressed; updates and the dedupe hash use the
// codec's uncompressed encoding.
type Replicator struct {
	outbox  *Outbox
	codec   *encoding.ZstdCodec
	metrics *metrics.Collector

	mu    sync.Mutex
	known map[ecs.EntityID]uint64
}

func NewReplicator(ctx context.Context, sock Socket, codec *encoding.ZstdCodec, cfg OutboxConfig) *Replicator {
	return &Replicator{
		outbox:  NewOutbox(ctx, sock, cfg),
		codec:   codec,
		metrics: cfg.Metrics,
		known:   make(map[ecs.EntityID]uint64),
	}
}

// Add queues add_entity unless the client already has e; in that case it
// returns a nil Pending. Fields are encoded immediately, so call it from the
// goroutine that owns the world.
func (r *Replicator) Add(e *ecs.Entity) (*Pending, error) {
	r.mu.Lock()
	if _, ok := r.known[e.ID()]; ok {
		r.mu.Unlock()
		return nil, nil
	}
	r.mu.Unlock()

	raw, err := r.codec.Inner().Encode(e.Fields())
	if err != nil {
		return nil, errors.Wrapf(err, "encode entity %d", e.ID())
	}

	r.mu.Lock()
	r.known[e.ID()] = encoding.Hash(raw)
	r.mu.Unlock()

	return r.outbox.Enqueue(e.ID(), protocol.EventAddEntity, protocol.Bytes(r.codec.Compress(raw))), nil
}

// Update queues update_entity for an entity the client knows about. Unknown
// entities and unchanged payloads return a nil Pending.
func (r *Replicator) Update(e *ecs.Entity) (*Pending, error) {
	r.mu.Lock()
	last, ok := r.known[e.ID()]
	r.mu.Unlock()
	if !ok {
		return nil, nil
	}

	raw, err := r.codec.Inner().Encode(e.Fields())
	if err != nil {
		return nil, errors.Wrapf(err, "encode entity %d", e.ID())
	}
	sum := encoding.Hash(raw)
	if sum == last {
		r.metrics.UpdateSkipped()
		return nil, nil
	}

	r.mu.Lock()
	if _, still := r.known[e.ID()]; !still {
		r.mu.Unlock()
		return nil, nil
	}
	r.known[e.ID()] = sum
	r.mu.Unlock()

	return r.outbox.Enqueue(e.ID(), protocol.EventUpdateEntity, protocol.Bytes(raw)), nil
}

// Remove queues remove_entity if the client was ever sent id.
func (r *Replicator) Remove(id ecs.EntityID) *Pending {
	r.mu.Lock()
	_, ok := r.known[id]
	delete(r.known, id)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return r.outbox.Enqueue(id, protocol.EventRemoveEntity, protocol.JSON(protocol.RemovePayload{ID: uint64(id)}))
}

func (r *Replicator) Knows(id ecs.EntityID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.known[id]
	return ok
}

// Pending reports queued or in-flight operations.
func (r *Replicator) Pending() int { return r.outbox.Len() }

func (r *Replicator) Close() { r.outbox.Close() }
