package replication

import (
	"context"
	"sync"

	"github.com/seofernando25/catfish/internal/core/protocol"
)

type call struct {
	event string
	body  protocol.Body
}

// fakeSocket records every emit and answers through fail. A non-nil gate
// holds each emit until a value is received from it.
type fakeSocket struct {
	mu    sync.Mutex
	calls []call
	fail  func(n int, event string) error
	gate  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{done: make(chan struct{})}
}

func (s *fakeSocket) ID() string { return "fake" }

func (s *fakeSocket) Done() <-chan struct{} { return s.done }

func (s *fakeSocket) Disconnect() { s.once.Do(func() { close(s.done) }) }

func (s *fakeSocket) EmitWithAck(ctx context.Context, event string, body protocol.Body) error {
	s.mu.Lock()
	s.calls = append(s.calls, call{event: event, body: body})
	n := len(s.calls)
	fail, gate := s.fail, s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail != nil {
		return fail(n, event)
	}
	return nil
}

func (s *fakeSocket) Calls() []call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]call(nil), s.calls...)
}

func (s *fakeSocket) Events() []string {
	var out []string
	for _, c := range s.Calls() {
		out = append(out, c.event)
	}
	return out
}
