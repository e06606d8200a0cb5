package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/seofernando25/catfish/internal/core/ecs"
	"github.com/seofernando25/catfish/internal/core/events"
	"github.com/seofernando25/catfish/internal/core/observability/log"
	"github.com/seofernando25/catfish/internal/core/protocol"
	"github.com/seofernando25/catfish/pkg/concurrent"
)

// spawn runs on the simulation goroutine. The client's ack arrives once
// every snapshot entity has been acked or given up on.
func (s *Server) spawn(sess *session, msg *protocol.Message) {
	if sess.ctx.Err() != nil {
		return
	}
	if sess.spawned {
		if err := msg.Ack(); err != nil {
			sess.logger.Debug("spawn ack failed", log.Error(err))
		}
		return
	}
	sess.spawned = true
	s.live[sess.id] = sess

	snapshot := sess.subscribe(s.sim.World())
	sess.logger.Info("spawn requested", log.Int("snapshot", len(snapshot)))

	go func() {
		started := time.Now()
		failed, err := concurrent.WaitAll(sess.ctx, snapshot)
		if err != nil {
			return
		}
		if failed > 0 {
			sess.logger.Warn("spawn snapshot incomplete", log.Int("failed", failed), log.Int("total", len(snapshot)))
		}
		if err = msg.Ack(); err != nil {
			sess.logger.Debug("spawn ack failed", log.Error(err))
			return
		}
		sess.logger.Info("client spawned", log.Duration("took", time.Since(started)))
		s.publish(events.SessionSpawned, sess)
	}()
}

// catch runs on the simulation goroutine. Only spawned sessions may fish;
// the new fish count reaches clients as an ordinary update.
func (s *Server) catch(sess *session, spot ecs.EntityID) {
	if !sess.spawned {
		return
	}
	if !s.sim.Catch(spot) {
		sess.logger.Debug("catch missed", log.Uint64("spot", uint64(spot)))
	}
}

// replicateMutations runs after every world tick and sends the entities
// flagged during it to every spawned session.
func (s *Server) replicateMutations() {
	world := s.sim.World()
	s.entities.Store(int64(world.Len()))

	ids := world.Mutated()
	if len(ids) == 0 || len(s.live) == 0 {
		return
	}
	for _, id := range ids {
		e, ok := world.Entity(id)
		if !ok {
			continue
		}
		for _, sess := range s.live {
			if _, err := sess.repl.Update(e); err != nil {
				sess.logger.Error("failed to replicate update", log.Uint64("entity", uint64(id)), log.Error(err))
			}
		}
	}
}

func (s *Server) sendTickSync(sess *session) error {
	return sess.conn.Emit(sess.ctx, protocol.EventTickSync, protocol.JSON(s.sim.Ticker().Info()))
}

// broadcastTickSync keeps client clocks from drifting.
func (s *Server) broadcastTickSync(ctx context.Context) error {
	t := time.NewTicker(s.config.TickSyncInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			for _, sess := range s.snapshotSessions() {
				if err := s.sendTickSync(sess); err != nil {
					sess.logger.Debug("tick_sync failed", log.Error(err))
				}
			}
		}
	}
}

type healthReport struct {
	Status   string  `json:"status"`
	Tick     uint64  `json:"tick"`
	Tickrate float64 `json:"tickrate"`
	Entities int64   `json:"entities"`
	Sessions int     `json:"sessions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	sessions := len(s.sessions)
	s.mu.RUnlock()

	tk := s.sim.Ticker()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthReport{
		Status:   "ok",
		Tick:     tk.CurrentTick(),
		Tickrate: tk.Tickrate(),
		Entities: s.entities.Load(),
		Sessions: sessions,
	})
}
