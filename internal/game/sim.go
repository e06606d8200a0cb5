package game

import (
	"context"
	"math/rand"
	"slices"

	"github.com/seofernando25/catfish/internal/core/ecs"
	"github.com/seofernando25/catfish/internal/core/events"
	"github.com/seofernando25/catfish/internal/core/events/bus"
	"github.com/seofernando25/catfish/internal/core/observability/log"
	"github.com/seofernando25/catfish/internal/core/observability/metrics"
	"github.com/seofernando25/catfish/internal/core/systems/physics"
	"github.com/seofernando25/catfish/internal/core/ticker"
	"github.com/seofernando25/catfish/pkg/sequence"
)

type Deps struct {
	Logger  log.Log
	Metrics *metrics.Collector
	Bus     bus.EventBus
}

type afterTick struct {
	fn     func()
	active bool
}

// Sim is the application context: it owns the world and the clock that
// drives it, the systems registered on the world and the subscriptions
// connecting it to the rest of the process. Everything that touches the
// world runs on the ticker goroutine; use Do from anywhere else.
type Sim struct {
	cfg     Config
	world   *ecs.World
	ticker  *ticker.Ticker
	terrain *Terrain
	bounds  physics.Bounds
	rng     *rand.Rand

	logger  log.Log
	metrics *metrics.Collector
	bus     bus.EventBus

	players map[string]ecs.EntityID
	expiry  sequence.Schedule[ecs.EntityID]
	hooks   []*afterTick

	// teardowns run in reverse order on Close
	teardowns []func()
}

func New(cfg Config, tk *ticker.Ticker, deps Deps) *Sim {
	if deps.Logger == nil {
		deps.Logger = log.Nop()
	}
	s := &Sim{
		cfg:     cfg,
		world:   ecs.NewWorld(),
		ticker:  tk,
		terrain: NewTerrain(cfg),
		bounds:  physics.Square(cfg.WorldSize),
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		logger:  deps.Logger.With(log.Component("sim")),
		metrics: deps.Metrics,
		bus:     deps.Bus,
		players: make(map[string]ecs.EntityID),
	}

	s.addSystem(ecs.And(ecs.OfKind(KindPlayer), ecs.WithComponents(Position, Heading)), s.moveSystem)
	s.addSystem(ecs.And(ecs.OfKind(KindFishingSpot), ecs.WithComponents(Fishery)), s.fishingSystem)

	s.teardowns = append(s.teardowns, tk.OnTick(s.step))
	if s.bus != nil {
		s.subscribe(events.SessionSpawned, func(sess events.Session) {
			if _, err := s.SpawnPlayer(sess.ID); err != nil {
				s.logger.Error("failed to spawn player", log.String("session", sess.ID), log.Error(err))
			}
		})
		s.subscribe(events.SessionDisconnected, func(sess events.Session) {
			s.RemovePlayer(sess.ID)
		})
	}

	s.populate()
	return s
}

func (s *Sim) World() *ecs.World { return s.world }

func (s *Sim) Ticker() *ticker.Ticker { return s.ticker }

func (s *Sim) Terrain() *Terrain { return s.terrain }

func (s *Sim) Config() Config { return s.cfg }

// Do runs fn on the simulation goroutine at the start of the next tick.
func (s *Sim) Do(fn func()) { s.ticker.Enqueue(fn) }

// AfterTick registers fn to run after every world tick, when the mutated
// set for the tick is final.
func (s *Sim) AfterTick(fn func()) func() {
	h := &afterTick{fn: fn, active: true}
	s.hooks = append(s.hooks, h)
	return func() {
		if !h.active {
			return
		}
		h.active = false
		s.hooks = slices.DeleteFunc(s.hooks, func(x *afterTick) bool { return x == h })
	}
}

// Run drives the clock until ctx ends.
func (s *Sim) Run(ctx context.Context) error {
	s.logger.Info("simulation started",
		log.Float64("tickrate", s.ticker.Tickrate()),
		log.Int("entities", s.world.Len()),
	)
	err := s.ticker.Run(ctx)
	s.logger.Info("simulation stopped", log.Uint64("tick", s.ticker.CurrentTick()))
	return err
}

// Close undoes everything New registered.
func (s *Sim) Close() {
	for i := len(s.teardowns) - 1; i >= 0; i-- {
		s.teardowns[i]()
	}
	s.teardowns = nil
}

func (s *Sim) step() {
	// flags raised by queued actions since the last tick carry into this one
	queued := s.world.Mutated()
	s.world.Tick()
	for _, id := range queued {
		s.world.MarkMutated(id)
	}
	for _, h := range slices.Clone(s.hooks) {
		if h.active {
			h.fn()
		}
	}
	s.world.ClearMutated()
	s.metrics.SetEntities(s.world.Len())
}

func (s *Sim) addSystem(pred ecs.Predicate, fn ecs.System) {
	q := ecs.NewQuery(s.world, pred)
	dispose := s.world.AddSystem(q, fn)
	s.teardowns = append(s.teardowns, q.Dispose, func() { dispose() })
}

// subscribe defers bus events onto the simulation goroutine.
func (s *Sim) subscribe(eventType string, fn func(events.Session)) {
	sub, err := s.bus.Subscribe(eventType, func(e bus.Event) error {
		sess, ok := e.Data().(events.Session)
		if !ok {
			return nil
		}
		s.Do(func() { fn(sess) })
		return nil
	})
	if err != nil {
		s.logger.Error("bus subscription failed", log.String("event", eventType), log.Error(err))
		return
	}
	s.teardowns = append(s.teardowns, func() { _ = sub.Cancel() })
}

func (s *Sim) populate() {
	for _, fields := range chunkFields(s.cfg) {
		if _, err := s.world.AddEntity(s.world.Create(fields)); err != nil {
			s.logger.Error("failed to add chunk", log.Error(err))
		}
	}
	for i := 0; i < s.cfg.FishingSpots; i++ {
		s.spawnSpot()
	}
}
