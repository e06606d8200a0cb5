package server

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/seofernando25/catfish/internal/core/ecs"
	"github.com/seofernando25/catfish/internal/core/events"
	"github.com/seofernando25/catfish/internal/core/events/bus"
	"github.com/seofernando25/catfish/internal/core/observability/log"
	"github.com/seofernando25/catfish/internal/core/observability/metrics"
	"github.com/seofernando25/catfish/internal/core/protocol"
	"github.com/seofernando25/catfish/internal/core/protocol/middlewares"
	"github.com/seofernando25/catfish/internal/core/protocol/quic"
	"github.com/seofernando25/catfish/internal/core/protocol/websocket"
	"github.com/seofernando25/catfish/internal/core/replication"
	"github.com/seofernando25/catfish/internal/game"
	"github.com/seofernando25/catfish/pkg/concurrent"
	"github.com/seofernando25/catfish/pkg/encoding"
)

type Deps struct {
	Logger  log.Log
	Metrics *metrics.Collector
	Bus     bus.EventBus
}

// Server accepts clients over websocket (and optionally QUIC) and keeps
// each of them replicated with the simulation.
type Server struct {
	config  Config
	sim     *game.Sim
	logger  log.Log
	metrics *metrics.Collector
	bus     bus.EventBus

	codec    *encoding.ZstdCodec
	upgrader *gorilla.Upgrader
	wsConfig websocket.Config

	mu       sync.RWMutex
	sessions map[string]*session

	// simulation goroutine only
	live map[string]*session

	entities atomic.Int64
	running  atomic.Bool
	closed   atomic.Bool

	ready     chan struct{}
	readyOnce sync.Once
	addr      net.Addr
	quicAddr  net.Addr

	unhook func()
}

func New(cfg Config, sim *game.Sim, deps Deps) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = log.Nop()
	}
	if deps.Bus == nil {
		deps.Bus = bus.New()
	}
	compressor, err := encoding.NewCompressor()
	if err != nil {
		return nil, err
	}

	wsConfig := websocket.DefaultConfig()
	wsConfig.MaxMessageSize = int64(cfg.MaxMessageSize)

	s := &Server{
		config:   cfg,
		sim:      sim,
		logger:   deps.Logger.With(log.Component("server")),
		metrics:  deps.Metrics,
		bus:      deps.Bus,
		codec:    encoding.NewZstdCodec(encoding.ProtoCodec{}, compressor),
		upgrader: websocket.NewUpgrader(wsConfig),
		wsConfig: wsConfig,
		sessions: make(map[string]*session),
		live:     make(map[string]*session),
		ready:    make(chan struct{}),
	}
	s.unhook = sim.AfterTick(s.replicateMutations)

	s.logger.Info("server created",
		log.String("listen_addr", cfg.ListenAddr),
		log.Bool("quic", cfg.QUIC.Enabled),
		log.Int("max_clients", cfg.MaxClients),
	)
	return s, nil
}

// Handler serves /ws, /health and /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

// Run binds the listeners and serves until ctx ends. It also drives the
// simulation clock.
func (s *Server) Run(ctx context.Context) error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerAlreadyRunning
	}
	defer s.running.Store(false)

	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return errors.Wrap(ErrListenerFailed, err.Error())
	}
	s.addr = ln.Addr()

	var ql *quic.Listener
	if s.config.QUIC.Enabled {
		ql, err = s.listenQUIC()
		if err != nil {
			_ = ln.Close()
			return err
		}
		s.quicAddr = ql.Addr()
	}
	s.readyOnce.Do(func() { close(s.ready) })

	s.logger.Info("server listening", log.String("addr", s.addr.String()))

	g := concurrent.NewGroup(ctx)
	g.Go(s.sim.Run)
	g.Go(func(ctx context.Context) error { return s.serveHTTP(ctx, ln) })
	g.Go(s.broadcastTickSync)
	g.Go(s.reapIdle)
	if ql != nil {
		g.Go(func(ctx context.Context) error { return s.serveQUIC(ctx, ql) })
	}

	err = g.Wait()
	s.closeSessions()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	s.logger.Info("server stopped")
	return err
}

// Ready is closed once Run has bound its listeners.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr is the bound http address, valid after Ready.
func (s *Server) Addr() net.Addr { return s.addr }

// QUICAddr is the bound QUIC address when QUIC is enabled, valid after Ready.
func (s *Server) QUICAddr() net.Addr { return s.quicAddr }

// Close detaches the server from the simulation. Run must have returned.
func (s *Server) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.unhook()
	s.closeSessions()
}

func (s *Server) serveHTTP(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server")
	}
	return ctx.Err()
}

func (s *Server) listenQUIC() (*quic.Listener, error) {
	var (
		tlsConfig *tls.Config
		err       error
	)
	if s.config.QUIC.CertFile != "" {
		tlsConfig, err = quic.LoadTLS(s.config.QUIC.CertFile, s.config.QUIC.KeyFile)
	} else {
		tlsConfig, err = quic.GenerateSelfSignedTLS()
	}
	if err != nil {
		return nil, err
	}
	ql, err := quic.Listen(s.config.QUIC.ListenAddr, tlsConfig)
	if err != nil {
		return nil, errors.Wrap(ErrListenerFailed, err.Error())
	}
	s.logger.Info("quic listening", log.String("addr", ql.Addr().String()))
	return ql, nil
}

func (s *Server) serveQUIC(ctx context.Context, ql *quic.Listener) error {
	defer ql.Close()
	for {
		conn, err := ql.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("failed to accept quic connection", log.Error(err))
			continue
		}
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.config.Token != "" && r.URL.Query().Get("token") != s.config.Token {
		s.logger.Warn("rejected websocket client", log.String("remote_addr", r.RemoteAddr), log.Error(ErrUnauthorized))
		http.Error(w, ErrUnauthorized.Error(), http.StatusUnauthorized)
		return
	}
	if s.full() {
		http.Error(w, ErrMaxClientsReached.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Upgrade(s.upgrader, w, r, s.wsConfig)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", log.Error(err))
		return
	}
	s.serveConn(r.Context(), conn)
}

func (s *Server) full() bool {
	if s.config.MaxClients <= 0 {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions) >= s.config.MaxClients
}

// serveConn owns a client connection until it closes.
func (s *Server) serveConn(ctx context.Context, framer protocol.Framer) {
	if s.closed.Load() {
		_ = framer.Close()
		return
	}
	if s.full() {
		s.logger.Warn("maximum clients reached, rejecting connection",
			log.String("remote_addr", framer.RemoteAddr().String()))
		_ = framer.Close()
		return
	}

	conn := protocol.NewConnection(framer, protocol.Config{
		MaxMessageSize: s.config.MaxMessageSize,
		Logger:         s.logger,
		Metrics:        s.metrics,
	})
	// replication outlives the request context of the upgrade
	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess := &session{
		id:     conn.ID(),
		conn:   conn,
		logger: s.logger.With(log.String("session", conn.ID())),
		ctx:    sessCtx,
		cancel: cancel,
	}
	sess.repl = replication.NewReplicator(sessCtx, conn, s.codec, replication.OutboxConfig{
		BatchInterval: s.config.Replication.BatchInterval,
		MaxBatch:      s.config.Replication.MaxBatch,
		Retry:         s.config.Replication.outboxRetry(),
		Logger:        sess.logger,
		Metrics:       s.metrics,
	})

	logging := middlewares.Logging(sess.logger)
	conn.On(protocol.EventSpawn, middlewares.Chain(func(msg *protocol.Message) {
		s.sim.Do(func() { s.spawn(sess, msg) })
	}, logging))
	conn.On(protocol.EventActionMove, middlewares.Chain(func(msg *protocol.Message) {
		var move protocol.MovePayload
		if err := msg.Decode(&move); err != nil {
			sess.logger.Debug("bad action_move", log.Error(err))
			return
		}
		s.sim.Do(func() { s.sim.SetDirection(sess.id, move.X, move.Y) })
	}, logging, middlewares.RateLimit(s.config.MoveRateLimit, time.Second, sess.logger)))
	conn.On(protocol.EventActionCatch, middlewares.Chain(func(msg *protocol.Message) {
		var catch protocol.CatchPayload
		if err := msg.Decode(&catch); err != nil {
			sess.logger.Debug("bad action_catch", log.Error(err))
			return
		}
		s.sim.Do(func() { s.catch(sess, ecs.EntityID(catch.Spot)) })
	}, logging, middlewares.RateLimit(s.config.MoveRateLimit, time.Second, sess.logger)))
	conn.OnClose(func() { s.disconnect(sess) })

	s.addSession(sess)
	s.publish(events.SessionConnected, sess)
	if err := s.sendTickSync(sess); err != nil {
		sess.logger.Debug("initial tick_sync failed", log.Error(err))
	}

	if err := conn.Serve(ctx); err != nil {
		sess.logger.Debug("connection ended", log.Error(err))
	}
}

func (s *Server) addSession(sess *session) {
	s.mu.Lock()
	s.sessions[sess.id] = sess
	n := len(s.sessions)
	s.mu.Unlock()
	s.metrics.SetSessions(n)
	sess.logger.Info("client connected",
		log.String("remote_addr", sess.conn.RemoteAddr().String()),
		log.Int("total_clients", n),
	)
}

func (s *Server) disconnect(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	n := len(s.sessions)
	s.mu.Unlock()
	s.metrics.SetSessions(n)

	sess.cancel()
	sess.repl.Close()
	s.sim.Do(func() {
		delete(s.live, sess.id)
		sess.unsubscribe()
	})
	s.publish(events.SessionDisconnected, sess)
	sess.logger.Info("client disconnected", log.Int("total_clients", n))
}

func (s *Server) closeSessions() {
	for _, sess := range s.snapshotSessions() {
		_ = sess.conn.Close()
	}
}

func (s *Server) snapshotSessions() []*session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

func (s *Server) publish(eventType string, sess *session) {
	if err := s.bus.Publish(bus.NewEvent(eventType, "server", sess.info())); err != nil {
		s.logger.Warn("event handler failed", log.String("event", eventType), log.Error(err))
	}
}

// reapIdle closes connections that have been silent for ClientTimeout.
func (s *Server) reapIdle(ctx context.Context) error {
	if s.config.HealthCheckInterval <= 0 || s.config.ClientTimeout <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	t := time.NewTicker(s.config.HealthCheckInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-t.C:
			for _, sess := range s.snapshotSessions() {
				if now.Sub(sess.conn.LastReceived()) > s.config.ClientTimeout {
					sess.logger.Info("closing idle client")
					_ = sess.conn.Close()
				}
			}
		}
	}
}
