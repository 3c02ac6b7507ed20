// Package broker implements the core of an embedded-style MQTT v5 broker:
// a bounded set of connection slots sharing one single-mutex distributor,
// with fixed buffers end to end so that a slow client can never wedge the
// others.
package broker

import (
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/spindlemq/spindle/internal/config"
	"github.com/spindlemq/spindle/internal/metrics"
)

// Broker accepts TCP connections and drives each one against the shared
// distributor. At most MaxConnections clients are served concurrently; the
// accept loop parks until a slot frees up.
type Broker struct {
	cfg  *config.Config
	log  *zap.Logger
	dist *Distributor

	mu       sync.Mutex
	running  bool
	listener net.Listener
	active   map[int]net.Conn

	quit  chan struct{}
	slots chan int
	wg    sync.WaitGroup
}

// New creates a broker with the given configuration.
func New(cfg *config.Config, log *zap.Logger) *Broker {
	b := &Broker{
		cfg:    cfg,
		log:    log,
		dist:   NewDistributor(log),
		active: make(map[int]net.Conn),
		quit:   make(chan struct{}),
		slots:  make(chan int, MaxConnections),
	}
	for i := 0; i < MaxConnections; i++ {
		b.slots <- i
	}
	return b
}

// Distributor exposes the shared core, mainly for tests.
func (b *Broker) Distributor() *Distributor { return b.dist }

// Addr returns the listener address once Start has bound it.
func (b *Broker) Addr() net.Addr {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listener == nil {
		return nil
	}
	return b.listener.Addr()
}

// Start begins listening for MQTT connections and blocks in the accept loop
// until Stop is called.
func (b *Broker) Start() error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return fmt.Errorf("broker is already running")
	}
	b.running = true
	b.mu.Unlock()

	addr := fmt.Sprintf("%s:%d", b.cfg.Server.Host, b.cfg.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start listener: %w", err)
	}
	b.mu.Lock()
	b.listener = listener
	b.mu.Unlock()

	b.log.Info("MQTT broker listening", zap.String("addr", listener.Addr().String()))

	for {
		sock, err := listener.Accept()
		if err != nil {
			b.mu.Lock()
			running := b.running
			b.mu.Unlock()
			if !running {
				return nil
			}
			b.log.Warn("accept error", zap.Error(err))
			continue
		}
		metrics.ConnectionsTotal.Inc()

		// Park until a connection slot frees up; the slot count bounds
		// concurrency, not the TCP backlog.
		select {
		case id := <-b.slots:
			b.wg.Add(1)
			go b.serveConn(id, sock)
		case <-b.quit:
			sock.Close()
		}
	}
}

// Stop shuts the broker down: the listener closes, live connections are torn
// down, and Stop returns once every connection driver has finished cleanup.
func (b *Broker) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	close(b.quit)
	if b.listener != nil {
		b.listener.Close()
	}
	for _, sock := range b.active {
		sock.Close()
	}
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

// serveConn runs one connection on slot id and returns the slot when done.
func (b *Broker) serveConn(id int, sock net.Conn) {
	defer b.wg.Done()

	b.mu.Lock()
	b.active[id] = sock
	b.mu.Unlock()

	log := b.log.With(zap.Int("slot", id), zap.String("remote", sock.RemoteAddr().String()))
	log.Info("connection accepted")

	if tcp, ok := sock.(*net.TCPConn); ok {
		tcp.SetKeepAlive(true)
		tcp.SetKeepAlivePeriod(b.cfg.Server.KeepAlive)
	}

	c := newConn(sock, b.dist.Handle(id), b.cfg.Server, log)
	if err := c.handshake(); err != nil {
		log.Warn("handshake failed", zap.Error(err))
	} else {
		metrics.ClientsConnected.Inc()
		log.Info("client connected")
		c.run()
		metrics.ClientsConnected.Dec()
	}

	// Cleanup restores the distributor invariants and fires a pending will.
	c.h.Cleanup()
	sock.Close()

	b.mu.Lock()
	delete(b.active, id)
	b.mu.Unlock()
	b.slots <- id
}
