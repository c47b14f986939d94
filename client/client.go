// Package client is the public facade: it wires internal/netchan,
// internal/handshake, internal/decoder, internal/entity and internal/oob
// behind a single connection object, running one receive-loop goroutine
// and one timer goroutine supervised by golang.org/x/sync/errgroup.
package client

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rs/xid"

	"q2mon-go/internal/config"
	"q2mon-go/internal/decoder"
	"q2mon-go/internal/entity"
	"q2mon-go/internal/events"
	"q2mon-go/internal/handshake"
	"q2mon-go/internal/netchan"
	"q2mon-go/internal/oob"
	"q2mon-go/internal/protocol"
	"q2mon-go/internal/q2err"
	"q2mon-go/internal/wire"
	"q2mon-go/pkg/logger"
)

const (
	initialConnectTimeout = 15 * time.Second
	statusQueryTimeout    = 1 * time.Second
	receiveBufferSize     = 4096
)

// Client is the stateful connection to one Quake 2 server. It is safe
// for concurrent use: state-mutating work happens only on the receive
// and timer goroutines, and public getters take the same mutex those
// goroutines hold while updating state.
type Client struct {
	cfg    config.Config
	connID string
	qport  uint16

	conn *net.UDPConn

	mu       sync.RWMutex
	nc       *netchan.Channel
	hs       *handshake.Machine
	dec      *decoder.Decoder
	tracker  *entity.Tracker
	monitor  *oob.Monitor
	dispatch *events.Dispatcher

	connectDone   chan struct{}
	beginTimer    *time.Timer
	lastHeartbeat time.Time
	log           *logger.Logger

	cancel context.CancelFunc
}

// New constructs a Client ready to Connect. cfg must have ServerIP and
// PlayerName set.
func New(cfg config.Config) *Client {
	connID := xid.New().String()
	qport := uint16(xid.New().Counter() & 0xFFFF)
	disp := events.NewDispatcher(256)
	nowMS := func() int64 { return time.Now().UnixMilli() }

	c := &Client{
		cfg:      cfg,
		connID:   connID,
		qport:    qport,
		hs:       handshake.New(cfg.PlayerName, cfg.PassiveMode, qport, cfg.MaxReconnectAttempts),
		tracker:  entity.NewTracker(),
		dispatch: disp,
		monitor:  oob.NewMonitor(disp, nowMS),
		log:      logger.With("conn", connID),
	}
	c.dec = decoder.New(c.tracker, disp, nowMS)
	c.dec.SetDebug(cfg.Debug)
	return c
}

// Subscribe registers sink for a specific event kind.
func (c *Client) Subscribe(kind events.Kind, sink events.Sink) { c.dispatch.Subscribe(kind, sink) }

// Unsubscribe removes sink from kind's subscriber list.
func (c *Client) Unsubscribe(kind events.Kind, sink events.Sink) { c.dispatch.Unsubscribe(kind, sink) }

// Events returns the pull-style channel of emitted events.
func (c *Client) Events() <-chan events.Event { return c.dispatch.Events() }

// GetPlayerState returns the local player's most recently decoded state.
func (c *Client) GetPlayerState() entity.PlayerState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dec.PlayerState()
}

// GetEntity returns entity number's current state.
func (c *Client) GetEntity(number int) (entity.State, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tracker.Current(number)
}

// GetActiveEntities returns every currently-active entity.
func (c *Client) GetActiveEntities() []entity.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tracker.Active()
}

// GetPlayers returns the most recently polled OOB status player list.
func (c *Client) GetPlayers() []oob.Player {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.monitor.LastPlayers()
}

// Connect resolves the server address, binds a UDP socket, and starts
// the supervised receive/timer goroutines. In monitor mode it stops
// there — OOB status polling only, never opening a netchan. Otherwise
// it runs the challenge/connect handshake to completion (or
// initialConnectTimeout).
func (c *Client) Connect(ctx context.Context) error {
	addr := &net.UDPAddr{IP: net.ParseIP(c.cfg.ServerIP), Port: c.cfg.ServerPort}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return &q2err.TransportError{Op: "dial", Err: err}
	}
	c.conn = conn

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return c.receiveLoop(gctx) })
	g.Go(func() error { return c.timerLoop(gctx) })

	go func() {
		if err := g.Wait(); err != nil {
			c.log.Warn("connection supervisor exited: %v", err)
		}
	}()

	if c.cfg.MonitorMode {
		c.dispatch.Emit(events.Event{Kind: events.KindConnection, Payload: events.Connection{Status: "connected", Reason: "monitor"}})
		return nil
	}

	c.connectDone = make(chan struct{})
	connectDone := c.connectDone

	getchallenge := c.hs.Connect()
	if err := c.send(getchallenge); err != nil {
		cancel()
		return err
	}

	select {
	case <-connectDone:
		c.dispatch.Emit(events.Event{Kind: events.KindConnection, Payload: events.Connection{Status: "connected"}})
		return nil
	case <-time.After(initialConnectTimeout):
		cancel()
		return fmt.Errorf("client: initial connect timed out after %s", initialConnectTimeout)
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// Disconnect cancels all timers, best-effort sends an OOB disconnect,
// closes the socket, and emits a terminal connection{status=disconnected}.
func (c *Client) Disconnect() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		_ = c.send(oob.Build("disconnect\n"))
		c.conn.Close()
	}
	c.mu.Lock()
	c.hs.Disconnect()
	c.mu.Unlock()
	c.dispatch.Emit(events.Event{Kind: events.KindConnection, Payload: events.Connection{Status: "disconnected", Reason: "user"}})
}

func (c *Client) send(b []byte) error {
	if _, err := c.conn.Write(b); err != nil {
		return &q2err.TransportError{Op: "write", Err: err}
	}
	return nil
}

// buildReliableLocked encodes body as a CLC_STRINGCMD reliable datagram.
// Caller must hold c.mu and have a non-nil c.nc.
func (c *Client) buildReliableLocked(body string) []byte {
	w := wire.NewWriter()
	w.WriteByte(byte(protocol.ClcStringCmd))
	w.WriteString(body)
	return c.nc.Build(w.Bytes(), true)
}

// sendReliable builds and sends one reliable command; it takes c.mu
// itself, so it must never be called while already holding the lock.
func (c *Client) sendReliable(body string) error {
	c.mu.Lock()
	if c.nc == nil {
		c.mu.Unlock()
		return nil
	}
	datagram := c.buildReliableLocked(body)
	c.mu.Unlock()
	return c.send(datagram)
}

// sendHeartbeat sends the state-dependent keepalive: an empty sequenced
// packet every 300ms while CONNECTED but not SPAWNED, or a CLC_NOP every
// 100ms once SPAWNED, cadenced by handshake.Machine.HeartbeatInterval
// against lastHeartbeat. force bypasses the cadence check and always
// sends a CLC_NOP — the 10s backup timer that guards against silence
// regardless of state. A zero interval (no netchan yet) sends nothing.
func (c *Client) sendHeartbeat(force bool) error {
	c.mu.Lock()
	if c.nc == nil {
		c.mu.Unlock()
		return nil
	}
	interval := c.hs.HeartbeatInterval()
	if interval == 0 {
		c.mu.Unlock()
		return nil
	}
	if !force && time.Since(c.lastHeartbeat) < interval {
		c.mu.Unlock()
		return nil
	}
	var payload []byte
	if force || c.hs.State() == handshake.StateSpawned {
		payload = []byte{byte(protocol.ClcNop)}
	}
	datagram := c.nc.Build(payload, false)
	c.lastHeartbeat = time.Now()
	c.mu.Unlock()
	return c.send(datagram)
}
