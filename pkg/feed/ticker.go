package feed

import (
	"context"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// State is the connection lifecycle of the feed manager.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// InstrumentSource supplies the full subscription set. It is consulted on
// every successful connection so a reconnect always resubscribes exactly
// the instruments that currently have active triggers.
type InstrumentSource func() []uint32

// Config holds feed connection settings.
type Config struct {
	URL         string
	APIKey      string
	AccessToken string

	HeartbeatInterval    time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectMaxAttempts int
	TickBuffer           int
}

func (c *Config) applyDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = 2 * time.Second
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = time.Minute
	}
	if c.ReconnectMaxAttempts <= 0 {
		c.ReconnectMaxAttempts = 50
	}
	if c.TickBuffer <= 0 {
		c.TickBuffer = 1024
	}
}

type commandKind int

const (
	cmdSubscribe commandKind = iota
	cmdUnsubscribe
	cmdSetMode
)

type command struct {
	kind   commandKind
	mode   Mode
	tokens []uint32
}

// Manager owns the live feed connection: dialing, subscription replay,
// heartbeat, reconnect with backoff, and decoding of incoming frames.
// All socket writes happen on the session loop goroutine; other
// components talk to it only through commands.
type Manager struct {
	cfg         Config
	instruments InstrumentSource
	dialer      *websocket.Dialer

	commands chan command
	ticks    chan Tick

	mu      sync.RWMutex
	state   State
	onState func(State)

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewManager builds a feed manager. instruments must not be nil.
func NewManager(cfg Config, instruments InstrumentSource) *Manager {
	cfg.applyDefaults()
	return &Manager{
		cfg:         cfg,
		instruments: instruments,
		dialer:      websocket.DefaultDialer,
		commands:    make(chan command, 64),
		ticks:       make(chan Tick, cfg.TickBuffer),
		state:       StateDisconnected,
		stopCh:      make(chan struct{}),
	}
}

// OnStateChange registers a hook invoked on every state transition.
// Must be called before Start.
func (m *Manager) OnStateChange(fn func(State)) {
	m.onState = fn
}

// Ticks returns the decoded tick stream. The channel is closed when the
// manager shuts down for good.
func (m *Manager) Ticks() <-chan Tick {
	return m.ticks
}

// State reports the current connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Subscribe requests live data for the given instruments. If the feed is
// not connected the request is dropped: the next successful connection
// replays the full instrument set anyway.
func (m *Manager) Subscribe(tokens ...uint32) {
	m.enqueue(command{kind: cmdSubscribe, tokens: tokens})
}

// Unsubscribe stops live data for the given instruments.
func (m *Manager) Unsubscribe(tokens ...uint32) {
	m.enqueue(command{kind: cmdUnsubscribe, tokens: tokens})
}

// SetMode changes the tick detail level for the given instruments.
func (m *Manager) SetMode(mode Mode, tokens []uint32) {
	m.enqueue(command{kind: cmdSetMode, mode: mode, tokens: tokens})
}

func (m *Manager) enqueue(cmd command) {
	if len(cmd.tokens) == 0 {
		return
	}
	if m.State() != StateConnected {
		return
	}
	select {
	case m.commands <- cmd:
	default:
		log.Printf("feed: command queue full, dropping %v for %d instruments", cmd.kind, len(cmd.tokens))
	}
}

// Start runs the connect/reconnect loop until ctx is canceled or Stop is
// called.
func (m *Manager) Start(ctx context.Context) {
	go m.run(ctx)
}

// Stop shuts the manager down and prevents further reconnects.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.ticks)
	defer m.setState(StateDisconnected)

	attempt := 0
	for {
		if ctx.Err() != nil || m.stopped() {
			return
		}

		m.setState(StateConnecting)
		conn, err := m.dial(ctx)
		if err != nil {
			m.setState(StateDisconnected)
			attempt++
			if attempt > m.cfg.ReconnectMaxAttempts {
				log.Printf("feed: giving up after %d connect attempts: %v", attempt-1, err)
				return
			}
			delay := m.backoff(attempt)
			log.Printf("feed: connect failed (attempt %d/%d), retrying in %v: %v", attempt, m.cfg.ReconnectMaxAttempts, delay, err)
			if !m.sleep(ctx, delay) {
				return
			}
			continue
		}

		attempt = 0
		m.setState(StateConnected)
		log.Printf("feed: connected to %s", m.cfg.URL)

		err = m.session(ctx, conn)
		_ = conn.Close()
		m.setState(StateDisconnected)

		if ctx.Err() != nil || m.stopped() {
			return
		}
		if err != nil {
			log.Printf("feed: connection lost: %v", err)
		}
		attempt = 1
		if !m.sleep(ctx, m.backoff(attempt)) {
			return
		}
	}
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(m.cfg.URL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	if m.cfg.APIKey != "" {
		q.Set("api_key", m.cfg.APIKey)
	}
	if m.cfg.AccessToken != "" {
		q.Set("access_token", m.cfg.AccessToken)
	}
	u.RawQuery = q.Encode()

	conn, _, err := m.dialer.DialContext(ctx, u.String(), nil)
	return conn, err
}

// session drives one live connection: full resubscription, heartbeat,
// command writes and frame decoding. It returns when the connection
// breaks or shutdown is requested. The socket is only ever written from
// this goroutine.
func (m *Manager) session(ctx context.Context, conn *websocket.Conn) error {
	if tokens := m.instruments(); len(tokens) > 0 {
		if err := writeControlMessage(conn, "subscribe", tokens); err != nil {
			return err
		}
		if err := writeModeMessage(conn, ModeFull, tokens); err != nil {
			return err
		}
		log.Printf("feed: resubscribed %d instruments in %s mode", len(tokens), ModeFull)
	}

	// done lets the read pump exit even when frames is full and the
	// session has already returned.
	done := make(chan struct{})
	defer close(done)

	frames := make(chan []byte, 64)
	readErr := make(chan error, 1)
	go func() {
		for {
			msgType, msg, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			if msgType != websocket.BinaryMessage {
				continue
			}
			select {
			case frames <- msg:
			case <-done:
				return
			}
		}
	}()

	heartbeat := time.NewTicker(m.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		case <-m.stopCh:
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		case err := <-readErr:
			return err
		case msg := <-frames:
			// one-byte frames are upstream keepalives
			if len(msg) < 2 {
				continue
			}
			ticks, err := ParseFrame(msg)
			if err != nil {
				log.Printf("feed: dropping frame: %v", err)
				continue
			}
			for _, t := range ticks {
				// shutdown must not wait on a full tick channel
				select {
				case m.ticks <- t:
				case <-ctx.Done():
					_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return nil
				case <-m.stopCh:
					_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return nil
				}
			}
		case cmd := <-m.commands:
			if err := m.writeCommand(conn, cmd); err != nil {
				return err
			}
		case <-heartbeat.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(5*time.Second)); err != nil {
				return err
			}
		}
	}
}

func (m *Manager) writeCommand(conn *websocket.Conn, cmd command) error {
	switch cmd.kind {
	case cmdSubscribe:
		log.Printf("feed: subscribe %v", cmd.tokens)
		if err := writeControlMessage(conn, "subscribe", cmd.tokens); err != nil {
			return err
		}
		return writeModeMessage(conn, ModeFull, cmd.tokens)
	case cmdUnsubscribe:
		log.Printf("feed: unsubscribe %v", cmd.tokens)
		return writeControlMessage(conn, "unsubscribe", cmd.tokens)
	case cmdSetMode:
		return writeModeMessage(conn, cmd.mode, cmd.tokens)
	}
	return nil
}

// Control messages are JSON: {"a":"subscribe","v":[tokens]} and
// {"a":"mode","v":["full",[tokens]]}.
func writeControlMessage(conn *websocket.Conn, action string, tokens []uint32) error {
	return conn.WriteJSON(map[string]any{"a": action, "v": tokens})
}

func writeModeMessage(conn *websocket.Conn, mode Mode, tokens []uint32) error {
	return conn.WriteJSON(map[string]any{"a": "mode", "v": []any{string(mode), tokens}})
}

func (m *Manager) backoff(attempt int) time.Duration {
	delay := m.cfg.ReconnectBaseDelay << (attempt - 1)
	if delay > m.cfg.ReconnectMaxDelay || delay <= 0 {
		delay = m.cfg.ReconnectMaxDelay
	}
	return delay
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-m.stopCh:
		return false
	case <-t.C:
		return true
	}
}

func (m *Manager) stopped() bool {
	select {
	case <-m.stopCh:
		return true
	default:
		return false
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	m.mu.Unlock()
	if prev != s && m.onState != nil {
		m.onState(s)
	}
}
