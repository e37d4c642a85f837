package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/eleven-am/interview-realtime/internal/shared"
	"github.com/eleven-am/interview-realtime/internal/transport"
	"github.com/gorilla/websocket"
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusPlanning     Status = "planning"
)

type StatusChange struct {
	Status   Status
	Previous Status
	Attempt  int
	Delay    time.Duration
	Err      error
}

type StatusListener func(StatusChange)

type Handler func(transport.InboundMessage)

type Timer interface {
	Stop() bool
}

type Scheduler func(d time.Duration, fn func()) Timer

func afterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

type Option func(*Manager)

func WithDialer(d Dialer) Option {
	return func(m *Manager) {
		m.dialer = d
	}
}

func WithScheduler(s Scheduler) Option {
	return func(m *Manager) {
		m.schedule = s
	}
}

type eventKind int

const (
	eventOpened eventKind = iota
	eventFrame
	eventClosed
	eventRetry
)

type event struct {
	kind   eventKind
	gen    uint64
	socket Socket
	data   []byte
	code   int
	err    error
}

type notification struct {
	change    StatusChange
	listeners []StatusListener
}

// Manager owns one realtime connection to the interview engine. Socket
// events and retry timers are funneled through a single event loop; public
// methods mutate state under mu and never block on the network.
type Manager struct {
	cfg      Config
	log      *slog.Logger
	dialer   Dialer
	schedule Scheduler

	ctx    context.Context
	cancel context.CancelFunc
	events chan event
	done   chan struct{}
	exited chan struct{}

	mu           sync.Mutex
	status       Status
	endpoint     string
	attempt      int
	enabled      bool
	generation   uint64
	socket       Socket
	timer        Timer
	cancelDial   context.CancelFunc
	handlers     map[transport.MessageType]Handler
	listeners    map[int]StatusListener
	nextListener int
	pending      []notification
	closed       bool

	notifyMu  sync.Mutex
	closeOnce sync.Once
}

func New(cfg Config, log *slog.Logger, opts ...Option) *Manager {
	if log == nil {
		log = slog.Default()
	}
	cfg = normalizeConfig(cfg)
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		cfg:       cfg,
		log:       log.With("component", "realtime"),
		dialer:    WebsocketDialer{},
		schedule:  afterFunc,
		ctx:       ctx,
		cancel:    cancel,
		events:    make(chan event, cfg.EventBuffer),
		done:      make(chan struct{}),
		exited:    make(chan struct{}),
		status:    StatusDisconnected,
		handlers:  make(map[transport.MessageType]Handler),
		listeners: make(map[int]StatusListener),
	}
	for _, opt := range opts {
		opt(m)
	}

	go m.run()
	return m
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Manager) Attempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

func (m *Manager) Endpoint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endpoint
}

func (m *Manager) Subscribe(l StatusListener) func() {
	m.mu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = l
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Register installs the handler for one inbound message type, replacing any
// previous one. Registrations belong to the manager, so every reopened
// socket dispatches through the same table.
func (m *Manager) Register(t transport.MessageType, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h == nil {
		delete(m.handlers, t)
		return
	}
	m.handlers[t] = h
}

func (m *Manager) Unregister(t transport.MessageType) {
	m.mu.Lock()
	delete(m.handlers, t)
	m.mu.Unlock()
}

// MarkPlanning moves an idle connection into Planning while the interview
// plan is being requested.
func (m *Manager) MarkPlanning() error {
	m.mu.Lock()
	if m.status != StatusDisconnected {
		status := m.status
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot plan while %s", shared.ErrInvalidState, status)
	}
	m.transitionLocked(StatusPlanning, nil)
	m.mu.Unlock()

	m.flush()
	return nil
}

func (m *Manager) Connect(endpoint string) error {
	if err := validateEndpoint(endpoint); err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("%w: manager closed", shared.ErrConnection)
	}
	if endpoint == m.endpoint {
		switch m.status {
		case StatusConnecting, StatusConnected, StatusReconnecting:
			m.mu.Unlock()
			return nil
		}
	}

	m.stopTimerLocked()
	old := m.detachSocketLocked()
	m.enabled = true
	m.attempt = 0
	m.endpoint = endpoint
	m.transitionLocked(StatusConnecting, nil)
	gen := m.beginDialLocked()
	m.mu.Unlock()

	if old != nil {
		_ = old.Close(websocket.CloseNormalClosure, "reconnecting")
	}
	m.flush()

	m.log.Info("connecting", "endpoint", endpoint)
	go m.dial(gen, endpoint)
	return nil
}

// Disconnect stops reconnecting, cancels any pending retry and closes the
// socket. Calling it again has no further effect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.enabled = false
	m.stopTimerLocked()
	m.generation++
	sock := m.detachSocketLocked()
	if m.status != StatusDisconnected {
		m.transitionLocked(StatusDisconnected, nil)
	}
	m.mu.Unlock()

	if sock != nil {
		if err := sock.Close(websocket.CloseNormalClosure, "client disconnect"); err != nil {
			m.log.Debug("socket close failed", "error", err)
		}
	}
	m.flush()
}

func (m *Manager) Send(msg transport.OutboundMessage) error {
	m.mu.Lock()
	if m.status != StatusConnected || m.socket == nil {
		m.mu.Unlock()
		return shared.ErrNotConnected
	}
	sock := m.socket
	m.mu.Unlock()

	data, err := transport.Encode(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrProtocol, err)
	}
	if err := sock.WriteMessage(data); err != nil {
		return fmt.Errorf("%w: write %s: %v", shared.ErrConnection, msg.Type(), err)
	}
	return nil
}

// Dispatch decodes one frame and routes it to the registered handler.
// Malformed frames, unregistered types and handler panics are logged.
func (m *Manager) Dispatch(raw []byte) {
	msg, err := transport.Decode(raw)
	if err != nil {
		m.log.Warn("dropping inbound frame", "error", err)
		return
	}

	m.mu.Lock()
	h := m.handlers[msg.Type()]
	m.mu.Unlock()

	if h == nil {
		m.log.Debug("no handler registered", "type", msg.Type())
		return
	}

	defer func() {
		if r := recover(); r != nil {
			m.log.Error("handler panicked", "type", msg.Type(), "panic", r)
		}
	}()
	h(msg)
}

// Close disconnects and stops the event loop. It must not be called from a
// handler or status listener.
func (m *Manager) Close() {
	m.Disconnect()
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()

		m.cancel()
		close(m.done)
		<-m.exited
	})
}

func (m *Manager) run() {
	defer close(m.exited)
	for {
		select {
		case <-m.done:
			return
		case ev := <-m.events:
			m.handle(ev)
		}
	}
}

func (m *Manager) handle(ev event) {
	switch ev.kind {
	case eventOpened:
		m.handleOpened(ev)
	case eventFrame:
		m.mu.Lock()
		current := ev.gen == m.generation
		m.mu.Unlock()
		if current {
			m.Dispatch(ev.data)
		}
	case eventClosed:
		m.handleClosed(ev)
	case eventRetry:
		m.handleRetry(ev)
	}
	m.flush()
}

func (m *Manager) handleOpened(ev event) {
	m.mu.Lock()
	if ev.gen != m.generation || !m.enabled {
		m.mu.Unlock()
		_ = ev.socket.Close(websocket.CloseNormalClosure, "stale connection")
		return
	}
	m.socket = ev.socket
	m.attempt = 0
	m.transitionLocked(StatusConnected, nil)
	endpoint := m.endpoint
	m.mu.Unlock()

	m.log.Info("connected", "endpoint", endpoint)
	go m.readLoop(ev.gen, ev.socket)
}

func (m *Manager) handleClosed(ev event) {
	m.mu.Lock()
	if ev.gen != m.generation {
		m.mu.Unlock()
		return
	}
	sock := m.detachSocketLocked()

	switch {
	case IsTerminalClose(ev.code):
		m.enabled = false
		m.transitionLocked(StatusDisconnected, nil)
		m.mu.Unlock()
		m.log.Info("connection closed", "code", ev.code)

	case m.enabled && m.attempt < m.cfg.Policy.MaxAttempts:
		delay := m.cfg.Policy.Delay(m.attempt)
		m.attempt++
		m.transitionDelayLocked(StatusReconnecting, delay, ev.err)
		gen := m.generation
		m.timer = m.schedule(delay, func() {
			m.post(event{kind: eventRetry, gen: gen})
		})
		attempt := m.attempt
		m.mu.Unlock()
		m.log.Warn("connection lost, retry scheduled", "code", ev.code, "attempt", attempt, "delay", delay, "error", ev.err)

	default:
		var err error
		if m.enabled {
			err = shared.ErrExhaustedRetries
		}
		m.enabled = false
		m.transitionLocked(StatusDisconnected, err)
		m.mu.Unlock()
		m.log.Error("connection lost", "code", ev.code, "error", err)
	}

	if sock != nil {
		_ = sock.Close(websocket.CloseNormalClosure, "")
	}
}

func (m *Manager) handleRetry(ev event) {
	m.mu.Lock()
	if ev.gen != m.generation || !m.enabled {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	endpoint := m.endpoint
	attempt := m.attempt
	gen := m.beginDialLocked()
	m.mu.Unlock()

	m.log.Info("reconnecting", "endpoint", endpoint, "attempt", attempt)
	go m.dial(gen, endpoint)
}

func (m *Manager) dial(gen uint64, endpoint string) {
	m.mu.Lock()
	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.ConnectTimeout)
	if gen == m.generation {
		m.cancelDial = cancel
	}
	m.mu.Unlock()
	defer cancel()

	sock, err := m.dialer.Dial(ctx, endpoint)
	if err != nil {
		m.post(event{kind: eventClosed, gen: gen, code: websocket.CloseAbnormalClosure, err: err})
		return
	}
	m.post(event{kind: eventOpened, gen: gen, socket: sock})
}

func (m *Manager) readLoop(gen uint64, sock Socket) {
	for {
		data, err := sock.ReadMessage()
		if err != nil {
			m.post(event{kind: eventClosed, gen: gen, code: CloseCode(err), err: err})
			return
		}
		m.post(event{kind: eventFrame, gen: gen, data: data})
	}
}

func (m *Manager) post(ev event) {
	select {
	case m.events <- ev:
	case <-m.done:
		if ev.socket != nil {
			_ = ev.socket.Close(websocket.CloseGoingAway, "")
		}
	}
}

func (m *Manager) beginDialLocked() uint64 {
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	m.generation++
	return m.generation
}

func (m *Manager) detachSocketLocked() Socket {
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	sock := m.socket
	m.socket = nil
	return sock
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) transitionLocked(next Status, err error) {
	m.transitionDelayLocked(next, 0, err)
}

func (m *Manager) transitionDelayLocked(next Status, delay time.Duration, err error) {
	change := StatusChange{
		Status:   next,
		Previous: m.status,
		Attempt:  m.attempt,
		Delay:    delay,
		Err:      err,
	}
	m.status = next

	listeners := make([]StatusListener, 0, len(m.listeners))
	for id := 0; id < m.nextListener; id++ {
		if l, ok := m.listeners[id]; ok {
			listeners = append(listeners, l)
		}
	}
	m.pending = append(m.pending, notification{change: change, listeners: listeners})
}

// flush delivers queued status changes outside mu. Only one goroutine
// drains at a time so listeners observe transitions in order; a listener
// that triggers another transition has it delivered by the same drain.
func (m *Manager) flush() {
	for {
		if !m.notifyMu.TryLock() {
			return
		}
		for {
			m.mu.Lock()
			if len(m.pending) == 0 {
				m.mu.Unlock()
				break
			}
			n := m.pending[0]
			m.pending = m.pending[1:]
			m.mu.Unlock()

			for _, l := range n.listeners {
				m.notify(l, n.change)
			}
		}
		m.notifyMu.Unlock()

		m.mu.Lock()
		more := len(m.pending) > 0
		m.mu.Unlock()
		if !more {
			return
		}
	}
}

func (m *Manager) notify(l StatusListener, change StatusChange) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("status listener panicked", "status", change.Status, "panic", r)
		}
	}()
	l(change)
}

func validateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("%w: invalid endpoint %q: %v", shared.ErrConnection, endpoint, err)
	}
	if (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("%w: invalid endpoint %q", shared.ErrConnection, endpoint)
	}
	return nil
}
