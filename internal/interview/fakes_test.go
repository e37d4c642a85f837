package interview

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/eleven-am/interview-realtime/internal/audio"
	"github.com/eleven-am/interview-realtime/internal/capture"
	"github.com/eleven-am/interview-realtime/internal/engine"
	"github.com/eleven-am/interview-realtime/internal/realtime"
	"github.com/eleven-am/interview-realtime/internal/shared"
	"github.com/eleven-am/interview-realtime/internal/transport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeConn struct {
	mu          sync.Mutex
	status      realtime.Status
	endpoint    string
	handlers    map[transport.MessageType]realtime.Handler
	listeners   map[int]realtime.StatusListener
	next        int
	sent        []transport.OutboundMessage
	sendErr     error
	dropAfter   int
	connectErr  error
	onConnect   func()
	disconnects int
	closed      bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		status:    realtime.StatusDisconnected,
		handlers:  make(map[transport.MessageType]realtime.Handler),
		listeners: make(map[int]realtime.StatusListener),
	}
}

func (c *fakeConn) Status() realtime.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *fakeConn) Subscribe(l realtime.StatusListener) func() {
	c.mu.Lock()
	id := c.next
	c.next++
	c.listeners[id] = l
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *fakeConn) Register(t transport.MessageType, h realtime.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[t] = h
}

func (c *fakeConn) MarkPlanning() error {
	c.mu.Lock()
	if c.status != realtime.StatusDisconnected {
		c.mu.Unlock()
		return shared.ErrInvalidState
	}
	c.mu.Unlock()
	c.transition(realtime.StatusPlanning, nil)
	return nil
}

func (c *fakeConn) Connect(endpoint string) error {
	c.mu.Lock()
	if c.connectErr != nil {
		err := c.connectErr
		c.mu.Unlock()
		return err
	}
	c.endpoint = endpoint
	hook := c.onConnect
	c.mu.Unlock()
	c.transition(realtime.StatusConnected, nil)
	if hook != nil {
		hook()
	}
	return nil
}

func (c *fakeConn) Disconnect() {
	c.mu.Lock()
	c.disconnects++
	changed := c.status != realtime.StatusDisconnected
	c.mu.Unlock()
	if changed {
		c.transition(realtime.StatusDisconnected, nil)
	}
}

func (c *fakeConn) Send(msg transport.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	if c.status != realtime.StatusConnected {
		return shared.ErrNotConnected
	}
	if c.dropAfter > 0 && len(c.sent) >= c.dropAfter {
		c.dropAfter = 0
		c.status = realtime.StatusReconnecting
		return shared.ErrNotConnected
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) transition(next realtime.Status, err error) {
	c.mu.Lock()
	change := realtime.StatusChange{Status: next, Previous: c.status, Err: err}
	c.status = next
	listeners := make([]realtime.StatusListener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	for _, l := range listeners {
		l(change)
	}
}

// deliver routes msg the way the realtime manager's dispatch does.
func (c *fakeConn) deliver(msg transport.InboundMessage) {
	c.mu.Lock()
	h := c.handlers[msg.Type()]
	c.mu.Unlock()
	if h != nil {
		h(msg)
	}
}

func (c *fakeConn) sentMessages() []transport.OutboundMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]transport.OutboundMessage(nil), c.sent...)
}

type fakeRecorder struct {
	mu        sync.Mutex
	recording bool
	data      []byte
	startErr  error
	onLevel   capture.LevelFunc
	cleanups  int
}

func (r *fakeRecorder) StartRecording(ctx context.Context, onLevel capture.LevelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return r.startErr
	}
	if r.recording {
		return shared.ErrCaptureActive
	}
	r.recording = true
	r.onLevel = onLevel
	return nil
}

func (r *fakeRecorder) StopRecording() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return nil, nil
	}
	r.recording = false
	data := r.data
	r.data = nil
	return data, nil
}

func (r *fakeRecorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

func (r *fakeRecorder) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recording = false
	r.data = nil
	r.cleanups++
}

func (r *fakeRecorder) level(v float64) {
	r.mu.Lock()
	fn := r.onLevel
	r.mu.Unlock()
	if fn != nil {
		fn(v)
	}
}

type fakeSpeaker struct {
	mu     sync.Mutex
	played chan string
	stops  int
	active bool
}

func newFakeSpeaker() *fakeSpeaker {
	return &fakeSpeaker{played: make(chan string, 16)}
}

func (s *fakeSpeaker) Play(ctx context.Context, encoded string) error {
	s.mu.Lock()
	s.active = true
	s.mu.Unlock()
	s.played <- encoded
	return nil
}

func (s *fakeSpeaker) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.stops++
}

func (s *fakeSpeaker) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

type upload struct {
	interviewID transport.ID
	questionID  transport.ID
	wav         []byte
}

type fakeEngine struct {
	mu        sync.Mutex
	plan      *engine.Plan
	planErr   error
	feedback  *engine.Feedback
	stopErr   error
	stopCalls []transport.ID
	planCalls []engine.PlanRequest
	uploads   chan upload
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		plan: &engine.Plan{
			InterviewID: transport.NumericID(42),
			Endpoint:    "ws://engine.test/ws/interview/42",
		},
		feedback: &engine.Feedback{
			InterviewID:      transport.NumericID(42),
			Status:           "completed",
			DetailedFeedback: []byte(`{"score":8}`),
		},
		uploads: make(chan upload, 4),
	}
}

func (e *fakeEngine) PlanInterview(ctx context.Context, req engine.PlanRequest) (*engine.Plan, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.planCalls = append(e.planCalls, req)
	if e.planErr != nil {
		return nil, e.planErr
	}
	return e.plan, nil
}

func (e *fakeEngine) StopInterview(ctx context.Context, id transport.ID) (*engine.Feedback, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopCalls = append(e.stopCalls, id)
	if e.stopErr != nil {
		return nil, e.stopErr
	}
	return e.feedback, nil
}

func (e *fakeEngine) UploadRecording(ctx context.Context, interviewID, questionID transport.ID, wav []byte) error {
	e.uploads <- upload{interviewID: interviewID, questionID: questionID, wav: wav}
	return nil
}

type fixture struct {
	conn     *fakeConn
	recorder *fakeRecorder
	speaker  *fakeSpeaker
	engine   *fakeEngine
}

func newFixture() *fixture {
	return &fixture{
		conn:     newFakeConn(),
		recorder: &fakeRecorder{},
		speaker:  newFakeSpeaker(),
		engine:   newFakeEngine(),
	}
}

func (f *fixture) components() Components {
	return Components{Conn: f.conn, Recorder: f.recorder, Speaker: f.speaker}
}

func (f *fixture) factory() Factory {
	return func(string, *slog.Logger) Components { return f.components() }
}

type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(_ *Session, s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) snapshot() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func toneWAV(t *testing.T, samples, rate int) []byte {
	t.Helper()
	pcm := make([]int16, samples)
	for i := range pcm {
		pcm[i] = int16((i % 200) * 100)
	}
	wav, err := audio.EncodeWAV(pcm, rate, 1)
	if err != nil {
		t.Fatalf("EncodeWAV error: %v", err)
	}
	return wav
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func errWrapConnection() error {
	return fmt.Errorf("%w: engine unreachable", shared.ErrConnection)
}
