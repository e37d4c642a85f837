package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/eleven-am/interview-realtime/internal/audio"
	"github.com/eleven-am/interview-realtime/internal/shared"
)

type fakeStream struct {
	rate     int
	channels int
	startErr error

	mu      sync.Mutex
	onData  func([]int16)
	stopped int
}

func (s *fakeStream) SampleRate() int { return s.rate }
func (s *fakeStream) Channels() int   { return s.channels }

func (s *fakeStream) Start(onData func([]int16)) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.mu.Lock()
	s.onData = onData
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
	return nil
}

func (s *fakeStream) feed(pcm []int16) {
	s.mu.Lock()
	fn := s.onData
	s.mu.Unlock()
	fn(pcm)
}

func (s *fakeStream) Stopped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type fakeDevice struct {
	stream      *fakeStream
	err         error
	opens       int
	constraints Constraints
}

func (d *fakeDevice) Open(_ context.Context, c Constraints) (Stream, error) {
	d.opens++
	d.constraints = c
	if d.err != nil {
		return nil, d.err
	}
	return d.stream, nil
}

func newTestService(device Device, cfg Config) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(cfg, device, logger)
}

func TestRequestMicrophone_Constraints(t *testing.T) {
	device := &fakeDevice{stream: &fakeStream{rate: 16000, channels: 1}}
	svc := newTestService(device, Config{})

	if _, err := svc.RequestMicrophone(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c := device.constraints
	if c.SampleRate != 16000 || c.Channels != 1 {
		t.Errorf("expected 16 kHz mono, got %+v", c)
	}
	if !c.EchoCancellation || !c.NoiseSuppression || !c.AutoGainControl {
		t.Errorf("expected all processing flags enabled, got %+v", c)
	}
}

func TestRequestMicrophone_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"permission", ErrPermissionDenied, shared.ErrPermission},
		{"wrapped permission", errors.Join(errors.New("os"), ErrPermissionDenied), shared.ErrPermission},
		{"no device", errors.New("no input device"), shared.ErrDevice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(&fakeDevice{err: tt.err}, Config{})
			_, err := svc.RequestMicrophone(context.Background())
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if tt.want == shared.ErrDevice && errors.Is(err, shared.ErrPermission) {
				t.Error("device failure must not look like a permission error")
			}
		})
	}
}

func TestStartRecording_RejectsSecond(t *testing.T) {
	stream := &fakeStream{rate: 16000, channels: 1}
	device := &fakeDevice{stream: stream}
	svc := newTestService(device, Config{})

	if err := svc.StartRecording(context.Background(), nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	stream.feed([]int16{1, 2, 3})

	if err := svc.StartRecording(context.Background(), nil); !errors.Is(err, shared.ErrCaptureActive) {
		t.Fatalf("expected ErrCaptureActive, got %v", err)
	}
	if device.opens != 1 {
		t.Errorf("second start should not reopen the device, opens=%d", device.opens)
	}
	if !svc.IsRecording() {
		t.Error("original recording should still be active")
	}

	blob, err := svc.StopRecording()
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(blob) != audio.WAVHeaderSize+6 {
		t.Errorf("expected 3 samples in blob, got %d bytes", len(blob))
	}
}

func TestStartRecording_StartFailureReleasesStream(t *testing.T) {
	stream := &fakeStream{rate: 16000, channels: 1, startErr: errors.New("busy")}
	svc := newTestService(&fakeDevice{stream: stream}, Config{})

	err := svc.StartRecording(context.Background(), nil)
	if !errors.Is(err, shared.ErrDevice) {
		t.Fatalf("expected ErrDevice, got %v", err)
	}
	if stream.Stopped() != 1 {
		t.Errorf("expected stream released, stopped=%d", stream.Stopped())
	}
	if svc.IsRecording() {
		t.Error("service should not be recording")
	}
}

func TestStartRecording_StartPermissionDenied(t *testing.T) {
	stream := &fakeStream{rate: 16000, channels: 1, startErr: ErrPermissionDenied}
	svc := newTestService(&fakeDevice{stream: stream}, Config{})

	err := svc.StartRecording(context.Background(), nil)
	if !errors.Is(err, shared.ErrPermission) {
		t.Fatalf("expected ErrPermission, got %v", err)
	}
	if errors.Is(err, shared.ErrDevice) {
		t.Errorf("permission failure should not also be a device failure: %v", err)
	}
	if stream.Stopped() != 1 {
		t.Errorf("expected stream released, stopped=%d", stream.Stopped())
	}
}

type blockingDevice struct {
	opened  chan struct{}
	release chan struct{}
	stream  *fakeStream
}

func (d *blockingDevice) Open(ctx context.Context, _ Constraints) (Stream, error) {
	close(d.opened)
	select {
	case <-d.release:
		return d.stream, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestStartRecording_PendingPromptDoesNotBlock(t *testing.T) {
	dev := &blockingDevice{
		opened:  make(chan struct{}),
		release: make(chan struct{}),
		stream:  &fakeStream{rate: 16000, channels: 1},
	}
	svc := newTestService(dev, Config{})

	started := make(chan error, 1)
	go func() { started <- svc.StartRecording(context.Background(), nil) }()
	<-dev.opened

	done := make(chan struct{})
	go func() {
		_ = svc.IsRecording()
		if err := svc.StartRecording(context.Background(), nil); !errors.Is(err, shared.ErrCaptureActive) {
			t.Errorf("expected ErrCaptureActive while opening, got %v", err)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("service blocked while the device prompt was pending")
	}

	close(dev.release)
	if err := <-started; err != nil {
		t.Fatalf("StartRecording error: %v", err)
	}
	if !svc.IsRecording() {
		t.Error("recording should be installed once the device opens")
	}
	svc.Cleanup()
}

func TestCleanup_CancelsPendingStart(t *testing.T) {
	dev := &blockingDevice{
		opened:  make(chan struct{}),
		release: make(chan struct{}),
		stream:  &fakeStream{rate: 16000, channels: 1},
	}
	svc := newTestService(dev, Config{})

	started := make(chan error, 1)
	go func() { started <- svc.StartRecording(context.Background(), nil) }()
	<-dev.opened

	svc.Cleanup()

	select {
	case err := <-started:
		if !errors.Is(err, shared.ErrDevice) {
			t.Errorf("expected ErrDevice, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("StartRecording did not return after Cleanup")
	}
	if svc.IsRecording() {
		t.Error("cancelled start should not leave a recording")
	}
}

func TestStopRecording_Empty(t *testing.T) {
	stream := &fakeStream{rate: 16000, channels: 1}
	svc := newTestService(&fakeDevice{stream: stream}, Config{})

	blob, err := svc.StopRecording()
	if err != nil || blob != nil {
		t.Errorf("stop without recording: expected nil, nil; got %v, %v", blob, err)
	}

	if err := svc.StartRecording(context.Background(), nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	blob, err = svc.StopRecording()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if blob != nil {
		t.Errorf("expected nil blob for silent recording, got %d bytes", len(blob))
	}
	if stream.Stopped() != 1 {
		t.Errorf("expected stream released once, got %d", stream.Stopped())
	}

	out, err := audio.ToMono16kPCM16(blob)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	if len(out) != audio.WAVHeaderSize {
		t.Errorf("expected zero-sample container, got %d bytes", len(out))
	}
}

func TestStopRecording_PreservesOrderAcrossIncrements(t *testing.T) {
	stream := &fakeStream{rate: 1000, channels: 2}
	svc := newTestService(&fakeDevice{stream: stream}, Config{IncrementSize: 10 * time.Millisecond})

	if err := svc.StartRecording(context.Background(), nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	var want []int16
	for i := 0; i < 7; i++ {
		chunk := make([]int16, 6)
		for j := range chunk {
			chunk[j] = int16(i*6 + j)
		}
		want = append(want, chunk...)
		stream.feed(chunk)
	}

	blob, err := svc.StopRecording()
	if err != nil {
		t.Fatalf("stop: %v", err)
	}

	format, pcm, err := audio.ParseWAVHeader(blob)
	if err != nil {
		t.Fatalf("invalid wav: %v", err)
	}
	if format.SampleRate != 1000 || format.Channels != 2 {
		t.Errorf("unexpected format %+v", format)
	}

	got := audio.PCMBytesToInt16(pcm)
	if len(got) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestRecording_Increments(t *testing.T) {
	rec := newRecording(&fakeStream{rate: 1000, channels: 1}, normalizeConfig(Config{IncrementSize: 5 * time.Millisecond}))
	if rec.increment != 5 {
		t.Fatalf("expected increment of 5 samples, got %d", rec.increment)
	}

	rec.append([]int16{1, 2, 3, 4, 5, 6, 7})
	rec.append([]int16{8, 9, 10, 11})

	if len(rec.increments) != 2 {
		t.Errorf("expected 2 sealed increments, got %d", len(rec.increments))
	}
	if len(rec.current) != 1 {
		t.Errorf("expected 1 pending sample, got %d", len(rec.current))
	}
}

func TestCleanup_DiscardsAndReleases(t *testing.T) {
	stream := &fakeStream{rate: 16000, channels: 1}
	svc := newTestService(&fakeDevice{stream: stream}, Config{})

	if err := svc.StartRecording(context.Background(), nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	stream.feed([]int16{1, 2, 3})

	svc.Cleanup()
	svc.Cleanup()

	if svc.IsRecording() {
		t.Error("expected recording to be closed")
	}
	if stream.Stopped() != 1 {
		t.Errorf("expected stream released once, got %d", stream.Stopped())
	}
	if blob, _ := svc.StopRecording(); blob != nil {
		t.Error("expected discarded audio")
	}
}

func TestStartRecording_LevelMonitor(t *testing.T) {
	stream := &fakeStream{rate: 16000, channels: 1}
	svc := newTestService(&fakeDevice{stream: stream}, Config{LevelInterval: time.Millisecond})

	levels := make(chan float64, 256)
	err := svc.StartRecording(context.Background(), func(level float64) {
		select {
		case levels <- level:
		default:
		}
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	stream.feed(sineWave(16000, 1000, 0.8, 1024))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case level := <-levels:
			if level < 0 || level > 1 {
				t.Fatalf("level out of range: %f", level)
			}
			if level > 0 {
				if _, err := svc.StopRecording(); err != nil {
					t.Fatalf("stop: %v", err)
				}
				return
			}
		case <-deadline:
			t.Fatal("never observed a non-zero level")
		}
	}
}

func TestStartRecording_LevelCallbackPanic(t *testing.T) {
	stream := &fakeStream{rate: 16000, channels: 1}
	svc := newTestService(&fakeDevice{stream: stream}, Config{LevelInterval: time.Millisecond})

	calls := make(chan struct{}, 8)
	err := svc.StartRecording(context.Background(), func(float64) {
		select {
		case calls <- struct{}{}:
		default:
		}
		panic("ui went away")
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-calls:
		case <-time.After(2 * time.Second):
			t.Fatal("monitor stopped after callback panic")
		}
	}
	svc.Cleanup()
}

func TestMalgoErrorClassification(t *testing.T) {
	if err := classifyMalgoError(errors.New("Access denied by user")); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("expected permission error, got %v", err)
	}
	if err := classifyMalgoError(errors.New("no backend")); errors.Is(err, ErrPermissionDenied) {
		t.Errorf("unexpected permission error for %v", err)
	}
}

func TestNormalizeConfig(t *testing.T) {
	cfg := normalizeConfig(Config{FFTSize: 300, LevelSmoothing: 1.5})
	if cfg.FFTSize != 256 {
		t.Errorf("expected fft size 256, got %d", cfg.FFTSize)
	}
	if cfg.LevelSmoothing != 0.8 {
		t.Errorf("expected smoothing 0.8, got %f", cfg.LevelSmoothing)
	}
	if cfg.IncrementSize != 100*time.Millisecond || cfg.LevelInterval != 16*time.Millisecond {
		t.Errorf("unexpected timing defaults %+v", cfg)
	}
	if cfg.Constraints != DefaultConstraints() {
		t.Errorf("expected default constraints, got %+v", cfg.Constraints)
	}
}
