package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eleven-am/interview-realtime/internal/audio"
	"github.com/eleven-am/interview-realtime/internal/shared"
	"golang.org/x/sync/errgroup"
)

type LevelFunc func(level float64)

type Config struct {
	Constraints    Constraints
	IncrementSize  time.Duration
	LevelInterval  time.Duration
	LevelGain      float64
	LevelSmoothing float64
	FFTSize        int
}

func normalizeConfig(cfg Config) Config {
	if cfg.Constraints.SampleRate <= 0 || cfg.Constraints.Channels <= 0 {
		cfg.Constraints = DefaultConstraints()
	}
	if cfg.IncrementSize <= 0 {
		cfg.IncrementSize = 100 * time.Millisecond
	}
	if cfg.LevelInterval <= 0 {
		cfg.LevelInterval = 16 * time.Millisecond
	}
	if cfg.LevelGain <= 0 {
		cfg.LevelGain = 2
	}
	if cfg.LevelSmoothing < 0 || cfg.LevelSmoothing >= 1 {
		cfg.LevelSmoothing = 0.8
	}
	if cfg.FFTSize < 32 || cfg.FFTSize&(cfg.FFTSize-1) != 0 {
		cfg.FFTSize = 256
	}
	return cfg
}

// Service records one answer at a time from an input device.
type Service struct {
	cfg    Config
	device Device
	log    *slog.Logger

	mu          sync.Mutex
	rec         *recording
	starting    bool
	cancelStart context.CancelFunc
}

func NewService(cfg Config, device Device, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		cfg:    normalizeConfig(cfg),
		device: device,
		log:    log.With("component", "capture"),
	}
}

// RequestMicrophone acquires an input stream. The device prompt may block
// and is bounded by ctx.
func (s *Service) RequestMicrophone(ctx context.Context) (Stream, error) {
	stream, err := s.device.Open(ctx, s.cfg.Constraints)
	if err != nil {
		return nil, classifyDeviceError(err)
	}
	return stream, nil
}

func classifyDeviceError(err error) error {
	if errors.Is(err, ErrPermissionDenied) {
		return fmt.Errorf("%w: %v", shared.ErrPermission, err)
	}
	return fmt.Errorf("%w: %v", shared.ErrDevice, err)
}

// StartRecording opens the microphone and begins buffering. A second call
// while a recording is open or being opened fails with
// shared.ErrCaptureActive and leaves the first one untouched. The lock is
// not held while the device prompt is pending.
func (s *Service) StartRecording(ctx context.Context, onLevel LevelFunc) error {
	s.mu.Lock()
	if s.rec != nil || s.starting {
		s.mu.Unlock()
		return shared.ErrCaptureActive
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.starting = true
	s.cancelStart = cancel
	s.mu.Unlock()

	rec, err := s.open(ctx, onLevel)

	s.mu.Lock()
	s.starting = false
	s.cancelStart = nil
	if err == nil && ctx.Err() != nil {
		err = fmt.Errorf("%w: recording cancelled while opening", shared.ErrDevice)
	} else if err == nil {
		s.rec = rec
	}
	s.mu.Unlock()

	if err != nil {
		if rec != nil {
			rec.finish(s.log)
		}
		return err
	}
	s.log.Info("recording started", "sample_rate", rec.sampleRate, "channels", rec.channels)
	return nil
}

func (s *Service) open(ctx context.Context, onLevel LevelFunc) (*recording, error) {
	stream, err := s.RequestMicrophone(ctx)
	if err != nil {
		return nil, err
	}

	rec := newRecording(stream, s.cfg)
	if err := stream.Start(rec.append); err != nil {
		_ = stream.Stop()
		return nil, fmt.Errorf("start capture: %w", classifyDeviceError(err))
	}
	if onLevel != nil {
		rec.startMonitor(s.cfg, onLevel, s.log)
	}
	return rec, nil
}

func (s *Service) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec != nil
}

// StopRecording ends the recording and returns the captured audio as one
// WAV blob in the stream's native format. Nothing captured yields nil with
// no error.
func (s *Service) StopRecording() ([]byte, error) {
	rec := s.detach()
	if rec == nil {
		return nil, nil
	}

	samples := rec.finish(s.log)
	if len(samples) == 0 {
		s.log.Info("recording stopped with no audio")
		return nil, nil
	}

	blob, err := audio.EncodeWAV(samples, rec.sampleRate, rec.channels)
	if err != nil {
		return nil, err
	}
	s.log.Info("recording stopped", "samples", len(samples), "bytes", len(blob))
	return blob, nil
}

// Cleanup stops any open recording and discards its audio.
func (s *Service) Cleanup() {
	if rec := s.detach(); rec != nil {
		rec.finish(s.log)
	}
}

// detach takes the open recording and cancels a start still waiting on the
// device.
func (s *Service) detach() *recording {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelStart != nil {
		s.cancelStart()
	}
	rec := s.rec
	s.rec = nil
	return rec
}

type recording struct {
	stream     Stream
	sampleRate int
	channels   int
	increment  int

	mu         sync.Mutex
	increments [][]int16
	current    []int16
	ring       []float32
	ringPos    int

	cancel context.CancelFunc
	group  *errgroup.Group
}

func newRecording(stream Stream, cfg Config) *recording {
	rate := stream.SampleRate()
	channels := stream.Channels()
	if rate <= 0 {
		rate = cfg.Constraints.SampleRate
	}
	if channels <= 0 {
		channels = cfg.Constraints.Channels
	}

	increment := int(int64(rate)*int64(cfg.IncrementSize)/int64(time.Second)) * channels
	if increment <= 0 {
		increment = channels
	}

	return &recording{
		stream:     stream,
		sampleRate: rate,
		channels:   channels,
		increment:  increment,
		current:    make([]int16, 0, increment),
		ring:       make([]float32, cfg.FFTSize),
	}
}

func (r *recording) append(pcm []int16) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for len(pcm) > 0 {
		n := min(r.increment-len(r.current), len(pcm))
		r.current = append(r.current, pcm[:n]...)
		pcm = pcm[n:]
		r.pushLevelSamples(r.current[len(r.current)-n:])

		if len(r.current) == r.increment {
			r.increments = append(r.increments, r.current)
			r.current = make([]int16, 0, r.increment)
		}
	}
}

// pushLevelSamples mixes frames to mono into the ring used by the monitor.
// Increments always hold whole frames, so chunk boundaries align.
func (r *recording) pushLevelSamples(pcm []int16) {
	frames := len(pcm) / r.channels
	for i := 0; i < frames; i++ {
		var sum float32
		for ch := 0; ch < r.channels; ch++ {
			sum += float32(pcm[i*r.channels+ch]) / 32768
		}
		r.ring[r.ringPos] = sum / float32(r.channels)
		r.ringPos = (r.ringPos + 1) % len(r.ring)
	}
}

func (r *recording) snapshot(dst []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := copy(dst, r.ring[r.ringPos:])
	copy(dst[n:], r.ring[:r.ringPos])
}

func (r *recording) startMonitor(cfg Config, onLevel LevelFunc, log *slog.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	r.cancel = cancel
	r.group = g

	g.Go(func() error {
		a := newAnalyser(cfg.FFTSize, cfg.LevelSmoothing)
		window := make([]float32, cfg.FFTSize)
		var bins []byte

		ticker := time.NewTicker(cfg.LevelInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				r.snapshot(window)
				bins = a.byteFrequencies(window, bins)
				deliverLevel(onLevel, Level(bins, cfg.LevelGain), log)
			}
		}
	})
}

func deliverLevel(onLevel LevelFunc, level float64, log *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("level callback panicked", "panic", r)
		}
	}()
	onLevel(level)
}

// finish stops the monitor, releases the stream and returns every buffered
// sample in capture order.
func (r *recording) finish(log *slog.Logger) []int16 {
	if r.cancel != nil {
		r.cancel()
		_ = r.group.Wait()
	}

	if err := r.stream.Stop(); err != nil {
		log.Warn("failed to release microphone", "error", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	total := len(r.current)
	for _, inc := range r.increments {
		total += len(inc)
	}
	if total == 0 {
		return nil
	}

	samples := make([]int16, 0, total)
	for _, inc := range r.increments {
		samples = append(samples, inc...)
	}
	samples = append(samples, r.current...)

	r.increments = nil
	r.current = nil
	return samples
}
