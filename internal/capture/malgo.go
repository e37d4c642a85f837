package capture

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/eleven-am/interview-realtime/internal/audio"
	"github.com/gen2brain/malgo"
)

// MalgoDevice captures from the system default input through miniaudio.
// Echo cancellation, noise suppression and gain control are requested from
// the platform where the backend supports them and otherwise ignored.
type MalgoDevice struct {
	log *slog.Logger
}

func NewMalgoDevice(log *slog.Logger) *MalgoDevice {
	if log == nil {
		log = slog.Default()
	}
	return &MalgoDevice{log: log.With("component", "malgo_capture")}
}

func (d *MalgoDevice) Open(ctx context.Context, c Constraints) (Stream, error) {
	type result struct {
		mctx *malgo.AllocatedContext
		err  error
	}

	done := make(chan result, 1)
	go func() {
		mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
			d.log.Debug(strings.TrimSpace(msg))
		})
		done <- result{mctx: mctx, err: err}
	}()

	var res result
	select {
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil {
				_ = r.mctx.Uninit()
				r.mctx.Free()
			}
		}()
		return nil, ctx.Err()
	case res = <-done:
	}
	if res.err != nil {
		return nil, classifyMalgoError(res.err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(c.Channels)
	cfg.SampleRate = uint32(c.SampleRate)
	cfg.Alsa.NoMMap = 1

	d.log.Debug("microphone context ready",
		"sample_rate", c.SampleRate,
		"channels", c.Channels,
		"echo_cancellation", c.EchoCancellation,
		"noise_suppression", c.NoiseSuppression,
		"auto_gain_control", c.AutoGainControl,
	)

	return &malgoStream{
		mctx:       res.mctx,
		cfg:        cfg,
		sampleRate: c.SampleRate,
		channels:   c.Channels,
	}, nil
}

func classifyMalgoError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "denied") || strings.Contains(msg, "permission") {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return err
}

type malgoStream struct {
	mctx       *malgo.AllocatedContext
	cfg        malgo.DeviceConfig
	sampleRate int
	channels   int

	mu     sync.Mutex
	device *malgo.Device
	closed bool
}

func (s *malgoStream) SampleRate() int { return s.sampleRate }
func (s *malgoStream) Channels() int   { return s.channels }

func (s *malgoStream) Start(onData func(pcm []int16)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("stream released")
	}

	device, err := malgo.InitDevice(s.mctx.Context, s.cfg, malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			if len(input) > 0 {
				onData(audio.PCMBytesToInt16(input))
			}
		},
	})
	if err != nil {
		return classifyMalgoError(err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return classifyMalgoError(err)
	}

	s.device = device
	return nil
}

func (s *malgoStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if s.device != nil {
		err = s.device.Stop()
		s.device.Uninit()
		s.device = nil
	}
	if uerr := s.mctx.Uninit(); uerr != nil && err == nil {
		err = uerr
	}
	s.mctx.Free()
	return err
}
