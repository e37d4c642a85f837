package playback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/eleven-am/interview-realtime/internal/audio"
	"github.com/gen2brain/malgo"
)

// MalgoSink plays through the system default output using miniaudio.
type MalgoSink struct {
	log *slog.Logger
}

func NewMalgoSink(log *slog.Logger) *MalgoSink {
	if log == nil {
		log = slog.Default()
	}
	return &MalgoSink{log: log.With("component", "malgo_playback")}
}

func (s *MalgoSink) Open(buf audio.PCMBuffer) (Output, error) {
	if buf.SampleRate <= 0 || buf.Channels <= 0 {
		return nil, fmt.Errorf("invalid buffer %d ch @ %d Hz", buf.Channels, buf.SampleRate)
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}

	return &malgoOutput{
		mctx: mctx,
		pcm:  audio.Int16ToPCMBytes(audio.Float32ToInt16(buf.Samples)),
		rate: buf.SampleRate,
		ch:   buf.Channels,
	}, nil
}

type malgoOutput struct {
	mctx *malgo.AllocatedContext
	rate int
	ch   int

	mu     sync.Mutex
	pcm    []byte
	pos    int
	closed bool
}

func (o *malgoOutput) Start(ctx context.Context) error {
	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = uint32(o.ch)
	cfg.SampleRate = uint32(o.rate)
	cfg.Alsa.NoMMap = 1

	drained := make(chan struct{})
	var once sync.Once

	device, err := malgo.InitDevice(o.mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(output, _ []byte, _ uint32) {
			o.mu.Lock()
			n := copy(output, o.pcm[o.pos:])
			o.pos += n
			done := o.pos >= len(o.pcm)
			o.mu.Unlock()

			clear(output[n:])
			if done {
				once.Do(func() { close(drained) })
			}
		},
	})
	if err != nil {
		return err
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return err
	}

	select {
	case <-drained:
	case <-ctx.Done():
	}
	if err := device.Stop(); err != nil {
		return err
	}
	return ctx.Err()
}

func (o *malgoOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil
	}
	o.closed = true
	o.pcm = nil
	o.pos = 0

	err := o.mctx.Uninit()
	o.mctx.Free()
	return err
}
