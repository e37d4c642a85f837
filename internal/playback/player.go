package playback

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/eleven-am/interview-realtime/internal/audio"
	"github.com/eleven-am/interview-realtime/internal/shared"
)

// Output is one allocated playback resource. Start blocks until the audio
// has played out or ctx is cancelled.
type Output interface {
	Start(ctx context.Context) error
	Close() error
}

type Sink interface {
	Open(buf audio.PCMBuffer) (Output, error)
}

type handle struct {
	mime     string
	cancel   context.CancelFunc
	released chan struct{}
}

// Player plays at most one clip at a time. Starting a clip first stops the
// previous one and waits until its output has been released.
type Player struct {
	sink Sink
	log  *slog.Logger

	playMu sync.Mutex
	mu     sync.Mutex
	active *handle
}

func NewPlayer(sink Sink, log *slog.Logger) *Player {
	if log == nil {
		log = slog.Default()
	}
	return &Player{
		sink: sink,
		log:  log.With("component", "playback"),
	}
}

// Play decodes a base64 audio payload and starts playing it. Playback runs
// until it finishes, ctx is cancelled, or Stop or another Play preempts it.
func (p *Player) Play(ctx context.Context, encoded string) error {
	p.playMu.Lock()
	defer p.playMu.Unlock()

	p.stopActive()

	data, err := decodePayload(encoded)
	if err != nil {
		return err
	}

	mime := audio.DetectMIME(data)
	buf, err := audio.Decode(data)
	if err != nil {
		return fmt.Errorf("decode %s: %w", mime, err)
	}

	out, err := p.sink.Open(buf)
	if err != nil {
		return fmt.Errorf("%w: open output: %v", shared.ErrDevice, err)
	}

	playCtx, cancel := context.WithCancel(ctx)
	h := &handle{
		mime:     mime,
		cancel:   cancel,
		released: make(chan struct{}),
	}

	p.mu.Lock()
	p.active = h
	p.mu.Unlock()

	p.log.Debug("playback started", "mime", mime, "frames", buf.Frames(), "sample_rate", buf.SampleRate)
	go p.run(playCtx, h, out)
	return nil
}

func (p *Player) run(ctx context.Context, h *handle, out Output) {
	err := out.Start(ctx)
	if cerr := out.Close(); cerr != nil {
		p.log.Warn("failed to release output", "error", cerr)
	}
	h.cancel()

	p.mu.Lock()
	if p.active == h {
		p.active = nil
	}
	p.mu.Unlock()
	close(h.released)

	switch {
	case err == nil:
		p.log.Debug("playback finished", "mime", h.mime)
	case errors.Is(err, context.Canceled):
		p.log.Debug("playback stopped", "mime", h.mime)
	default:
		p.log.Warn("playback failed", "mime", h.mime, "error", err)
	}
}

// Stop cancels the active clip and returns once its output is released.
func (p *Player) Stop() {
	p.playMu.Lock()
	defer p.playMu.Unlock()
	p.stopActive()
}

func (p *Player) stopActive() {
	p.mu.Lock()
	h := p.active
	p.mu.Unlock()

	if h == nil {
		return
	}
	h.cancel()
	<-h.released
}

func (p *Player) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active != nil
}

// Wait blocks until the active clip, if any, has been released.
func (p *Player) Wait(ctx context.Context) error {
	p.mu.Lock()
	h := p.active
	p.mu.Unlock()

	if h == nil {
		return nil
	}
	select {
	case <-h.released:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func decodePayload(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if i := strings.Index(encoded, ";base64,"); strings.HasPrefix(encoded, "data:") && i >= 0 {
		encoded = encoded[i+len(";base64,"):]
	}
	if encoded == "" {
		return nil, fmt.Errorf("%w: empty audio payload", shared.ErrEncoding)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 audio: %v", shared.ErrEncoding, err)
	}
	return data, nil
}
