package interview

import (
	"context"
	"log/slog"

	"github.com/eleven-am/interview-realtime/internal/capture"
	"github.com/eleven-am/interview-realtime/internal/engine"
	"github.com/eleven-am/interview-realtime/internal/playback"
	"github.com/eleven-am/interview-realtime/internal/realtime"
	"github.com/eleven-am/interview-realtime/internal/transport"
)

// Engine is the REST side of the interview engine.
type Engine interface {
	PlanInterview(ctx context.Context, req engine.PlanRequest) (*engine.Plan, error)
	StopInterview(ctx context.Context, interviewID transport.ID) (*engine.Feedback, error)
	UploadRecording(ctx context.Context, interviewID, questionID transport.ID, wav []byte) error
}

// Connection is the realtime channel to the engine.
type Connection interface {
	Status() realtime.Status
	Subscribe(l realtime.StatusListener) func()
	Register(t transport.MessageType, h realtime.Handler)
	MarkPlanning() error
	Connect(endpoint string) error
	Disconnect()
	Send(msg transport.OutboundMessage) error
	Close()
}

type Recorder interface {
	StartRecording(ctx context.Context, onLevel capture.LevelFunc) error
	StopRecording() ([]byte, error)
	IsRecording() bool
	Cleanup()
}

type Speaker interface {
	Play(ctx context.Context, encoded string) error
	Stop()
	Active() bool
}

var (
	_ Engine     = (*engine.Client)(nil)
	_ Connection = (*realtime.Manager)(nil)
	_ Recorder   = (*capture.Service)(nil)
	_ Speaker    = (*playback.Player)(nil)
)

// Components are the resources owned by exactly one session.
type Components struct {
	Conn     Connection
	Recorder Recorder
	Speaker  Speaker
}

// Factory builds a fresh set of components for a new session.
type Factory func(sessionID string, log *slog.Logger) Components

type FactoryConfig struct {
	Realtime realtime.Config
	Capture  capture.Config
	Dialer   realtime.Dialer
	Device   capture.Device
	Sink     playback.Sink
}

func NewFactory(cfg FactoryConfig) Factory {
	return func(sessionID string, log *slog.Logger) Components {
		var opts []realtime.Option
		if cfg.Dialer != nil {
			opts = append(opts, realtime.WithDialer(cfg.Dialer))
		}
		return Components{
			Conn:     realtime.New(cfg.Realtime, log, opts...),
			Recorder: capture.NewService(cfg.Capture, cfg.Device, log),
			Speaker:  playback.NewPlayer(cfg.Sink, log),
		}
	}
}
