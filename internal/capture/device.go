package capture

import (
	"context"
	"errors"
)

var ErrPermissionDenied = errors.New("microphone access denied")

type Constraints struct {
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

func DefaultConstraints() Constraints {
	return Constraints{
		SampleRate:       16000,
		Channels:         1,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// Stream is an acquired but not yet running input track.
type Stream interface {
	SampleRate() int
	Channels() int
	Start(onData func(pcm []int16)) error
	// Stop halts capture and releases the hardware. Safe to call more than once.
	Stop() error
}

type Device interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}
