package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/eleven-am/interview-realtime/internal/shared"
	"github.com/hajimehoshi/go-mp3"
	"gopkg.in/hraban/opus.v2"
)

const (
	MIMEWAV  = "audio/wav"
	MIMEMP3  = "audio/mpeg"
	MIMEOgg  = "audio/ogg"
	MIMEWebM = "audio/webm"

	opusSampleRate = 48000
	opusMaxFrame   = 5760
)

// PCMBuffer is interleaved float audio in [-1, 1]. It is not modified after
// construction.
type PCMBuffer struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

func (b PCMBuffer) Frames() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// DetectMIME sniffs the container from its magic bytes and falls back to
// audio/mpeg.
func DetectMIME(data []byte) string {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return MIMEWAV
	case len(data) >= 4 && string(data[0:4]) == "OggS":
		return MIMEOgg
	case len(data) >= 4 && data[0] == 0x1A && data[1] == 0x45 && data[2] == 0xDF && data[3] == 0xA3:
		return MIMEWebM
	default:
		return MIMEMP3
	}
}

// Decode turns a WAV, MP3 or Ogg Opus payload into float PCM.
func Decode(data []byte) (PCMBuffer, error) {
	if len(data) == 0 {
		return PCMBuffer{}, fmt.Errorf("%w: empty payload", shared.ErrEncoding)
	}

	switch mime := DetectMIME(data); mime {
	case MIMEWAV:
		return decodeWAV(data)
	case MIMEOgg:
		return decodeOpus(data)
	case MIMEMP3:
		return decodeMP3(data)
	default:
		return PCMBuffer{}, fmt.Errorf("%w: unsupported container %s", shared.ErrEncoding, mime)
	}
}

func decodeMP3(data []byte) (PCMBuffer, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return PCMBuffer{}, fmt.Errorf("%w: mp3: %v", shared.ErrEncoding, err)
	}

	raw, err := io.ReadAll(dec)
	if err != nil {
		return PCMBuffer{}, fmt.Errorf("%w: mp3 decode: %v", shared.ErrEncoding, err)
	}

	// go-mp3 always yields 16-bit little-endian stereo
	frames := len(raw) / 4
	return PCMBuffer{
		Samples:    Int16ToFloat32(PCMBytesToInt16(raw[:frames*4])),
		SampleRate: dec.SampleRate(),
		Channels:   2,
	}, nil
}

func decodeOpus(data []byte) (PCMBuffer, error) {
	channels := opusChannels(data)
	if channels == 0 {
		return PCMBuffer{}, fmt.Errorf("%w: ogg stream has no OpusHead", shared.ErrEncoding)
	}

	stream, err := opus.NewStream(bytes.NewReader(data))
	if err != nil {
		return PCMBuffer{}, fmt.Errorf("%w: opus: %v", shared.ErrEncoding, err)
	}
	defer stream.Close()

	var samples []int16
	buf := make([]int16, opusMaxFrame*channels)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			samples = append(samples, buf[:n*channels]...)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return PCMBuffer{}, fmt.Errorf("%w: opus decode: %v", shared.ErrEncoding, err)
		}
		if n == 0 {
			break
		}
	}

	return PCMBuffer{
		Samples:    Int16ToFloat32(samples),
		SampleRate: opusSampleRate,
		Channels:   channels,
	}, nil
}

func opusChannels(data []byte) int {
	idx := bytes.Index(data, []byte("OpusHead"))
	if idx < 0 || idx+19 > len(data) {
		return 0
	}
	channels := int(data[idx+9])
	if channels < 1 || channels > 2 {
		return 0
	}
	if binary.LittleEndian.Uint32(data[idx+12:idx+16]) == 0 {
		return 0
	}
	return channels
}
