package audio

import (
	"fmt"

	"github.com/eleven-am/interview-realtime/internal/shared"
)

const TargetSampleRate = 16000

// ToMono16kPCM16 decodes any supported payload and re-encodes it as a mono
// 16 kHz 16-bit WAV. The result depends only on the input bytes.
func ToMono16kPCM16(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return EncodeWAV(nil, TargetSampleRate, 1)
	}

	buf, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	return EncodeMono16k(buf)
}

func EncodeMono16k(buf PCMBuffer) ([]byte, error) {
	if buf.SampleRate <= 0 || buf.Channels <= 0 {
		return nil, fmt.Errorf("%w: invalid buffer %d ch @ %d Hz", shared.ErrEncoding, buf.Channels, buf.SampleRate)
	}
	mono := MixDown(buf.Samples, buf.Channels)
	resampled := Resample(mono, buf.SampleRate, TargetSampleRate)
	return EncodeWAV(Float32ToInt16(resampled), TargetSampleRate, 1)
}

// SplitChunks slices data into pieces of at most size bytes. The pieces
// share data's backing array.
func SplitChunks(data []byte, size int) ([][]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if len(data) == 0 {
		return nil, nil
	}

	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for start := 0; start < len(data); start += size {
		end := min(start+size, len(data))
		chunks = append(chunks, data[start:end:end])
	}
	return chunks, nil
}
