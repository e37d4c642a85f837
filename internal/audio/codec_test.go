package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/eleven-am/interview-realtime/internal/shared"
)

func TestToMono16kPCM16_Empty(t *testing.T) {
	out, err := ToMono16kPCM16(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != WAVHeaderSize {
		t.Fatalf("expected header-only container, got %d bytes", len(out))
	}
	if binary.LittleEndian.Uint32(out[40:]) != 0 {
		t.Error("expected zero data size")
	}
	if binary.LittleEndian.Uint32(out[24:]) != TargetSampleRate {
		t.Error("expected 16 kHz header")
	}
}

func TestToMono16kPCM16_UpsamplesStereo(t *testing.T) {
	stereo := make([]int16, 8000*2)
	for i := 0; i < 8000; i++ {
		stereo[i*2] = 16384
		stereo[i*2+1] = 0
	}
	in, _ := EncodeWAV(stereo, 8000, 2)

	out, err := ToMono16kPCM16(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	format, pcm, err := ParseWAVHeader(out)
	if err != nil {
		t.Fatalf("output is not a valid wav: %v", err)
	}
	if format.Channels != 1 || format.SampleRate != 16000 || format.BitsPerSample != 16 {
		t.Errorf("unexpected output format %+v", format)
	}

	samples := PCMBytesToInt16(pcm)
	if len(samples) != 16000 {
		t.Fatalf("expected 16000 samples, got %d", len(samples))
	}
	if binary.LittleEndian.Uint32(out[4:]) != uint32(36+len(samples)*2) {
		t.Error("riff size mismatch")
	}
	// mixdown of 0.5 and 0 is 0.25
	if samples[100] != 8191 {
		t.Errorf("expected 8191, got %d", samples[100])
	}
}

func TestToMono16kPCM16_Deterministic(t *testing.T) {
	samples := make([]int16, 4410)
	for i := range samples {
		samples[i] = int16((i * 37) % 20000)
	}
	in, _ := EncodeWAV(samples, 44100, 1)

	a, err := ToMono16kPCM16(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := ToMono16kPCM16(in)
	if !bytes.Equal(a, b) {
		t.Error("identical input produced different output")
	}
	if got := (len(a) - WAVHeaderSize) / 2; got != 1600 {
		t.Errorf("expected 1600 samples, got %d", got)
	}
}

func TestToMono16kPCM16_Invalid(t *testing.T) {
	if _, err := ToMono16kPCM16([]byte("RIFF\x00\x00\x00\x00WAVE")); !errors.Is(err, shared.ErrEncoding) {
		t.Errorf("expected ErrEncoding, got %v", err)
	}
}

func TestEncodeMono16k_InvalidBuffer(t *testing.T) {
	if _, err := EncodeMono16k(PCMBuffer{Samples: []float32{0.1}}); !errors.Is(err, shared.ErrEncoding) {
		t.Errorf("expected ErrEncoding, got %v", err)
	}
}

func TestSplitChunks(t *testing.T) {
	data := []byte("abcdefghij")

	tests := []struct {
		size int
		want []string
	}{
		{3, []string{"abc", "def", "ghi", "j"}},
		{5, []string{"abcde", "fghij"}},
		{20, []string{"abcdefghij"}},
		{1, []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}},
	}

	for _, tt := range tests {
		chunks, err := SplitChunks(data, tt.size)
		if err != nil {
			t.Fatalf("size %d: unexpected error: %v", tt.size, err)
		}
		if len(chunks) != len(tt.want) {
			t.Fatalf("size %d: expected %d chunks, got %d", tt.size, len(tt.want), len(chunks))
		}
		for i := range chunks {
			if string(chunks[i]) != tt.want[i] {
				t.Errorf("size %d chunk %d: expected %q, got %q", tt.size, i, tt.want[i], chunks[i])
			}
		}
	}
}

func TestSplitChunks_EdgeCases(t *testing.T) {
	chunks, err := SplitChunks(nil, 4)
	if err != nil || len(chunks) != 0 {
		t.Errorf("expected no chunks for empty input, got %v, %v", chunks, err)
	}
	if _, err := SplitChunks([]byte("x"), 0); err == nil {
		t.Error("expected error for zero size")
	}
}
