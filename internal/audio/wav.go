package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/eleven-am/interview-realtime/internal/shared"
)

const (
	WAVHeaderSize = 44

	formatPCM        = 1
	formatIEEEFloat  = 3
	formatExtensible = 0xFFFE
)

type WAVHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

// EncodeWAV wraps 16-bit samples in a canonical 44-byte RIFF/WAVE header.
// Zero samples yield a valid header-only container.
func EncodeWAV(samples []int16, sampleRate, channels int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate must be positive, got %d", shared.ErrEncoding, sampleRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("%w: channel count must be positive, got %d", shared.ErrEncoding, channels)
	}

	numChannels := uint16(channels)
	bitsPerSample := uint16(16)
	dataSize := uint32(len(samples) * 2)

	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   formatPCM,
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * 2,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, WAVHeaderSize+len(samples)*2))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("%w: write header: %v", shared.ErrEncoding, err)
	}
	if len(samples) > 0 {
		if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
			return nil, fmt.Errorf("%w: write samples: %v", shared.ErrEncoding, err)
		}
	}
	return buf.Bytes(), nil
}

type WAVFormat struct {
	AudioFormat   int
	Channels      int
	SampleRate    int
	BitsPerSample int
}

// ParseWAVHeader reads the fmt chunk and locates the data chunk, walking
// any chunks in between.
func ParseWAVHeader(data []byte) (WAVFormat, []byte, error) {
	var format WAVFormat
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return format, nil, fmt.Errorf("%w: not a RIFF/WAVE container", shared.ErrEncoding)
	}

	var (
		pcm      []byte
		haveFmt  bool
		haveData bool
	)
	pos := 12
	for pos+8 <= len(data) {
		chunkID := string(data[pos : pos+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		pos += 8

		end := pos + chunkSize
		if end > len(data) {
			if chunkID != "data" {
				return format, nil, fmt.Errorf("%w: truncated %q chunk", shared.ErrEncoding, chunkID)
			}
			end = len(data)
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return format, nil, fmt.Errorf("%w: fmt chunk too small", shared.ErrEncoding)
			}
			format.AudioFormat = int(binary.LittleEndian.Uint16(data[pos : pos+2]))
			format.Channels = int(binary.LittleEndian.Uint16(data[pos+2 : pos+4]))
			format.SampleRate = int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
			format.BitsPerSample = int(binary.LittleEndian.Uint16(data[pos+14 : pos+16]))
			if format.AudioFormat == formatExtensible && chunkSize >= 26 {
				format.AudioFormat = int(binary.LittleEndian.Uint16(data[pos+24 : pos+26]))
			}
			haveFmt = true
		case "data":
			pcm = data[pos:end]
			haveData = true
		}

		pos = end
		if chunkSize%2 == 1 {
			pos++
		}
		if haveFmt && haveData {
			break
		}
	}

	if !haveFmt {
		return format, nil, fmt.Errorf("%w: missing fmt chunk", shared.ErrEncoding)
	}
	if !haveData {
		return format, nil, fmt.Errorf("%w: missing data chunk", shared.ErrEncoding)
	}
	if format.Channels <= 0 || format.SampleRate <= 0 {
		return format, nil, fmt.Errorf("%w: invalid format %d ch @ %d Hz", shared.ErrEncoding, format.Channels, format.SampleRate)
	}
	return format, pcm, nil
}

func decodeWAV(data []byte) (PCMBuffer, error) {
	format, pcm, err := ParseWAVHeader(data)
	if err != nil {
		return PCMBuffer{}, err
	}

	var samples []float32
	switch {
	case format.AudioFormat == formatPCM && format.BitsPerSample == 8:
		samples = make([]float32, len(pcm))
		for i, b := range pcm {
			samples[i] = (float32(b) - 128) / 128
		}
	case format.AudioFormat == formatPCM && format.BitsPerSample == 16:
		samples = Int16ToFloat32(PCMBytesToInt16(pcm))
	case format.AudioFormat == formatPCM && format.BitsPerSample == 24:
		samples = make([]float32, len(pcm)/3)
		for i := range samples {
			v := int32(pcm[i*3]) | int32(pcm[i*3+1])<<8 | int32(int8(pcm[i*3+2]))<<16
			samples[i] = float32(v) / 8388608
		}
	case format.AudioFormat == formatPCM && format.BitsPerSample == 32:
		samples = make([]float32, len(pcm)/4)
		for i := range samples {
			v := int32(binary.LittleEndian.Uint32(pcm[i*4:]))
			samples[i] = float32(float64(v) / 2147483648)
		}
	case format.AudioFormat == formatIEEEFloat && format.BitsPerSample == 32:
		samples = make([]float32, len(pcm)/4)
		for i := range samples {
			samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(pcm[i*4:]))
		}
	case format.AudioFormat == formatIEEEFloat && format.BitsPerSample == 64:
		samples = make([]float32, len(pcm)/8)
		for i := range samples {
			samples[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(pcm[i*8:])))
		}
	default:
		return PCMBuffer{}, fmt.Errorf("%w: unsupported wav encoding format=%d bits=%d",
			shared.ErrEncoding, format.AudioFormat, format.BitsPerSample)
	}

	frames := len(samples) / format.Channels
	return PCMBuffer{
		Samples:    samples[:frames*format.Channels],
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
	}, nil
}
