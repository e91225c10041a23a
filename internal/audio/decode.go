package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrUnsupportedAudio reports audio bytes this decoder cannot interpret.
var ErrUnsupportedAudio = errors.New("unsupported audio payload")

// DecodeToPCM16Mono converts inbound container bytes to PCM16LE mono at
// targetRate. WAV containers holding PCM16 are parsed, downmixed, and
// resampled; raw PCM16LE payloads pass through unchanged. Anything else
// fails with ErrUnsupportedAudio.
func DecodeToPCM16Mono(data []byte, targetRate int) ([]byte, error) {
	if targetRate <= 0 {
		targetRate = 16000
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrUnsupportedAudio)
	}

	if len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE" {
		return decodeWAV(data, targetRate)
	}

	// Raw PCM16LE from clients that strip the container themselves.
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: odd raw sample length", ErrUnsupportedAudio)
	}
	return data, nil
}

func decodeWAV(data []byte, targetRate int) ([]byte, error) {
	var (
		channels   int
		sampleRate int
		bits       int
		pcm        []byte
		haveFmt    bool
	)

	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if body+chunkSize > len(data) {
			chunkSize = len(data) - body
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, fmt.Errorf("%w: short fmt chunk", ErrUnsupportedAudio)
			}
			format := int(binary.LittleEndian.Uint16(data[body : body+2]))
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			if format != 1 {
				return nil, fmt.Errorf("%w: non-PCM wav format %d", ErrUnsupportedAudio, format)
			}
			haveFmt = true
		case "data":
			pcm = data[body : body+chunkSize]
		}

		// Chunks are word aligned.
		offset = body + chunkSize
		if chunkSize%2 == 1 {
			offset++
		}
	}

	if !haveFmt || pcm == nil {
		return nil, fmt.Errorf("%w: missing fmt or data chunk", ErrUnsupportedAudio)
	}
	if bits != 16 {
		return nil, fmt.Errorf("%w: %d-bit samples", ErrUnsupportedAudio, bits)
	}
	if channels <= 0 || sampleRate <= 0 {
		return nil, fmt.Errorf("%w: invalid fmt chunk", ErrUnsupportedAudio)
	}

	samples := bytesToInt16(pcm)
	if channels > 1 {
		samples = downmix(samples, channels)
	}
	if sampleRate != targetRate {
		samples = resample(samples, sampleRate, targetRate)
	}
	return int16ToBytes(samples), nil
}

func bytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2 : i*2+2]))
	}
	return out
}

func int16ToBytes(s []int16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(v))
	}
	return out
}

func downmix(samples []int16, channels int) []int16 {
	frames := len(samples) / channels
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum int
		for c := 0; c < channels; c++ {
			sum += int(samples[i*channels+c])
		}
		out[i] = int16(sum / channels)
	}
	return out
}

// resample performs nearest-sample rate conversion. Good enough for speech
// recognition input; not intended for playback quality.
func resample(samples []int16, from, to int) []int16 {
	if from == to || len(samples) == 0 {
		return samples
	}
	frames := int(int64(len(samples)) * int64(to) / int64(from))
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		src := int(int64(i) * int64(from) / int64(to))
		if src >= len(samples) {
			src = len(samples) - 1
		}
		out[i] = samples[src]
	}
	return out
}
