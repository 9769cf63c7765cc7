// Package audio provides the minimal DSP the pipeline needs: WAV decoding
// into per-channel float buffers, nearest-sample decimation to 16 kHz, mono
// mixing, and the canonical 16-bit PCM chunk encoding sent to the API.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
)

// TargetRate is the fixed internal sample rate.
const TargetRate = 16000

// Decoded holds per-channel sample buffers. Mono sources carry the same
// buffer in both channels.
type Decoded struct {
	Left       []float32
	Right      []float32
	SampleRate int
}

// DecodeFile reads a RIFF/WAVE file and returns both channels resampled to
// TargetRate.
func DecodeFile(path string) (*Decoded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	return Decode(data)
}

// Decode parses PCM (16-bit integer or 32-bit float) WAV data and decimates
// each channel independently to TargetRate.
func Decode(data []byte) (*Decoded, error) {
	format, channels, rate, payload, err := parseWAV(data)
	if err != nil {
		return nil, err
	}

	left, right, err := deinterleave(format, channels, payload)
	if err != nil {
		return nil, err
	}

	return &Decoded{
		Left:       Downsample(left, rate, TargetRate),
		Right:      Downsample(right, rate, TargetRate),
		SampleRate: TargetRate,
	}, nil
}

func parseWAV(data []byte) (format, channels, rate int, payload []byte, err error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return 0, 0, 0, nil, errors.New("not a RIFF/WAVE file")
	}

	pos := 12
	var bits int
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(data) {
			size = len(data) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return 0, 0, 0, nil, errors.New("truncated fmt chunk")
			}
			format = int(binary.LittleEndian.Uint16(data[body : body+2]))
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			rate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
		case "data":
			payload = data[body : body+size]
		}

		// Chunks are word aligned.
		pos = body + size
		if size%2 == 1 {
			pos++
		}
	}

	if payload == nil {
		return 0, 0, 0, nil, errors.New("no data chunk")
	}
	if channels < 1 || rate <= 0 {
		return 0, 0, 0, nil, errors.New("invalid fmt chunk")
	}
	switch {
	case format == 1 && bits == 16:
	case format == 3 && bits == 32:
	default:
		return 0, 0, 0, nil, fmt.Errorf("unsupported wav encoding: format=%d bits=%d", format, bits)
	}
	return format, channels, rate, payload, nil
}

func deinterleave(format, channels int, payload []byte) (left, right []float32, err error) {
	bytesPerSample := 2
	if format == 3 {
		bytesPerSample = 4
	}
	frame := bytesPerSample * channels
	frames := len(payload) / frame

	left = make([]float32, frames)
	for i := 0; i < frames; i++ {
		left[i] = sampleAt(format, payload, i*frame)
	}
	if channels < 2 {
		return left, left, nil
	}

	right = make([]float32, frames)
	for i := 0; i < frames; i++ {
		right[i] = sampleAt(format, payload, i*frame+bytesPerSample)
	}
	return left, right, nil
}

func sampleAt(format int, payload []byte, off int) float32 {
	if format == 3 {
		return math.Float32frombits(binary.LittleEndian.Uint32(payload[off : off+4]))
	}
	return float32(int16(binary.LittleEndian.Uint16(payload[off:off+2]))) / 32768.0
}

// Downsample decimates by nearest-sample selection without filtering. The
// aliasing this introduces is accepted: it matches the transcription
// behavior the document quality was tuned against.
func Downsample(buf []float32, sampleRate, outRate int) []float32 {
	if outRate >= sampleRate {
		return buf
	}
	ratio := float64(sampleRate) / float64(outRate)
	n := int(math.Round(float64(len(buf)) / ratio))
	out := make([]float32, n)
	for i := range out {
		idx := int(math.Round(float64(i) * ratio))
		if idx >= len(buf) {
			idx = len(buf) - 1
		}
		out[i] = buf[idx]
	}
	return out
}

// MixMono averages two equal-rate channel buffers into one.
func MixMono(left, right []float32) []float32 {
	n := len(left)
	if len(right) < n {
		n = len(right)
	}
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = (left[i] + right[i]) * 0.5
	}
	return out
}
