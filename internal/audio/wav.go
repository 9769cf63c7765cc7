package audio

import "encoding/binary"

// chunkGain is the fixed amplitude boost applied before quantization. Call
// recordings arrive quiet; the API transcribes the boosted signal better.
const chunkGain = 2.0

// EncodePCM16 renders samples as a mono 16-bit PCM WAV byte stream with the
// canonical 44-byte header, applying chunkGain with hard clipping to [-1, 1].
func EncodePCM16(samples []float32, sampleRate int) []byte {
	out := make([]byte, 44+len(samples)*2)

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(samples)*2))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:24], 1) // mono
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(out[32:34], 2)
	binary.LittleEndian.PutUint16(out[34:36], 16)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(samples)*2))

	off := 44
	for _, v := range samples {
		s := float64(v) * chunkGain
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var q int16
		if s < 0 {
			q = int16(s * 0x8000)
		} else {
			q = int16(s * 0x7FFF)
		}
		binary.LittleEndian.PutUint16(out[off:off+2], uint16(q))
		off += 2
	}
	return out
}
