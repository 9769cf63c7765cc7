package transcribe

import (
	"math"

	"transcriptor-pro/internal/types"
)

// Speaker roles as they appear in the rendered document.
const (
	RoleAsesor  = "Asesor"
	RoleCliente = "Cliente"
)

// energyStride samples every Nth frame when summing channel energy.
const energyStride = 50

// AssignRoles labels each segment by comparing channel energy over its time
// range: the customer side (right channel) must be more than 10% louder than
// the advisor side to win. A coarse heuristic, not speaker diarization — it
// relies on the two parties being recorded on separate channels.
func AssignRoles(segments []types.Segment, left, right []float32, sampleRate int) []types.Segment {
	out := make([]types.Segment, len(segments))
	for i, seg := range segments {
		startIdx := int(math.Floor(seg.Start * float64(sampleRate)))
		endIdx := int(math.Floor(seg.End * float64(sampleRate)))

		var sumL, sumR float64
		for j := startIdx; j < endIdx && j < len(left) && j < len(right); j += energyStride {
			if j < 0 {
				continue
			}
			sumL += math.Abs(float64(left[j]))
			sumR += math.Abs(float64(right[j]))
		}

		role := RoleAsesor
		if sumR > sumL*1.1 {
			role = RoleCliente
		}
		seg.Role = role
		out[i] = seg
	}
	return out
}

// MergeBlocks collapses consecutive same-role segments into dialogue blocks,
// concatenating text and extending the end time.
func MergeBlocks(segments []types.Segment) []types.Segment {
	if len(segments) == 0 {
		return nil
	}

	var out []types.Segment
	cur := segments[0]
	for _, s := range segments[1:] {
		if s.Role == cur.Role {
			cur.Text += " " + s.Text
			cur.End = s.End
			continue
		}
		out = append(out, cur)
		cur = s
	}
	return append(out, cur)
}
