package transcribe

import (
	"testing"

	"transcriptor-pro/internal/types"
)

// channelBuf fills n samples with a constant amplitude.
func channelBuf(n int, amp float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = amp
	}
	return out
}

// TestAssignRolesByChannelEnergy checks the louder channel wins with the 10%
// margin favoring the advisor on ties.
func TestAssignRolesByChannelEnergy(t *testing.T) {
	rate := 16000
	segments := []types.Segment{
		{Start: 0, End: 1, Text: "hola"},
		{Start: 1, End: 2, Text: "buenas"},
	}

	// Advisor louder on the left for the first second, customer clearly
	// louder on the right for the second.
	left := append(channelBuf(rate, 0.8), channelBuf(rate, 0.1)...)
	right := append(channelBuf(rate, 0.1), channelBuf(rate, 0.8)...)

	got := AssignRoles(segments, left, right, rate)
	if got[0].Role != RoleAsesor {
		t.Fatalf("seg 0 role = %s, want %s", got[0].Role, RoleAsesor)
	}
	if got[1].Role != RoleCliente {
		t.Fatalf("seg 1 role = %s, want %s", got[1].Role, RoleCliente)
	}
}

// TestAssignRolesMarginFavorsAsesor checks a right channel inside the 10%
// margin still labels as advisor.
func TestAssignRolesMarginFavorsAsesor(t *testing.T) {
	rate := 16000
	segments := []types.Segment{{Start: 0, End: 1, Text: "x"}}
	left := channelBuf(rate, 0.5)
	right := channelBuf(rate, 0.54) // 8% louder, under the margin

	got := AssignRoles(segments, left, right, rate)
	if got[0].Role != RoleAsesor {
		t.Fatalf("role = %s, want %s (within margin)", got[0].Role, RoleAsesor)
	}
}

// TestAssignRolesEmptyAudio checks segments beyond the buffers default to
// advisor instead of panicking.
func TestAssignRolesEmptyAudio(t *testing.T) {
	segments := []types.Segment{{Start: 5, End: 6, Text: "x"}}
	got := AssignRoles(segments, nil, nil, 16000)
	if got[0].Role != RoleAsesor {
		t.Fatalf("role = %s, want %s", got[0].Role, RoleAsesor)
	}
}

// TestMergeBlocks collapses consecutive same-role segments.
func TestMergeBlocks(t *testing.T) {
	in := []types.Segment{
		{Start: 0, End: 1, Text: "hola", Role: RoleAsesor},
		{Start: 1, End: 2, Text: "buenos días", Role: RoleAsesor},
		{Start: 2, End: 3, Text: "gracias", Role: RoleCliente},
		{Start: 3, End: 4, Text: "igualmente", Role: RoleAsesor},
	}

	got := MergeBlocks(in)
	if len(got) != 3 {
		t.Fatalf("blocks = %d, want 3", len(got))
	}
	if got[0].Text != "hola buenos días" {
		t.Fatalf("block 0 text = %q", got[0].Text)
	}
	if got[0].End != 2 {
		t.Fatalf("block 0 end = %v, want 2", got[0].End)
	}
	if got[1].Role != RoleCliente || got[2].Role != RoleAsesor {
		t.Fatalf("roles = %s/%s", got[1].Role, got[2].Role)
	}
}

// TestMergeBlocksEmpty returns nil for no segments.
func TestMergeBlocksEmpty(t *testing.T) {
	if got := MergeBlocks(nil); got != nil {
		t.Fatalf("merge(nil) = %v, want nil", got)
	}
}
