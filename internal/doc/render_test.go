package doc

import (
	"strings"
	"testing"

	"transcriptor-pro/internal/types"
)

func TestRenderDocument(t *testing.T) {
	blocks := []types.Segment{
		{Start: 0, End: 5, Text: "Buenos días, le atiende Juan", Role: "Asesor"},
		{Start: 5, End: 3725, Text: "Hola, llamo por <mi> factura", Role: "Cliente"},
	}

	out := string(Render(blocks, "llamada & reclamo.wav"))

	if !strings.HasPrefix(out, "\uFEFF") {
		t.Fatal("payload missing BOM")
	}
	if !strings.Contains(out, "schemas-microsoft-com:office:word") {
		t.Fatal("missing Word namespace declaration")
	}
	if !strings.Contains(out, "Transcripción: llamada &amp; reclamo.wav") {
		t.Fatal("filename not escaped into the title")
	}
	if !strings.Contains(out, `<span class="role-asesor">ASESOR:</span>`) {
		t.Fatal("advisor block missing")
	}
	if !strings.Contains(out, `<span class="role-cliente">CLIENTE:</span>`) {
		t.Fatal("customer block missing")
	}
	if !strings.Contains(out, "[00:00:00]") || !strings.Contains(out, "[00:00:05]") {
		t.Fatal("timestamps missing")
	}
	if !strings.Contains(out, "llamo por &lt;mi&gt; factura") {
		t.Fatal("dialogue text not escaped")
	}
	if !strings.HasSuffix(out, "</body></html>") {
		t.Fatal("document not closed")
	}
}

func TestRenderEmpty(t *testing.T) {
	out := string(Render(nil, "vacio.wav"))
	if !strings.Contains(out, "vacio.wav") || !strings.HasSuffix(out, "</body></html>") {
		t.Fatal("empty document malformed")
	}
}

func TestTimestamp(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{0, "00:00:00"},
		{59.9, "00:00:59"},
		{61, "00:01:01"},
		{3725, "01:02:05"},
	}
	for _, c := range cases {
		if got := Timestamp(c.in); got != c.want {
			t.Fatalf("Timestamp(%v) = %s, want %s", c.in, got, c.want)
		}
	}
}
