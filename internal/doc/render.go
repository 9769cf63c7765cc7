// Package doc renders merged dialogue blocks into the downloadable
// transcript document: a self-contained Word-compatible HTML payload.
package doc

import (
	"fmt"
	"html"
	"strings"

	"transcriptor-pro/internal/types"
)

// ContentType is the MIME type the document is served with.
const ContentType = "application/msword"

const header = `<html xmlns:o='urn:schemas-microsoft-com:office:office' xmlns:w='urn:schemas-microsoft-com:office:word' xmlns='http://www.w3.org/TR/REC-html40'><head><meta charset='utf-8'><style>
    body { font-family: 'Calibri', Arial, sans-serif; padding: 20px; font-size: 11pt; }
    .dialogue-block { margin-bottom: 15px; }
    .role-asesor { color: #0056b3; font-weight: bold; font-size: 0.9em; text-transform: uppercase; }
    .role-cliente { color: #d35400; font-weight: bold; font-size: 0.9em; text-transform: uppercase; }
    .timestamp { color: #666; font-size: 0.8em; font-family: monospace; margin-right: 5px; }
</style></head><body>`

// Render builds the document for a merged block sequence. The payload starts
// with a byte-order marker so Word detects the UTF-8 encoding.
func Render(blocks []types.Segment, filename string) []byte {
	var b strings.Builder
	b.WriteString("\uFEFF")
	b.WriteString(header)
	fmt.Fprintf(&b, `<h2 style="color:#333; border-bottom:1px solid #ccc;">Transcripción: %s</h2>`, html.EscapeString(filename))

	for _, s := range blocks {
		roleClass, roleName := "role-cliente", "CLIENTE"
		if s.Role == "Asesor" {
			roleClass, roleName = "role-asesor", "ASESOR"
		}
		fmt.Fprintf(&b,
			`<div class="dialogue-block"><span class="timestamp">[%s]</span> <span class="%s">%s:</span> <span>%s</span></div>`,
			Timestamp(s.Start), roleClass, roleName, html.EscapeString(s.Text))
	}

	b.WriteString("</body></html>")
	return []byte(b.String())
}

// Timestamp formats seconds as HH:MM:SS.
func Timestamp(seconds float64) string {
	t := int(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", t/3600, (t%3600)/60, t%60)
}
