package crawler

import (
	"regexp"

	"github.com/nao1215/finwatch/internal/model"
)

// pdfURLPattern matches absolute PDF URLs anywhere in raw markup,
// including script bodies and data attributes the DOM walk does not see.
var pdfURLPattern = regexp.MustCompile(`(?i)https?://[^\s'"<>]+\.pdf(?:\?[^\s'"<>]*)?`)

// ScanPDFURLs returns the distinct absolute PDF URLs found in body, in
// order of first appearance and normalized.
func ScanPDFURLs(body []byte) []string {
	matches := pdfURLPattern.FindAll(body, -1)
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		u := model.NormalizeURL(string(m))
		if seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}
