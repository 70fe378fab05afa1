package waterfall

import (
	"strings"

	"github.com/sells-group/market-study-cli/internal/quality"
)

// KeywordOverlap counts the label words of at least minRunes characters that
// occur in content, case-insensitively. Repeated label words count each time.
func KeywordOverlap(label, content string, minRunes int) int {
	if content == "" {
		return 0
	}
	folded := quality.Fold(content)
	n := 0
	for _, w := range strings.Fields(quality.Fold(label)) {
		if quality.Length(w) < minRunes {
			continue
		}
		if strings.Contains(folded, w) {
			n++
		}
	}
	return n
}
