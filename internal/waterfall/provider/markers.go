package provider

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	// NoInformationText is rendered when the index holds nothing relevant.
	NoInformationText = "Aucune information trouvée dans la base interne."
	// NotConfiguredText is rendered when no document index is available.
	NotConfiguredText = "Recherche interne indisponible: configuration manquante."
	// ChunkSeparator joins per-file blocks in a rendered result.
	ChunkSeparator = "\n\n---\n\n"
)

var (
	bestMarkerRe   = regexp.MustCompile(`\[BEST_SIMILARITY:\s*([\d.]+)\]`)
	sourceHeaderRe = regexp.MustCompile(`\[Source:\s*(.*?)\s*\|\s*Similarity:\s*([\d.]+)\s*\|\s*Distance:\s*([\d.]+)\]`)
)

// FormatMarkers renders a result in the textual marker layout: a leading
// [BEST_SIMILARITY: x.xxx] line followed by one
// [Source: name | Similarity: s | Distance: d] block per file.
func FormatMarkers(r *SearchResult) string {
	if r == nil || !r.Configured {
		return NotConfiguredText
	}
	if !r.Found || len(r.Matches) == 0 {
		return NoInformationText
	}
	blocks := make([]string, 0, len(r.Matches))
	for _, m := range r.Matches {
		blocks = append(blocks, fmt.Sprintf("[Source: %s | Similarity: %.2f | Distance: %.3f]\n%s",
			m.Source, m.Similarity, m.Distance, m.Content))
	}
	return fmt.Sprintf("[BEST_SIMILARITY: %.3f]\n%s", r.Best(), strings.Join(blocks, ChunkSeparator))
}

// ParseMarkers rebuilds a typed result from marker text produced by
// FormatMarkers or by an external search service using the same layout.
func ParseMarkers(text string) SearchResult {
	res := SearchResult{Text: text}
	if strings.Contains(text, "configuration manquante") {
		return res
	}
	res.Configured = true
	if strings.TrimSpace(text) == "" || strings.Contains(text, "Aucune information") {
		return res
	}
	res.Found = true

	if m := bestMarkerRe.FindStringSubmatch(text); m != nil {
		res.BestSimilarity, _ = strconv.ParseFloat(m[1], 64)
	}

	for _, block := range strings.Split(text, ChunkSeparator) {
		loc := sourceHeaderRe.FindStringSubmatchIndex(block)
		if loc == nil {
			continue
		}
		sim, _ := strconv.ParseFloat(block[loc[4]:loc[5]], 64)
		dist, _ := strconv.ParseFloat(block[loc[6]:loc[7]], 64)
		res.Matches = append(res.Matches, Match{
			Source:     block[loc[2]:loc[3]],
			Similarity: sim,
			Distance:   dist,
			Content:    strings.TrimPrefix(block[loc[1]:], "\n"),
		})
	}
	return res
}

// SimilarityFromDistance converts a vector distance into a [0,1] score.
func SimilarityFromDistance(distance float64) float64 {
	if distance < 0 {
		distance = 0
	}
	return 1.0 / (1.0 + distance)
}
