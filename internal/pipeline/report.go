package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/sells-group/market-study-cli/internal/model"
)

var sourceLabels = map[model.Source]string{
	model.SourceInternal:   "🟢 Interne",
	model.SourceWeb:        "🔵 Web",
	model.SourceSynthesis:  "🔵 Synthèse",
	model.SourceEstimation: "🟡 Estimation",
}

// SourceLabel returns the display label of a source.
func SourceLabel(s model.Source) string {
	if l, ok := sourceLabels[s]; ok {
		return l
	}
	return string(s)
}

// FormatReport renders a finished report as Markdown.
func FormatReport(r *model.Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Étude de marché: %s (%s)\n", r.Mission.MarketName, r.Mission.Geography)
	fmt.Fprintf(&b, "Conversation: %s\n", r.ConversationID)
	if r.Mission.ClientWebsite != "" {
		fmt.Fprintf(&b, "Site client: %s\n", r.Mission.ClientWebsite)
	}
	if !r.CompletedAt.IsZero() {
		fmt.Fprintf(&b, "Généré le %s (%s)\n", r.CompletedAt.Format("2006-01-02 15:04"), r.CompletedAt.Sub(r.StartedAt).Round(time.Second))
	}
	b.WriteString("\n")

	// Summary.
	counts := r.SourceCounts()
	b.WriteString("## Synthèse des sources\n")
	for _, s := range []model.Source{model.SourceInternal, model.SourceWeb, model.SourceEstimation, model.SourceSynthesis} {
		fmt.Fprintf(&b, "- %s: %d\n", SourceLabel(s), counts[s])
	}
	fmt.Fprintf(&b, "- Sections à faible confiance: %d\n\n", len(r.ExpertRecommendations))

	for _, s := range r.Sections {
		fmt.Fprintf(&b, "## %s\n\n", s.Title)
		b.WriteString(strings.TrimSpace(s.Content))
		b.WriteString("\n\n")
		fmt.Fprintf(&b, "_Source: %s | %s | Parcours: %s_\n\n", SourceLabel(s.Source), ConfidenceLabel(s.ConfidenceScore), Trail(s.SourceHistory))
	}

	if len(r.ExpertRecommendations) > 0 {
		b.WriteString("## Recommandations d'experts\n\n")
		for _, rec := range r.ExpertRecommendations {
			fmt.Fprintf(&b, "### %s\n\n%s\n\n", rec.SectionTitle, strings.TrimSpace(rec.Recommendation))
		}
	}
	return b.String()
}

// Trail renders a source history as "INTERNAL:not_found > WEB:found".
func Trail(attempts []model.SourceAttempt) string {
	parts := make([]string, 0, len(attempts))
	for _, a := range attempts {
		parts = append(parts, fmt.Sprintf("%s:%s", a.Source, a.Status))
	}
	return strings.Join(parts, " > ")
}
