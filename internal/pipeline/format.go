package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/market-study-cli/internal/llm"
	"github.com/sells-group/market-study-cli/internal/model"
	"github.com/sells-group/market-study-cli/internal/quality"
	"github.com/sells-group/market-study-cli/internal/waterfall"
	"github.com/sells-group/market-study-cli/internal/waterfall/provider"
)

// errorExcerptLength bounds the source excerpt kept in a failed section.
const errorExcerptLength = 500

const chunkSeparator = "\n\n---\n\n"

const chartFormat = "```json\n" +
	`{"type": "pie", "title": "Titre", "data": {"values": [55, 30, 15]}, "labels": ["A", "B", "C"]}` +
	"\n```"

const internalRole = `Tu es un consultant senior qui formate un rapport d'étude de marché.

RÈGLE ABSOLUE : Tu NE DOIS PAS inventer de données. UNIQUEMENT les informations du contenu source.

Instructions strictes :
1. Extrais les données EXACTEMENT comme elles apparaissent
2. Cite les noms EXACTS des entreprises, jamais "Acteur A/B"
3. Si une donnée n'est PAS dans la source, écris "Donnée non disponible"
4. NE PAS compléter avec tes connaissances générales

GRAPHIQUES : Génère un graphique UNIQUEMENT si tu as des DONNÉES CHIFFRÉES RÉELLES.
Format: ` + chartFormat + `

Format de sortie :
- Titre de section
- Contenu structuré avec les VRAIES données
- Tableaux avec les VRAIS chiffres si présents
- 🟢 Source Interne
- %s`

const webRole = `Tu es un consultant senior qui formate un rapport d'étude de marché.

Instructions :
1. Utilise les DONNÉES RÉELLES du contenu source web
2. Tu peux ajouter du contexte explicatif autour des données
3. Cite les VRAIS chiffres et noms d'entreprises trouvés
4. NE PAS inventer de données si elles ne sont pas dans la source

GRAPHIQUES : Génère un graphique UNIQUEMENT si tu as des DONNÉES CHIFFRÉES RÉELLES.
Format: ` + chartFormat + `

Format de sortie :
- Titre de section
- Contenu structuré avec données sourcées
- Tableaux avec données réelles si disponibles
- 🔵 Source Web
- %s`

const synthesisRole = `Tu es un consultant senior qui rédige une section de synthèse d'étude de marché.

Cette section DOIT s'appuyer sur les données des sections précédentes du rapport.
Tu as accès aux données compilées des parties 1 et 2.

Instructions :
1. Synthétise les informations clés des sections précédentes
2. Mets en avant les chiffres importants (TAM, parts de marché, etc.)
3. Identifie les tendances et conclusions principales
4. Pour les risques : identifie les zones d'incertitude basées sur les scores de confiance faibles
5. Pour les leviers : propose des actions basées sur les opportunités identifiées
6. Pour les prochaines étapes : recommande des actions concrètes et, si les données sont insuffisantes, RECOMMANDE UN RDV EXPERT

NE PAS utiliser de formules mathématiques ou LaTeX. Utilise du texte simple.

GRAPHIQUES : Génère des graphiques récapitulatifs si pertinent.
Format: ` + chartFormat + `

Format de sortie :
- Titre de section
- Contenu structuré basé sur les données des sections précédentes
- Points clés en bullet points
- Recommandations concrètes
- 🔵 Synthèse
- %s`

const estimationRole = `Tu es un consultant senior qui formate un rapport basé sur des estimations.

Le contenu provient d'un modèle d'ESTIMATION avec des hypothèses méthodologiques.
IMPORTANT : Si des données internes sont fournies dans le contexte, utilise-les comme BASE pour tes estimations.

Instructions :
1. Formate les estimations de manière professionnelle
2. Présente les chiffres estimés clairement avec des calculs simples en texte (PAS de LaTeX)
3. Indique les hypothèses utilisées
4. Si une donnée interne existe (ex: TAM = 7 Md€), utilise-la plutôt que d'inventer

Exemple correct : "27 millions x 50%% = 13.5 millions"

GRAPHIQUES : Génère des graphiques pour visualiser les estimations.
Format: ` + chartFormat + `

Format de sortie :
- Titre de section
- Contenu structuré avec les estimations chiffrées
- Calculs expliqués en texte simple
- Tableaux avec les valeurs estimées
- 🟡 Estimation
- %s
- Hypothèses : liste des hypothèses clés`

const formatInstruction = "Section: %s\nContenu source: %s\n\nGénère la section formatée. RAPPEL: utilise UNIQUEMENT les données réelles du contenu source."

// ConfidenceLabel renders the score line closing every formatted section.
func ConfidenceLabel(score float64) string {
	return fmt.Sprintf("Score de confiance: %.2f", score)
}

// SystemRole returns the formatting role for an accepted source.
func SystemRole(source model.Source, confidence float64) string {
	label := ConfidenceLabel(confidence)
	switch source {
	case model.SourceInternal:
		return fmt.Sprintf(internalRole, label)
	case model.SourceWeb:
		return fmt.Sprintf(webRole, label)
	case model.SourceSynthesis:
		return fmt.Sprintf(synthesisRole, label)
	default:
		return fmt.Sprintf(estimationRole, label)
	}
}

// sourceTag marks the source excerpt of a section whose generation failed.
func sourceTag(source model.Source) string {
	switch source {
	case model.SourceInternal:
		return "[🟢 INTERNE]"
	case model.SourceWeb:
		return "[🔵 WEB]"
	case model.SourceSynthesis:
		return "[🔵 SYNTHÈSE]"
	default:
		return "[🟡 ESTIMATION]"
	}
}

// Formatter renders a resolved section into report prose. A generation
// failure produces a visible placeholder instead of an error.
type Formatter struct {
	gen provider.Generator
}

// NewFormatter creates a formatter over a text generator.
func NewFormatter(gen provider.Generator) *Formatter {
	return &Formatter{gen: gen}
}

// Format turns a cascade resolution into a report section.
func (f *Formatter) Format(ctx context.Context, res waterfall.Resolution) model.ResolvedSection {
	content := res.Content()
	if res.Source() == model.SourceInternal {
		content = CleanInternal(content)
	}

	title := res.Section.Label
	text, err := f.generate(ctx, SystemRole(res.Source(), res.Confidence), fmt.Sprintf(formatInstruction, title, content))
	if err != nil {
		zap.L().Warn("pipeline: section formatting failed",
			zap.String("section", title),
			zap.String("source", string(res.Source())),
			zap.Error(err),
		)
		text = ErrorPlaceholder(err, res.Source(), content)
	}

	attempts := make([]model.SourceAttempt, len(res.Attempts))
	copy(attempts, res.Attempts)
	return model.ResolvedSection{
		ID:              res.Section.ID(),
		Title:           title,
		Content:         text,
		Source:          res.Source(),
		ConfidenceScore: res.Confidence,
		SourceHistory:   attempts,
		CanDeepen:       true,
	}
}

func (f *Formatter) generate(ctx context.Context, role, user string) (string, error) {
	if f.gen == nil {
		return "", provider.ErrUnavailable
	}
	return f.gen.Generate(ctx, role, user)
}

// ErrorPlaceholder keeps the source material visible when formatting fails.
// Long or repetitive content is cut to its first chunk.
func ErrorPlaceholder(err error, source model.Source, content string) string {
	head := llm.ErrorText(err)
	if quality.Length(content) > errorExcerptLength || strings.Count(content, "[Source:") > 1 {
		preview := content
		if i := strings.Index(content, chunkSeparator); i >= 0 {
			preview = content[:i]
		}
		preview = quality.Truncate(preview, errorExcerptLength)
		return fmt.Sprintf("%s\n\n%s Contenu source (extrait):\n%s...", head, sourceTag(source), preview)
	}
	return fmt.Sprintf("%s\n\n%s Contenu source:\n%s", head, sourceTag(source), content)
}

// CleanInternal collapses internal search output before formatting: only the
// first [Source: ...] header is kept, and chunk separators are dropped
// together with the lines up to the next header.
func CleanInternal(content string) string {
	if !strings.Contains(content, "[Source:") {
		return content
	}
	var kept []string
	seenHeader := false
	skipNext := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "[Source:"):
			if !seenHeader {
				kept = append(kept, line)
				seenHeader = true
			}
			skipNext = false
		case trimmed == "---":
			skipNext = true
		case skipNext:
		default:
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
