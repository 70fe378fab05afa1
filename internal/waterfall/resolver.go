// Package waterfall resolves report sections through the source cascade:
// internal documents, then the web, then estimation, with closing sections
// compiled from the ones already written.
package waterfall

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/market-study-cli/internal/estimate"
	"github.com/sells-group/market-study-cli/internal/model"
	"github.com/sells-group/market-study-cli/internal/quality"
	"github.com/sells-group/market-study-cli/internal/waterfall/provider"
)

// quantitativeWebSuffix is appended to web queries for sections that need
// figures.
const quantitativeWebSuffix = " chiffres données statistiques taille marché parts de marché %s %s"

// Estimator produces the last-resort content for a section.
type Estimator interface {
	Estimate(ctx context.Context, contextText, variables string) (string, error)
}

// Resolver runs the cascade for one section at a time. It holds no per-run
// state and is safe for concurrent use by independent runs.
type Resolver struct {
	internal  provider.InternalSearcher
	web       provider.WebSearcher
	estimator Estimator
	th        Thresholds
}

// NewResolver creates a resolver. Nil collaborators are treated as
// unavailable and the cascade moves on to the next stage. th is used as
// given, so zero thresholds stay zero; the zero Thresholds means defaults.
func NewResolver(internal provider.InternalSearcher, web provider.WebSearcher, estimator Estimator, th Thresholds) *Resolver {
	if th == (Thresholds{}) {
		th = DefaultThresholds()
	}
	return &Resolver{
		internal:  internal,
		web:       web,
		estimator: estimator,
		th:        th,
	}
}

// Thresholds returns the constants this resolver gates on.
func (r *Resolver) Thresholds() Thresholds { return r.th }

// InternalQuery builds the document-search query for a section.
func InternalQuery(section model.SectionSpec, mission model.MissionParams) string {
	return fmt.Sprintf("%s pour le marché %s en %s", section.Label, mission.MarketName, mission.Geography)
}

// WebQuery builds the web query, widened with figure-oriented terms for
// quantitative sections.
func WebQuery(section model.SectionSpec, mission model.MissionParams) string {
	q := InternalQuery(section, mission)
	if section.Kind == model.KindQuantitative {
		q += fmt.Sprintf(quantitativeWebSuffix, mission.MarketName, mission.Geography)
	}
	return q
}

// Resolve returns the first acceptable source for section. It never fails:
// collaborator errors count as "not found" and estimation always answers.
func (r *Resolver) Resolve(ctx context.Context, section model.SectionSpec, mission model.MissionParams, prior []model.ResolvedSection) Resolution {
	log := zap.L().With(zap.String("section", section.Label), zap.String("kind", string(section.Kind)))

	if section.Kind == model.KindSynthesis && len(prior) > 0 {
		res := r.synthesize(section, mission, prior)
		log.Debug("waterfall: synthesis compiled", zap.Int("prior_sections", len(prior)))
		return res
	}

	var attempts []model.SourceAttempt
	query := InternalQuery(section, mission)
	quantitative := section.Kind == model.KindQuantitative

	// Step 1: internal documents.
	internal := r.searchInternal(ctx, query, log)
	hasResults := internal.HasResults()
	var internalText string
	var similarity float64
	if hasResults {
		internalText = internal.Content()
		similarity = internal.Best()
	}
	internalNumbers := hasResults && quality.HasNumericData(internalText)
	sufficient := quality.Length(internalText) > r.th.MinInternalLength
	relevant := KeywordOverlap(section.Label, internalText, r.th.KeywordMinRunes) >= r.th.MinKeywordOverlap

	accepted := hasResults &&
		similarity > r.th.InternalAcceptance &&
		sufficient &&
		relevant &&
		(!quantitative || internalNumbers)

	attempt := model.SourceAttempt{
		Step:       1,
		Source:     model.SourceInternal,
		Status:     statusOf(accepted),
		HasNumbers: model.BoolPtr(internalNumbers),
	}
	if hasResults {
		attempt.Score = model.Float64Ptr(similarity)
	}
	attempts = append(attempts, attempt)
	log.Debug("waterfall: internal attempt",
		zap.Bool("has_results", hasResults),
		zap.Float64("similarity", similarity),
		zap.Bool("sufficient", sufficient),
		zap.Bool("relevant", relevant),
		zap.Bool("has_numbers", internalNumbers),
		zap.Bool("accepted", accepted),
	)
	if accepted {
		return Resolution{
			Section:    section,
			Outcome:    InternalOutcome{Result: internal, Similarity: similarity},
			Confidence: r.internalConfidence(similarity),
			HasNumbers: internalNumbers,
			Attempts:   attempts,
		}
	}

	// Step 2: web.
	webQuery := WebQuery(section, mission)
	webText := r.searchWeb(ctx, webQuery, log)
	useful := quality.IsUsefulContentMin(webText, r.th.MinUsefulLength)
	webNumbers := quality.HasNumericData(webText)
	accepted = useful && (!quantitative || webNumbers)

	attempts = append(attempts, model.SourceAttempt{
		Step:       2,
		Source:     model.SourceWeb,
		Status:     statusOf(accepted),
		HasNumbers: model.BoolPtr(webNumbers),
	})
	log.Debug("waterfall: web attempt",
		zap.Bool("useful", useful),
		zap.Bool("has_numbers", webNumbers),
		zap.Bool("accepted", accepted),
	)
	if accepted {
		return Resolution{
			Section:    section,
			Outcome:    WebOutcome{Query: webQuery, Text: webText},
			Confidence: r.th.WebConfidence,
			HasNumbers: webNumbers,
			Attempts:   attempts,
		}
	}

	// Step 3: estimation, grounded on whatever partial signal was gathered.
	var partialInternal, partialWeb string
	if hasResults {
		partialInternal = internalText
	}
	if useful {
		partialWeb = webText
	}
	contextText := r.estimationContext(section, mission, partialInternal, partialWeb)
	variables := estimate.Variables(section, mission, query)
	text := r.runEstimation(ctx, contextText, variables, log)

	attempts = append(attempts, model.SourceAttempt{
		Step:       3,
		Source:     model.SourceEstimation,
		Status:     model.StatusEstimated,
		HasNumbers: model.BoolPtr(true),
	})
	return Resolution{
		Section:    section,
		Outcome:    EstimationOutcome{Context: contextText, Variables: variables, Text: text},
		Confidence: r.th.EstimationConfidence,
		HasNumbers: true,
		Attempts:   attempts,
	}
}

func (r *Resolver) synthesize(section model.SectionSpec, mission model.MissionParams, prior []model.ResolvedSection) Resolution {
	var b strings.Builder
	fmt.Fprintf(&b, "DONNÉES DES SECTIONS PRÉCÉDENTES pour %s en %s:\n\n", mission.MarketName, mission.Geography)
	for _, p := range prior {
		fmt.Fprintf(&b, "### %s:\n%s...\n\n", p.Title, quality.Truncate(p.Content, r.th.SynthesisExcerpt))
	}
	return Resolution{
		Section:    section,
		Outcome:    SynthesisOutcome{Compiled: b.String()},
		Confidence: r.th.SynthesisConfidence,
		HasNumbers: true,
		Attempts: []model.SourceAttempt{{
			Step:   0,
			Source: model.SourceSynthesis,
			Status: model.StatusCompiled,
		}},
	}
}

func (r *Resolver) searchInternal(ctx context.Context, query string, log *zap.Logger) *provider.SearchResult {
	if r.internal == nil {
		log.Debug("waterfall: internal search not configured")
		return nil
	}
	res, err := r.internal.Search(ctx, query)
	if err != nil {
		log.Warn("waterfall: internal search failed", zap.Error(err))
		return nil
	}
	return res
}

func (r *Resolver) searchWeb(ctx context.Context, query string, log *zap.Logger) string {
	if r.web == nil {
		log.Debug("waterfall: web search not configured")
		return ""
	}
	text, err := r.web.Search(ctx, query)
	if err != nil {
		log.Warn("waterfall: web search failed", zap.Error(err))
		return ""
	}
	return text
}

func (r *Resolver) runEstimation(ctx context.Context, contextText, variables string, log *zap.Logger) string {
	if r.estimator == nil {
		return "Erreur lors de l'estimation: aucun modèle configuré"
	}
	text, err := r.estimator.Estimate(ctx, contextText, variables)
	if err != nil {
		log.Warn("waterfall: estimation failed", zap.Error(err))
		return "Erreur lors de l'estimation: " + err.Error()
	}
	if !quality.HasNumericData(text) {
		log.Warn("waterfall: estimation accepted without numeric data")
	}
	return text
}

func (r *Resolver) estimationContext(section model.SectionSpec, mission model.MissionParams, internal, web string) string {
	parts := []string{
		"Marché: " + mission.MarketName,
		"Géographie: " + mission.Geography,
		"Section: " + section.Label,
	}
	if quality.Length(internal) > r.th.MinPartialLength {
		parts = append(parts, "\nDONNÉES INTERNES DISPONIBLES (à utiliser comme base):\n"+quality.Truncate(internal, r.th.EstimationExcerpt))
	}
	if quality.Length(web) > r.th.MinPartialLength {
		parts = append(parts, "\nDONNÉES WEB DISPONIBLES (à utiliser comme référence):\n"+quality.Truncate(web, r.th.EstimationExcerpt))
	}
	return strings.Join(parts, "\n")
}

func (r *Resolver) internalConfidence(similarity float64) float64 {
	c := math.Min(r.th.InternalCap, similarity*r.th.InternalScale)
	return math.Max(0, math.Min(1, c))
}

func statusOf(accepted bool) model.AttemptStatus {
	if accepted {
		return model.StatusFound
	}
	return model.StatusNotFound
}
