// Package estimate produces modelled market figures when neither internal
// documents nor the web supplied usable data.
package estimate

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/market-study-cli/internal/model"
	"github.com/sells-group/market-study-cli/internal/quality"
	"github.com/sells-group/market-study-cli/internal/waterfall/provider"
)

// Kind selects the instruction block sent with an estimation request.
type Kind string

const (
	KindSizing       Kind = "sizing"
	KindSegmentation Kind = "segmentation"
	KindMarketShare  Kind = "market_share"
	KindGeneric      Kind = "generic"
)

// MarketEstimator asks a text generator for structured market estimates.
type MarketEstimator struct {
	gen provider.Generator
}

// NewMarketEstimator creates an estimator. Returns nil if gen is nil.
func NewMarketEstimator(gen provider.Generator) *MarketEstimator {
	if gen == nil {
		return nil
	}
	return &MarketEstimator{gen: gen}
}

// Estimate generates figures for variables given the grounding context.
func (e *MarketEstimator) Estimate(ctx context.Context, contextText, variables string) (string, error) {
	if e == nil || e.gen == nil {
		return "", eris.Wrap(provider.ErrUnavailable, "estimate: no generator configured")
	}
	kind := Classify(variables)
	system := systemPrompt(kind)
	user := fmt.Sprintf("Contexte: %s\nVariables à estimer: %s\n\nGénère des estimations CHIFFRÉES et STRUCTURÉES.", contextText, variables)

	out, err := e.gen.Generate(ctx, system, user)
	if err != nil {
		return "", eris.Wrap(err, "estimate: generate")
	}
	if !quality.HasNumericData(out) {
		zap.L().Warn("estimate: output carries no numeric data",
			zap.String("kind", string(kind)),
			zap.Int("length", len(out)),
		)
	}
	return out, nil
}

// Classify picks the instruction kind from the variables description.
func Classify(variables string) Kind {
	v := quality.Fold(variables)
	switch {
	case containsAny(v, "tam", "sam", "som", "taille", "sizing"):
		return KindSizing
	case strings.Contains(v, "segmentation"):
		return KindSegmentation
	case hasWord(v, "acteurs") || containsAny(v, "parts de marché", "market share"):
		return KindMarketShare
	default:
		return KindGeneric
	}
}

// Variables selects the variable description for a section from keywords in
// its label. The query is used when no keyword matches.
func Variables(section model.SectionSpec, mission model.MissionParams, query string) string {
	label := section.Label
	market, geo := mission.MarketName, mission.Geography
	switch {
	case strings.Contains(label, "Sizing") || strings.Contains(label, "TAM"):
		return fmt.Sprintf("TAM SAM SOM taille marché %s %s en milliards d'euros. IMPORTANT: si des données internes mentionnent un TAM, utilise cette valeur comme base.", market, geo)
	case strings.Contains(label, "Segmentation"):
		return fmt.Sprintf("Segmentation marché %s %s par catégorie de produit avec pourcentages", market, geo)
	case hasWord(quality.Fold(label), "acteurs") || strings.Contains(label, "Principaux"):
		return fmt.Sprintf("Parts de marché principaux acteurs %s %s avec noms réels et pourcentages", market, geo)
	case strings.Contains(label, "Chiffres clés"):
		return fmt.Sprintf("Chiffres clés acteurs marché %s %s CA parts de marché", market, geo)
	case strings.Contains(label, "Tendances"):
		return fmt.Sprintf("Tendances et drivers marché %s %s avec données chiffrées sur la croissance", market, geo)
	case strings.Contains(label, "Facteurs"):
		return fmt.Sprintf("Facteurs clés d'achat marché %s %s avec importance relative en %%", market, geo)
	case strings.Contains(label, "Positionnement"):
		return fmt.Sprintf("Positionnement relatif acteurs marché %s %s mapping concurrentiel", market, geo)
	default:
		return query
	}
}

// hasWord reports whether word appears in s as a whole word, so "acteurs"
// does not match "facteurs".
func hasWord(s, word string) bool {
	for _, f := range strings.FieldsFunc(s, func(r rune) bool { return !unicode.IsLetter(r) }) {
		if f == word {
			return true
		}
	}
	return false
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
