package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/market-study-cli/internal/model"
	"github.com/sells-group/market-study-cli/internal/waterfall/provider"
)

// DefaultAdvisorConcurrency bounds parallel recommendation calls.
const DefaultAdvisorConcurrency = 4

const expertRole = `Tu génères des recommandations d'expert pour les zones d'incertitude d'une étude de marché.

RÈGLE IMPORTANTE : L'expert recommandé doit être un SPÉCIALISTE DU MARCHÉ ÉTUDIÉ, pas un expert généraliste.

Pour chaque zone d'incertitude, génère :
1. **Profil d'expert du marché** :
   - Doit être un expert du secteur spécifique (ex: si marché Pet Care, expert industrie Pet Care/animalerie)
   - Exemples de profils : Directeur d'une entreprise du secteur, Analyste sectoriel spécialisé, Consultant spécialiste du marché, Responsable études de marché dans une entreprise leader
   - PAS un expert généraliste (pas "expert marketing", "expert comportement consommateur")

2. **Guide d'entretien structuré** :
   - 5-7 questions spécifiques au marché étudié
   - Questions sur les données manquantes de la section
   - Focus sur les insights terrain et données propriétaires`

const expertRequest = "Section: %s\nMarché étudié: %s\nGéographie: %s\nScore de confiance: %.2f\nSource utilisée: %s\n\nGénère la recommandation d'expert SPÉCIFIQUE au marché %s."

// RecommendationErrorText renders a failed recommendation.
func RecommendationErrorText(err error) string {
	return "Erreur lors de la génération de recommandation: " + err.Error()
}

// AdviseExperts asks for an expert profile and interview guide for every
// section scored below threshold. The result keeps report order and holds
// exactly one recommendation per flagged section; a failed generation
// becomes the recommendation text.
func AdviseExperts(ctx context.Context, gen provider.Generator, mission model.MissionParams, sections []model.ResolvedSection, threshold float64, concurrency int) []model.Recommendation {
	var flagged []model.ResolvedSection
	for _, s := range sections {
		if s.ConfidenceScore < threshold {
			flagged = append(flagged, s)
		}
	}
	if len(flagged) == 0 {
		return []model.Recommendation{}
	}
	if concurrency <= 0 {
		concurrency = DefaultAdvisorConcurrency
	}

	recs := make([]model.Recommendation, len(flagged))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, s := range flagged {
		g.Go(func() error {
			text, err := adviseOne(gCtx, gen, mission, s)
			if err != nil {
				zap.L().Warn("pipeline: expert recommendation failed",
					zap.String("section", s.Title),
					zap.Error(err),
				)
				text = RecommendationErrorText(err)
			}
			recs[i] = model.Recommendation{
				SectionID:      s.ID,
				SectionTitle:   s.Title,
				Recommendation: text,
			}
			return nil
		})
	}
	_ = g.Wait()

	zap.L().Info("pipeline: expert recommendations generated",
		zap.Int("flagged", len(flagged)),
		zap.Int("sections", len(sections)),
	)
	return recs
}

func adviseOne(ctx context.Context, gen provider.Generator, mission model.MissionParams, s model.ResolvedSection) (string, error) {
	if gen == nil {
		return "", provider.ErrUnavailable
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	user := fmt.Sprintf(expertRequest, s.Title, mission.MarketName, mission.Geography, s.ConfidenceScore, s.Source, mission.MarketName)
	return gen.Generate(ctx, expertRole, user)
}
