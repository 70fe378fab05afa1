package pipeline

import (
	"context"
	"strings"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/market-study-cli/internal/model"
	"github.com/sells-group/market-study-cli/internal/waterfall"
	"github.com/sells-group/market-study-cli/internal/waterfall/provider"
)

var petCare = model.MissionParams{MarketName: "Pet Care", Geography: "France", MissionType: model.DefaultMissionType}

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Generate(ctx context.Context, systemRole, userContent string) (string, error) {
	args := m.Called(ctx, systemRole, userContent)
	return args.String(0), args.Error(1)
}

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) CreateRun(ctx context.Context, conversationID string, mission model.MissionParams) (*model.Run, error) {
	args := m.Called(ctx, conversationID, mission)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *mockRecorder) CompleteRun(ctx context.Context, runID string, report *model.Report) error {
	return m.Called(ctx, runID, report).Error(0)
}

func (m *mockRecorder) FailRun(ctx context.Context, runID string, message string) error {
	return m.Called(ctx, runID, message).Error(0)
}

type recordingMemory struct {
	mu        sync.Mutex
	exchanges map[string][]string
}

func (r *recordingMemory) Add(conversationID, input, output string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exchanges == nil {
		r.exchanges = make(map[string][]string)
	}
	r.exchanges[conversationID] = append(r.exchanges[conversationID], input+" => "+output)
}

// resolverFunc adapts a function to SectionResolver.
type resolverFunc func(ctx context.Context, section model.SectionSpec, mission model.MissionParams, prior []model.ResolvedSection) waterfall.Resolution

func (f resolverFunc) Resolve(ctx context.Context, section model.SectionSpec, mission model.MissionParams, prior []model.ResolvedSection) waterfall.Resolution {
	return f(ctx, section, mission, prior)
}

type estimatorFunc func(ctx context.Context, contextText, variables string) (string, error)

func (f estimatorFunc) Estimate(ctx context.Context, contextText, variables string) (string, error) {
	return f(ctx, contextText, variables)
}

// firstAttemptResolver accepts every section on its first step: synthesis
// sections are compiled, the others come from internal documents.
func firstAttemptResolver() resolverFunc {
	return func(_ context.Context, section model.SectionSpec, _ model.MissionParams, prior []model.ResolvedSection) waterfall.Resolution {
		if section.Kind == model.KindSynthesis && len(prior) > 0 {
			return waterfall.Resolution{
				Section:    section,
				Outcome:    waterfall.SynthesisOutcome{Compiled: "compiled " + section.Label},
				Confidence: waterfall.DefaultSynthesisConfidence,
				HasNumbers: true,
				Attempts:   []model.SourceAttempt{{Step: 0, Source: model.SourceSynthesis, Status: model.StatusCompiled}},
			}
		}
		return waterfall.Resolution{
			Section: section,
			Outcome: waterfall.InternalOutcome{
				Result:     &provider.SearchResult{Configured: true, Found: true, Text: "doc " + section.Label + " 15%"},
				Similarity: 0.9,
			},
			Confidence: 0.855,
			HasNumbers: true,
			Attempts: []model.SourceAttempt{{
				Step: 1, Source: model.SourceInternal, Status: model.StatusFound,
				Score: model.Float64Ptr(0.9), HasNumbers: model.BoolPtr(true),
			}},
		}
	}
}

// echoGenerator returns the section line of the user prompt.
func echoGenerator() provider.Generator {
	return provider.GeneratorFunc(func(_ context.Context, _, user string) (string, error) {
		line, _, _ := strings.Cut(user, "\n")
		return "Formaté: " + line, nil
	})
}

// collect gathers emitted events.
type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) ofType(t EventType) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, ev := range c.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
