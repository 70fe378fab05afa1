// Package pipeline walks the sections of a report through the source
// cascade, formats each one and closes the run with expert recommendations.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/market-study-cli/internal/model"
	"github.com/sells-group/market-study-cli/internal/waterfall"
	"github.com/sells-group/market-study-cli/internal/waterfall/provider"
)

// DefaultSafetyMargin is added to the section count to cap the loop. The
// default catalog is capped at 50 iterations.
const DefaultSafetyMargin = 36

const streamBuffer = 16

// ErrUnknownSection is returned when a deepen request names a section that
// is not in the mission catalog.
var ErrUnknownSection = eris.New("pipeline: unknown section")

// SectionResolver runs the source cascade for one section.
type SectionResolver interface {
	Resolve(ctx context.Context, section model.SectionSpec, mission model.MissionParams, prior []model.ResolvedSection) waterfall.Resolution
}

// SectionFormatter renders a resolution into a report section.
type SectionFormatter interface {
	Format(ctx context.Context, res waterfall.Resolution) model.ResolvedSection
}

// Recorder writes the audit history of runs.
type Recorder interface {
	CreateRun(ctx context.Context, conversationID string, mission model.MissionParams) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, report *model.Report) error
	FailRun(ctx context.Context, runID string, message string) error
}

// Memory keeps a short exchange history per conversation.
type Memory interface {
	Add(conversationID, input, output string)
}

// Deps are the collaborators of a pipeline. Recorder and Memory are
// optional.
type Deps struct {
	Resolver  SectionResolver
	Formatter SectionFormatter
	Advisor   provider.Generator
	Catalogs  *model.Catalogs
	Recorder  Recorder
	Memory    Memory
}

// Options tunes the workflow.
type Options struct {
	SafetyMargin       int
	ExpertThreshold    float64
	AdvisorConcurrency int
	Now                func() time.Time
}

func (o Options) withDefaults() Options {
	if o.SafetyMargin <= 0 {
		o.SafetyMargin = DefaultSafetyMargin
	}
	if o.ExpertThreshold <= 0 {
		o.ExpertThreshold = waterfall.DefaultExpertFlag
	}
	if o.AdvisorConcurrency <= 0 {
		o.AdvisorConcurrency = DefaultAdvisorConcurrency
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Pipeline orchestrates report runs. Runs share no state and may execute
// concurrently.
type Pipeline struct {
	deps Deps
	opts Options
}

// New creates a Pipeline.
func New(deps Deps, opts Options) *Pipeline {
	if deps.Catalogs == nil {
		deps.Catalogs = model.NewCatalogs()
	}
	return &Pipeline{deps: deps, opts: opts.withDefaults()}
}

// RunOption adjusts a single run.
type RunOption func(*runOptions)

type runOptions struct {
	conversationID string
	sectionID      string
}

// WithConversationID reuses an existing conversation id.
func WithConversationID(id string) RunOption {
	return func(o *runOptions) { o.conversationID = id }
}

// WithSection restricts the run to one catalog section, re-resolved in
// isolation.
func WithSection(sectionID string) RunOption {
	return func(o *runOptions) { o.sectionID = sectionID }
}

// NewConversationID returns a fresh conversation id.
func NewConversationID() string {
	return "conv-" + uuid.New().String()
}

// Run executes the workflow and reports every transition to emit. The last
// event is either complete or error, never both.
func (p *Pipeline) Run(ctx context.Context, mission model.MissionParams, emit func(Event), opts ...RunOption) (*model.Report, error) {
	var ro runOptions
	for _, o := range opts {
		o(&ro)
	}
	if ro.conversationID == "" {
		ro.conversationID = NewConversationID()
	}

	em := newEmitter(emit, p.opts.Now)
	em.started(ro.conversationID)

	report, err := p.run(ctx, mission, ro, em)
	if err != nil {
		em.fail(err)
		return nil, err
	}
	em.complete(report)
	return report, nil
}

// Stream runs the workflow in its own goroutine and returns its events. The
// channel is closed after the terminal event. Cancelling ctx stops the run.
func (p *Pipeline) Stream(ctx context.Context, mission model.MissionParams, opts ...RunOption) <-chan Event {
	ch := make(chan Event, streamBuffer)
	go func() {
		defer close(ch)
		_, _ = p.Run(ctx, mission, func(ev Event) {
			select {
			case ch <- ev:
			case <-ctx.Done():
			}
		}, opts...)
	}()
	return ch
}

// RunToCompletion runs the workflow without observing its events.
func (p *Pipeline) RunToCompletion(ctx context.Context, mission model.MissionParams, opts ...RunOption) (*model.Report, error) {
	return p.Run(ctx, mission, nil, opts...)
}

// Sections returns the catalog a run of mission would walk.
func (p *Pipeline) Sections(mission model.MissionParams, sectionID string) (model.Catalog, error) {
	catalog := p.deps.Catalogs.For(mission.MissionType)
	if sectionID == "" {
		return catalog, nil
	}
	section, ok := catalog.Find(sectionID)
	if !ok {
		return nil, eris.Wrapf(ErrUnknownSection, "%q", sectionID)
	}
	return model.Catalog{section}, nil
}

func (p *Pipeline) run(ctx context.Context, mission model.MissionParams, ro runOptions, em *emitter) (*model.Report, error) {
	log := zap.L().With(
		zap.String("conversation_id", ro.conversationID),
		zap.String("market", mission.MarketName),
		zap.String("geography", mission.Geography),
	)

	if err := mission.Validate(); err != nil {
		return nil, err
	}
	if p.deps.Resolver == nil || p.deps.Formatter == nil {
		return nil, eris.New("pipeline: resolver and formatter are required")
	}
	sections, err := p.Sections(mission, ro.sectionID)
	if err != nil {
		return nil, err
	}

	runID := p.recordStart(ctx, ro.conversationID, mission, log)
	report, err := p.walk(ctx, ro.conversationID, mission, sections, em, log)
	if err != nil {
		log.Error("pipeline: run failed", zap.Error(err))
		p.recordFailure(ctx, runID, err, log)
		return nil, err
	}

	p.recordCompletion(ctx, runID, report, log)
	if p.deps.Memory != nil {
		p.deps.Memory.Add(ro.conversationID, mission.Describe(), Summary(report))
	}
	log.Info("pipeline: run complete",
		zap.Int("sections", len(report.Sections)),
		zap.Int("expert_recommendations", len(report.ExpertRecommendations)),
		zap.Duration("duration", report.CompletedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

// walk is the bounded section loop followed by the advisor pass.
func (p *Pipeline) walk(ctx context.Context, conversationID string, mission model.MissionParams, sections model.Catalog, em *emitter, log *zap.Logger) (*model.Report, error) {
	state := NewRunState(conversationID, mission, sections, p.opts.Now())
	em.observe(state)

	bound := newLoopBound(len(sections), p.opts.SafetyMargin)
	for {
		if err := bound.next(); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "pipeline: run cancelled")
		}

		selected, err := state.Select()
		if err != nil {
			return nil, err
		}
		em.observe(state)
		if !selected {
			break
		}

		section, _ := state.Current()
		res := p.deps.Resolver.Resolve(ctx, section, mission, state.Completed)
		if err := state.Resolved(res); err != nil {
			return nil, err
		}
		em.observe(state)

		formatted := p.deps.Formatter.Format(ctx, res)
		if err := state.Formatted(formatted); err != nil {
			return nil, err
		}
		em.observe(state)

		log.Info("pipeline: section complete",
			zap.String("section", formatted.Title),
			zap.String("source", string(formatted.Source)),
			zap.Float64("confidence", formatted.ConfidenceScore),
			zap.Int("attempts", len(formatted.SourceHistory)),
		)
	}

	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "pipeline: run cancelled")
	}
	recs := AdviseExperts(ctx, p.deps.Advisor, mission, state.Completed, p.opts.ExpertThreshold, p.opts.AdvisorConcurrency)
	if err := state.Advised(recs); err != nil {
		return nil, err
	}
	em.observe(state)

	if err := state.Finish(); err != nil {
		return nil, err
	}
	return state.Report(p.opts.Now()), nil
}

func (p *Pipeline) recordStart(ctx context.Context, conversationID string, mission model.MissionParams, log *zap.Logger) string {
	if p.deps.Recorder == nil {
		return ""
	}
	run, err := p.deps.Recorder.CreateRun(ctx, conversationID, mission)
	if err != nil {
		log.Warn("pipeline: failed to record run", zap.Error(err))
		return ""
	}
	return run.ID
}

func (p *Pipeline) recordCompletion(ctx context.Context, runID string, report *model.Report, log *zap.Logger) {
	if p.deps.Recorder == nil || runID == "" {
		return
	}
	if err := p.deps.Recorder.CompleteRun(context.WithoutCancel(ctx), runID, report); err != nil {
		log.Warn("pipeline: failed to record completion", zap.String("run_id", runID), zap.Error(err))
	}
}

func (p *Pipeline) recordFailure(ctx context.Context, runID string, runErr error, log *zap.Logger) {
	if p.deps.Recorder == nil || runID == "" {
		return
	}
	if err := p.deps.Recorder.FailRun(context.WithoutCancel(ctx), runID, runErr.Error()); err != nil {
		log.Warn("pipeline: failed to record failure", zap.String("run_id", runID), zap.Error(err))
	}
}

// Summary is the one-line account of a report kept in conversation memory.
func Summary(r *model.Report) string {
	counts := r.SourceCounts()
	return fmt.Sprintf("Rapport %s (%s): %d sections (interne %d, web %d, estimation %d, synthèse %d), %d recommandations d'expert",
		r.Mission.MarketName, r.Mission.Geography, len(r.Sections),
		counts[model.SourceInternal], counts[model.SourceWeb], counts[model.SourceEstimation], counts[model.SourceSynthesis],
		len(r.ExpertRecommendations),
	)
}
