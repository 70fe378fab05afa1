package waterfall

import (
	"github.com/sells-group/market-study-cli/internal/model"
	"github.com/sells-group/market-study-cli/internal/waterfall/provider"
)

// Outcome is the accepted cascade result. Exactly one of InternalOutcome,
// WebOutcome, EstimationOutcome or SynthesisOutcome.
type Outcome interface {
	Source() model.Source
	// Content is the raw material handed to the section formatter.
	Content() string
	outcome()
}

// InternalOutcome is an accepted internal document search.
type InternalOutcome struct {
	Result     *provider.SearchResult
	Similarity float64
}

func (InternalOutcome) Source() model.Source { return model.SourceInternal }
func (o InternalOutcome) Content() string    { return o.Result.Content() }
func (InternalOutcome) outcome()             {}

// WebOutcome is an accepted web search answer.
type WebOutcome struct {
	Query string
	Text  string
}

func (WebOutcome) Source() model.Source { return model.SourceWeb }
func (o WebOutcome) Content() string    { return o.Text }
func (WebOutcome) outcome()             {}

// EstimationOutcome is the modelled fallback.
type EstimationOutcome struct {
	Context   string
	Variables string
	Text      string
}

func (EstimationOutcome) Source() model.Source { return model.SourceEstimation }
func (o EstimationOutcome) Content() string    { return o.Text }
func (EstimationOutcome) outcome()             {}

// SynthesisOutcome compiles earlier sections of the same report.
type SynthesisOutcome struct {
	Compiled string
}

func (SynthesisOutcome) Source() model.Source { return model.SourceSynthesis }
func (o SynthesisOutcome) Content() string    { return o.Compiled }
func (SynthesisOutcome) outcome()             {}

// Resolution is the outcome of running the cascade for one section.
type Resolution struct {
	Section    model.SectionSpec
	Outcome    Outcome
	Confidence float64
	HasNumbers bool
	Attempts   []model.SourceAttempt
}

// Source returns the accepted source.
func (r Resolution) Source() model.Source {
	if r.Outcome == nil {
		return ""
	}
	return r.Outcome.Source()
}

// Content returns the accepted raw content.
func (r Resolution) Content() string {
	if r.Outcome == nil {
		return ""
	}
	return r.Outcome.Content()
}
