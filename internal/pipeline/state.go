package pipeline

import (
	"fmt"
	"math"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/market-study-cli/internal/model"
	"github.com/sells-group/market-study-cli/internal/waterfall"
)

// ErrWorkflowInvariant is returned when the section loop loses track of its
// own bookkeeping. It is fatal for the run.
var ErrWorkflowInvariant = eris.New("pipeline: workflow invariant violated")

// Node is a state of the report workflow.
type Node string

// Workflow nodes, named as they appear in progress events.
const (
	NodeInit    Node = "orchestrator"
	NodeSelect  Node = "process_section"
	NodeResolve Node = "cascade_research"
	NodeFormat  Node = "report_generation"
	NodeAdvise  Node = "expert_recommendation"
	NodeDone    Node = "completed"
)

// StepDetails describes the current step for progress consumers.
type StepDetails struct {
	Message       string `json:"message"`
	Section       string `json:"section,omitempty"`
	SectionIndex  int    `json:"section_index,omitempty"`
	TotalSections int    `json:"total_sections,omitempty"`
}

// RunState is the typed state of one report run. It is owned by a single
// goroutine and only changed through its transition methods.
type RunState struct {
	ConversationID        string
	Mission               model.MissionParams
	Sections              model.Catalog
	CurrentIndex          int
	Completed             []model.ResolvedSection
	StartTime             time.Time
	Progress              float64
	ExpertRecommendations []model.Recommendation

	// Node is the last transition applied.
	Node    Node
	Details StepDetails

	current    *model.SectionSpec
	resolution *waterfall.Resolution
}

// NewRunState enters INIT: counters are zeroed and the start time stamped.
func NewRunState(conversationID string, mission model.MissionParams, sections model.Catalog, now time.Time) *RunState {
	return &RunState{
		ConversationID: conversationID,
		Mission:        mission,
		Sections:       sections,
		StartTime:      now,
		Node:           NodeInit,
		Details:        StepDetails{Message: "Initialisation du workflow..."},
	}
}

// Total returns the number of sections in the run.
func (s *RunState) Total() int { return len(s.Sections) }

// Current returns the selected section, if any.
func (s *RunState) Current() (model.SectionSpec, bool) {
	if s.current == nil {
		return model.SectionSpec{}, false
	}
	return *s.current, true
}

// Done reports whether the run reached its terminal node.
func (s *RunState) Done() bool { return s.Node == NodeDone }

func (s *RunState) expect(transition string, from ...Node) error {
	for _, n := range from {
		if s.Node == n {
			return nil
		}
	}
	return eris.Wrapf(ErrWorkflowInvariant, "%s not allowed after %s", transition, s.Node)
}

// Select applies SELECT_SECTION. It returns false when every section is done,
// in which case the run moves on to advising.
func (s *RunState) Select() (bool, error) {
	if err := s.expect("select", NodeInit, NodeFormat); err != nil {
		return false, err
	}
	total := len(s.Sections)

	if total == 0 || s.CurrentIndex >= total || len(s.Completed) >= total {
		s.Node = NodeSelect
		s.current = nil
		s.CurrentIndex = total
		s.setProgress(1.0)
		s.Details = StepDetails{Message: "Toutes les sections sont traitées."}
		return false, nil
	}

	if s.CurrentIndex < 0 {
		s.CurrentIndex = 0
	}
	section := s.Sections[s.CurrentIndex]
	s.current = &section
	s.resolution = nil
	s.Node = NodeSelect
	s.setProgress(float64(s.CurrentIndex) / float64(total))
	s.Details = StepDetails{
		Message:       fmt.Sprintf("Traitement de la section %s (%d/%d)...", section.Label, s.CurrentIndex+1, total),
		Section:       section.Label,
		SectionIndex:  s.CurrentIndex + 1,
		TotalSections: total,
	}
	return true, nil
}

// Resolved applies RESOLVE with the cascade result of the selected section.
func (s *RunState) Resolved(res waterfall.Resolution) error {
	if err := s.expect("resolve", NodeSelect); err != nil {
		return err
	}
	if s.current == nil {
		return eris.Wrap(ErrWorkflowInvariant, "resolve without a selected section")
	}
	if res.Outcome == nil || len(res.Attempts) == 0 {
		return eris.Wrapf(ErrWorkflowInvariant, "section %s resolved without a source", s.current.Label)
	}
	s.resolution = &res
	s.Node = NodeResolve
	s.Details = StepDetails{
		Message: fmt.Sprintf("Source %s retenue pour %s...", res.Source(), s.current.Label),
		Section: s.current.Label,
	}
	return nil
}

// Resolution returns the cascade result held between RESOLVE and FORMAT.
func (s *RunState) Resolution() (waterfall.Resolution, bool) {
	if s.resolution == nil {
		return waterfall.Resolution{}, false
	}
	return *s.resolution, true
}

// Formatted applies FORMAT: the section is appended, the index advances with
// it and progress is recomputed from the previous index.
func (s *RunState) Formatted(section model.ResolvedSection) error {
	if err := s.expect("format", NodeResolve); err != nil {
		return err
	}
	total := len(s.Sections)
	prev := s.CurrentIndex

	s.Completed = append(s.Completed, section)
	if prev < total {
		s.CurrentIndex = prev + 1
	} else {
		s.CurrentIndex = total
	}
	if total > 0 {
		s.setProgress(math.Min(1.0, float64(prev+1)/float64(total)))
	} else {
		s.setProgress(1.0)
	}
	s.Node = NodeFormat
	s.Details = StepDetails{
		Message: fmt.Sprintf("Génération du rapport pour %s...", section.Title),
		Section: section.Title,
	}
	s.current = nil
	s.resolution = nil

	if s.CurrentIndex != len(s.Completed) {
		return eris.Wrapf(ErrWorkflowInvariant, "index %d does not match %d completed sections", s.CurrentIndex, len(s.Completed))
	}
	return nil
}

// Advised applies ADVISE once over the finished report.
func (s *RunState) Advised(recs []model.Recommendation) error {
	if err := s.expect("advise", NodeSelect); err != nil {
		return err
	}
	if s.current != nil {
		return eris.Wrap(ErrWorkflowInvariant, "advise with a section still selected")
	}
	s.ExpertRecommendations = recs
	s.Node = NodeAdvise
	s.Details = StepDetails{Message: "Analyse des zones d'incertitude..."}
	return nil
}

// Finish applies DONE.
func (s *RunState) Finish() error {
	if err := s.expect("finish", NodeAdvise); err != nil {
		return err
	}
	s.Node = NodeDone
	s.Details = StepDetails{Message: "Rapport terminé."}
	return nil
}

// Report builds the final product from the state.
func (s *RunState) Report(completedAt time.Time) *model.Report {
	sections := make([]model.ResolvedSection, len(s.Completed))
	copy(sections, s.Completed)
	recs := make([]model.Recommendation, len(s.ExpertRecommendations))
	copy(recs, s.ExpertRecommendations)
	return &model.Report{
		ConversationID:        s.ConversationID,
		Mission:               s.Mission,
		Sections:              sections,
		ExpertRecommendations: recs,
		StartedAt:             s.StartTime,
		CompletedAt:           completedAt,
	}
}

// setProgress never lets progress go backwards.
func (s *RunState) setProgress(p float64) {
	p = math.Max(0, math.Min(1, p))
	if p > s.Progress {
		s.Progress = p
	}
}

// loopBound caps the section loop at one pass per section, plus the final
// pass that finds nothing left, plus a safety margin. Valid transitions
// never reach the cap.
type loopBound struct {
	limit int
	iter  int
}

func newLoopBound(sections, margin int) *loopBound {
	if margin < 0 {
		margin = 0
	}
	return &loopBound{limit: sections + margin}
}

// next counts one iteration and fails once the cap is passed.
func (b *loopBound) next() error {
	if b.iter > b.limit {
		return eris.Wrapf(ErrWorkflowInvariant, "section loop exceeded %d iterations", b.limit)
	}
	b.iter++
	return nil
}
