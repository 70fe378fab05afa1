package pipeline

import (
	"encoding/json"
	"math"
	"time"

	"github.com/sells-group/market-study-cli/internal/model"
)

// EventType discriminates progress events.
type EventType string

// Event types, in the order a consumer sees them.
const (
	EventStart           EventType = "start"
	EventProgress        EventType = "progress"
	EventSectionComplete EventType = "section_complete"
	EventComplete        EventType = "complete"
	EventError           EventType = "error"
)

// DefaultTimeRemaining is reported before any progress has been made.
const DefaultTimeRemaining = 300 * time.Second

// Event is one observable step of a run. Only the fields of its Type are
// set. A run emits exactly one complete or error event, last.
type Event struct {
	Type EventType `json:"type"`

	// start, complete
	ConversationID string `json:"conversation_id,omitempty"`

	// progress
	Percentage             float64      `json:"percentage"`
	Step                   Node         `json:"step,omitempty"`
	Node                   Node         `json:"node,omitempty"`
	Details                *StepDetails `json:"details,omitempty"`
	SectionIndex           int          `json:"section_index"`
	TotalSections          int          `json:"total_sections"`
	EstimatedTimeRemaining int          `json:"estimated_time_remaining"`

	// section_complete
	Section *model.SectionSummary `json:"section,omitempty"`

	// complete
	Sections              []model.ResolvedSection `json:"sections,omitempty"`
	ExpertRecommendations []model.Recommendation  `json:"expert_recommendations,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

// MarshalJSON writes only the fields that belong to the event type.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventStart:
		return json.Marshal(struct {
			Type           EventType `json:"type"`
			ConversationID string    `json:"conversation_id"`
		}{e.Type, e.ConversationID})
	case EventProgress:
		return json.Marshal(struct {
			Type                   EventType    `json:"type"`
			Percentage             float64      `json:"percentage"`
			Step                   Node         `json:"step"`
			Node                   Node         `json:"node"`
			Details                *StepDetails `json:"details"`
			SectionIndex           int          `json:"section_index"`
			TotalSections          int          `json:"total_sections"`
			EstimatedTimeRemaining int          `json:"estimated_time_remaining"`
		}{e.Type, e.Percentage, e.Step, e.Node, e.Details, e.SectionIndex, e.TotalSections, e.EstimatedTimeRemaining})
	case EventSectionComplete:
		return json.Marshal(struct {
			Type    EventType             `json:"type"`
			Section *model.SectionSummary `json:"section"`
		}{e.Type, e.Section})
	case EventComplete:
		sections := e.Sections
		if sections == nil {
			sections = []model.ResolvedSection{}
		}
		recs := e.ExpertRecommendations
		if recs == nil {
			recs = []model.Recommendation{}
		}
		return json.Marshal(struct {
			Type                  EventType               `json:"type"`
			Sections              []model.ResolvedSection `json:"sections"`
			ExpertRecommendations []model.Recommendation  `json:"expert_recommendations"`
			ConversationID        string                  `json:"conversation_id"`
		}{e.Type, sections, recs, e.ConversationID})
	default:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Message string    `json:"message"`
		}{e.Type, e.Message})
	}
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// EstimateTimeRemaining extrapolates the remaining time from the elapsed
// time and the progress fraction.
func EstimateTimeRemaining(progress float64, elapsed time.Duration) time.Duration {
	if progress <= 0 {
		return DefaultTimeRemaining
	}
	if progress >= 1 {
		return 0
	}
	total := float64(elapsed) / progress
	remaining := time.Duration(total - float64(elapsed))
	if remaining < 0 {
		return 0
	}
	return remaining
}

// emitter turns state transitions into events. It remembers the last
// percentage and how many sections were already announced.
type emitter struct {
	emit         func(Event)
	now          func() time.Time
	start        time.Time
	lastProgress float64
	announced    int
	terminated   bool
}

func newEmitter(emit func(Event), now func() time.Time) *emitter {
	if emit == nil {
		emit = func(Event) {}
	}
	return &emitter{emit: emit, now: now, start: now(), lastProgress: math.NaN()}
}

func (e *emitter) started(conversationID string) {
	e.emit(Event{Type: EventStart, ConversationID: conversationID})
}

// observe emits a progress event when the percentage changed or a step is
// named, then one section_complete per newly appended section.
func (e *emitter) observe(s *RunState) {
	if s.Progress != e.lastProgress || s.Node != "" {
		details := s.Details
		remaining := EstimateTimeRemaining(s.Progress, e.now().Sub(e.start))
		e.emit(Event{
			Type:                   EventProgress,
			Percentage:             s.Progress,
			Step:                   s.Node,
			Node:                   s.Node,
			Details:                &details,
			SectionIndex:           s.CurrentIndex,
			TotalSections:          s.Total(),
			EstimatedTimeRemaining: int(remaining / time.Second),
		})
		e.lastProgress = s.Progress
	}

	for e.announced < len(s.Completed) {
		summary := s.Completed[e.announced].Summary()
		e.emit(Event{Type: EventSectionComplete, Section: &summary})
		e.announced++
	}
}

func (e *emitter) complete(r *model.Report) {
	if e.terminated {
		return
	}
	e.terminated = true
	e.emit(Event{
		Type:                  EventComplete,
		Sections:              r.Sections,
		ExpertRecommendations: r.ExpertRecommendations,
		ConversationID:        r.ConversationID,
	})
}

func (e *emitter) fail(err error) {
	if e.terminated {
		return
	}
	e.terminated = true
	e.emit(Event{Type: EventError, Message: err.Error()})
}
