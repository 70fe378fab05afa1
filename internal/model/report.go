package model

import "time"

// Source identifies which cascade stage produced a section.
type Source string

const (
	SourceInternal   Source = "INTERNAL"
	SourceWeb        Source = "WEB"
	SourceEstimation Source = "ESTIMATION"
	SourceSynthesis  Source = "SYNTHESIS"
)

// AttemptStatus is the outcome of a single cascade step.
type AttemptStatus string

const (
	StatusFound     AttemptStatus = "found"
	StatusNotFound  AttemptStatus = "not_found"
	StatusEstimated AttemptStatus = "estimated"
	StatusCompiled  AttemptStatus = "compiled"
)

// SourceAttempt records one cascade step tried for a section.
type SourceAttempt struct {
	Step       int           `json:"step"`
	Source     Source        `json:"source"`
	Status     AttemptStatus `json:"status"`
	Score      *float64      `json:"score,omitempty"`
	HasNumbers *bool         `json:"has_numbers,omitempty"`
}

// ResolvedSection is a finished report section together with its audit
// trail.
type ResolvedSection struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Content         string          `json:"content"`
	Source          Source          `json:"source"`
	ConfidenceScore float64         `json:"confidence_score"`
	SourceHistory   []SourceAttempt `json:"source_history"`
	CanDeepen       bool            `json:"can_deepen"`
}

// SectionSummary is the metadata of a section sent in progress events.
type SectionSummary struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Source          Source  `json:"source"`
	ConfidenceScore float64 `json:"confidence_score"`
}

// Summary strips the content and trail from the section.
func (r ResolvedSection) Summary() SectionSummary {
	return SectionSummary{
		ID:              r.ID,
		Title:           r.Title,
		Source:          r.Source,
		ConfidenceScore: r.ConfidenceScore,
	}
}

// Recommendation is an expert interview suggestion for a low-confidence
// section.
type Recommendation struct {
	SectionID      string `json:"section_id"`
	SectionTitle   string `json:"section_title"`
	Recommendation string `json:"recommendation"`
}

// Report is the final product of a run.
type Report struct {
	ConversationID        string            `json:"conversation_id"`
	Mission               MissionParams     `json:"mission"`
	Sections              []ResolvedSection `json:"sections"`
	ExpertRecommendations []Recommendation  `json:"expert_recommendations"`
	StartedAt             time.Time         `json:"started_at"`
	CompletedAt           time.Time         `json:"completed_at"`
}

// LowConfidence returns the sections scored below threshold, in order.
func (r *Report) LowConfidence(threshold float64) []ResolvedSection {
	var out []ResolvedSection
	for _, s := range r.Sections {
		if s.ConfidenceScore < threshold {
			out = append(out, s)
		}
	}
	return out
}

// SourceCounts tallies sections per source.
func (r *Report) SourceCounts() map[Source]int {
	counts := make(map[Source]int, 4)
	for _, s := range r.Sections {
		counts[s.Source]++
	}
	return counts
}

// Float64Ptr returns a pointer to v.
func Float64Ptr(v float64) *float64 { return &v }

// BoolPtr returns a pointer to v.
func BoolPtr(v bool) *bool { return &v }
