package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvedSection_Summary(t *testing.T) {
	t.Parallel()

	s := ResolvedSection{
		ID:              "1.3 Segmentation",
		Title:           "1.3 Segmentation",
		Content:         "long content",
		Source:          SourceWeb,
		ConfidenceScore: 0.7,
		SourceHistory:   []SourceAttempt{{Step: 1, Source: SourceInternal, Status: StatusNotFound}},
		CanDeepen:       true,
	}
	sum := s.Summary()
	assert.Equal(t, SectionSummary{ID: s.ID, Title: s.Title, Source: SourceWeb, ConfidenceScore: 0.7}, sum)

	data, err := json.Marshal(sum)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "long content")
}

func TestSourceAttempt_OmitsUnsetFields(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(SourceAttempt{Step: 0, Source: SourceSynthesis, Status: StatusCompiled})
	require.NoError(t, err)
	assert.JSONEq(t, `{"step":0,"source":"SYNTHESIS","status":"compiled"}`, string(data))

	data, err = json.Marshal(SourceAttempt{Step: 1, Source: SourceInternal, Status: StatusFound, Score: Float64Ptr(0.91), HasNumbers: BoolPtr(false)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"step":1,"source":"INTERNAL","status":"found","score":0.91,"has_numbers":false}`, string(data))
}

func TestReport_LowConfidenceAndCounts(t *testing.T) {
	t.Parallel()

	r := &Report{Sections: []ResolvedSection{
		{ID: "a", Source: SourceInternal, ConfidenceScore: 0.86},
		{ID: "b", Source: SourceEstimation, ConfidenceScore: 0.5},
		{ID: "c", Source: SourceWeb, ConfidenceScore: 0.7},
		{ID: "d", Source: SourceEstimation, ConfidenceScore: 0.5},
	}}

	low := r.LowConfidence(0.7)
	require.Len(t, low, 2)
	assert.Equal(t, "b", low[0].ID)
	assert.Equal(t, "d", low[1].ID)

	counts := r.SourceCounts()
	assert.Equal(t, 2, counts[SourceEstimation])
	assert.Equal(t, 1, counts[SourceInternal])
	assert.Equal(t, 0, counts[SourceSynthesis])
}
