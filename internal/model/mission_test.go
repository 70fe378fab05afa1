package model

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestMissionParams_Validate(t *testing.T) {
	t.Parallel()

	ok := MissionParams{MarketName: "Pet Care", Geography: "France", MissionType: DefaultMissionType}
	assert.NoError(t, ok.Validate())

	tests := []struct {
		name    string
		mission MissionParams
		missing string
	}{
		{"no market", MissionParams{Geography: "France", MissionType: "market_study"}, "market_name"},
		{"blank geography", MissionParams{MarketName: "Pet Care", Geography: "  ", MissionType: "market_study"}, "geography"},
		{"no mission type", MissionParams{MarketName: "Pet Care", Geography: "France"}, "mission_type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.mission.Validate()
			assert.True(t, eris.Is(err, ErrInvalidMission))
			assert.Contains(t, err.Error(), tt.missing)
		})
	}
}

func TestMissionParams_Describe(t *testing.T) {
	t.Parallel()

	m := MissionParams{MarketName: "Pet Care", Geography: "France", MissionType: "market_study"}
	assert.Equal(t, "Marché: Pet Care\nGéographie: France\nType de mission: market_study", m.Describe())

	m.ClientWebsite = "https://example.com"
	assert.Contains(t, m.Describe(), "Site client: https://example.com")
}
