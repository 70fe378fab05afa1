package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// DefaultMissionType is the mission type served by the built-in catalog.
const DefaultMissionType = "market_study"

// ErrInvalidMission is returned when mission parameters cannot start a run.
var ErrInvalidMission = eris.New("model: invalid mission parameters")

// MissionParams describes the market being studied. It is immutable for the
// lifetime of a run.
type MissionParams struct {
	MarketName    string `json:"market_name" yaml:"market_name"`
	Geography     string `json:"geography" yaml:"geography"`
	MissionType   string `json:"mission_type" yaml:"mission_type"`
	ClientWebsite string `json:"client_website,omitempty" yaml:"client_website,omitempty"`
}

// Validate rejects missions that are missing a market, a geography or a
// mission type.
func (m MissionParams) Validate() error {
	var missing []string
	if strings.TrimSpace(m.MarketName) == "" {
		missing = append(missing, "market_name")
	}
	if strings.TrimSpace(m.Geography) == "" {
		missing = append(missing, "geography")
	}
	if strings.TrimSpace(m.MissionType) == "" {
		missing = append(missing, "mission_type")
	}
	if len(missing) > 0 {
		return eris.Wrapf(ErrInvalidMission, "missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Describe renders the mission as the short context block handed to
// collaborators.
func (m MissionParams) Describe() string {
	var b strings.Builder
	b.WriteString("Marché: ")
	b.WriteString(m.MarketName)
	b.WriteString("\nGéographie: ")
	b.WriteString(m.Geography)
	b.WriteString("\nType de mission: ")
	b.WriteString(m.MissionType)
	if m.ClientWebsite != "" {
		b.WriteString("\nSite client: ")
		b.WriteString(m.ClientWebsite)
	}
	return b.String()
}
