package server

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/market-study-cli/internal/model"
	"github.com/sells-group/market-study-cli/internal/pipeline"
)

// Request actions.
const (
	ActionGenerate = "generate"
	ActionDeepen   = "deepen"
)

// ErrBadRequest marks requests rejected before a run starts.
var ErrBadRequest = eris.New("server: bad request")

// GenerateRequest is the body of every report endpoint.
type GenerateRequest struct {
	MarketName     string `json:"market_name"`
	Geography      string `json:"geography"`
	MissionType    string `json:"mission_type"`
	ClientWebsite  string `json:"client_website,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Action         string `json:"action,omitempty"`
	SectionID      string `json:"section_id,omitempty"`
}

// Mission returns the mission parameters of the request. An empty mission
// type selects the default catalog.
func (r GenerateRequest) Mission() model.MissionParams {
	missionType := strings.TrimSpace(r.MissionType)
	if missionType == "" {
		missionType = model.DefaultMissionType
	}
	return model.MissionParams{
		MarketName:    strings.TrimSpace(r.MarketName),
		Geography:     strings.TrimSpace(r.Geography),
		MissionType:   missionType,
		ClientWebsite: strings.TrimSpace(r.ClientWebsite),
	}
}

// RunOptions maps the action, section and conversation of the request to
// pipeline options.
func (r GenerateRequest) RunOptions() ([]pipeline.RunOption, error) {
	var opts []pipeline.RunOption
	if id := strings.TrimSpace(r.ConversationID); id != "" {
		opts = append(opts, pipeline.WithConversationID(id))
	}

	switch strings.TrimSpace(r.Action) {
	case "", ActionGenerate:
	case ActionDeepen:
		if strings.TrimSpace(r.SectionID) == "" {
			return nil, eris.Wrap(ErrBadRequest, "section_id is required to deepen a section")
		}
		opts = append(opts, pipeline.WithSection(strings.TrimSpace(r.SectionID)))
	default:
		return nil, eris.Wrapf(ErrBadRequest, "unknown action %q", r.Action)
	}
	return opts, nil
}
