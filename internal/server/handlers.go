package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/market-study-cli/internal/memory"
	"github.com/sells-group/market-study-cli/internal/model"
	"github.com/sells-group/market-study-cli/internal/pipeline"
)

// ReportResponse is the body of the blocking generation endpoint.
type ReportResponse struct {
	Sections              []model.ResolvedSection `json:"sections"`
	ExpertRecommendations []model.Recommendation  `json:"expert_recommendations"`
	ConversationID        string                  `json:"conversation_id"`
}

type sectionInfo struct {
	ID    string            `json:"id"`
	Label string            `json:"label"`
	Kind  model.SectionKind `json:"kind"`
}

type historyResponse struct {
	ConversationID string            `json:"conversation_id"`
	Exchanges      []memory.Exchange `json:"exchanges"`
}

type healthResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version"`
	Circuits map[string]string `json:"circuits,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", Version: s.opts.Version}
	if s.opts.Circuits != nil {
		resp.Circuits = s.opts.Circuits()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	opts, err := req.RunOptions()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	report, err := s.runner.Run(r.Context(), req.Mission(), nil, opts...)
	if err != nil {
		zap.L().Error("server: report generation failed", zap.String("market", req.MarketName), zap.Error(err))
		writeError(w, statusFor(err), err)
		return
	}

	resp := ReportResponse{
		Sections:              report.Sections,
		ExpertRecommendations: report.ExpertRecommendations,
		ConversationID:        report.ConversationID,
	}
	if resp.Sections == nil {
		resp.Sections = []model.ResolvedSection{}
	}
	if resp.ExpertRecommendations == nil {
		resp.ExpertRecommendations = []model.Recommendation{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStream writes the run's events as server-sent events. Mission errors
// surface as an error event in the stream; malformed requests are rejected
// before it opens.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	opts, err := req.RunOptions()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	broken := false
	_, _ = s.runner.Run(r.Context(), req.Mission(), func(ev pipeline.Event) {
		if broken {
			return
		}
		if err := writeSSE(w, ev); err != nil {
			zap.L().Warn("server: sse write failed", zap.Error(err))
			broken = true
			return
		}
		_ = rc.Flush()
	}, opts...)
}

func writeSSE(w http.ResponseWriter, ev pipeline.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func (s *Server) handleSections(w http.ResponseWriter, r *http.Request) {
	mission := GenerateRequest{MissionType: r.URL.Query().Get("mission_type")}.Mission()
	catalog, err := s.runner.Sections(mission, "")
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	out := make([]sectionInfo, len(catalog))
	for i, sec := range catalog {
		out[i] = sectionInfo{ID: sec.ID(), Label: sec.Label, Kind: sec.Kind}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	exchanges := s.conversations.History(id)
	if exchanges == nil {
		exchanges = []memory.Exchange{}
	}
	writeJSON(w, http.StatusOK, historyResponse{ConversationID: id, Exchanges: exchanges})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.conversations.Clear(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}
