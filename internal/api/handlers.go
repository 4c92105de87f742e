package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/harborintel/port-research/internal/model"
	"github.com/harborintel/port-research/internal/research"
	"github.com/harborintel/port-research/internal/sse"
	"github.com/harborintel/port-research/internal/store"
)

type errorBody struct {
	Message   string `json:"message"`
	Category  string `json:"category,omitempty"`
	Retryable bool   `json:"retryable"`
	Original  string `json:"originalError,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	body := errorBody{Message: err.Error()}
	if re := research.AsError(err); re != nil {
		body.Message = re.Message
		body.Category = string(re.Category)
		body.Retryable = re.Retryable
		if re.Cause != nil {
			body.Original = re.Cause.Error()
		}
	}
	if eris.Is(err, store.ErrNotFound) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]any{"error": body})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Jobs

type enqueueRequest struct {
	EntityIDs []string `json:"entityIds"`
	Type      string   `json:"type"`
	ClusterID string   `json:"clusterId,omitempty"`
}

func (s *Server) handleEnqueueJobs(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, eris.Wrap(err, "api: decode enqueue request"))
		return
	}
	if len(req.EntityIDs) == 0 {
		s.writeError(w, http.StatusBadRequest, eris.New("api: entityIds is required"))
		return
	}
	jobType := model.JobType(req.Type)
	if jobType != model.JobTypePort && jobType != model.JobTypeTerminal {
		s.writeError(w, http.StatusBadRequest, eris.Errorf("api: unknown job type %q", req.Type))
		return
	}

	jobs := make([]model.ResearchJob, 0, len(req.EntityIDs))
	for _, entityID := range req.EntityIDs {
		jobs = append(jobs, model.ResearchJob{
			Type:      jobType,
			EntityID:  entityID,
			ClusterID: req.ClusterID,
		})
	}

	ids, err := s.store.CreateJobs(r.Context(), jobs)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"jobIds": ids})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	filter := store.JobFilter{
		Status:    model.JobStatus(r.URL.Query().Get("status")),
		Type:      model.JobType(r.URL.Query().Get("type")),
		ClusterID: r.URL.Query().Get("clusterId"),
	}
	jobs, err := s.store.ListJobs(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// Research streaming

func (s *Server) handlePortResearch(w http.ResponseWriter, r *http.Request) {
	port, err := s.store.GetPort(r.Context(), chi.URLParam(r, "portID"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.streamResearch(w, r, research.Target{
		Kind:    "port",
		ID:      port.ID,
		Name:    port.Name,
		Country: port.Country,
		Current: portCurrent(port),
	})
}

func (s *Server) handleOperatorResearch(w http.ResponseWriter, r *http.Request) {
	op, err := s.store.GetOperator(r.Context(), chi.URLParam(r, "operatorID"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	target := research.Target{
		Kind:    "operator",
		ID:      op.ID,
		Name:    op.Name,
		Current: operatorCurrent(op),
	}
	if port, err := s.store.GetPort(r.Context(), op.PortID); err == nil {
		target.PortName = port.Name
		target.Country = port.Country
	}
	s.streamResearch(w, r, target)
}

func (s *Server) streamResearch(w http.ResponseWriter, r *http.Request, target research.Target) {
	writer, err := sse.NewWriter(w)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	// Client-side cancel is a client concern: the run and its report
	// persistence finish on a detached context even if the request dies.
	events := s.orch.Run(context.WithoutCancel(r.Context()), target)
	for ev := range events {
		if err := writer.Send(string(ev.Type), ev); err != nil {
			// Client went away; drain so the run finishes and its report
			// persistence still happens.
			s.log.Debug("research stream write failed", zap.Error(err))
			for range events {
			}
			return
		}
	}
}

// Field-level apply

type applyRequest struct {
	DataToUpdate   map[string]any `json:"data_to_update"`
	ApprovedFields []string       `json:"approved_fields"`
}

func (s *Server) handlePortApply(w http.ResponseWriter, r *http.Request) {
	s.handleApply(w, r, "port", chi.URLParam(r, "portID"))
}

func (s *Server) handleOperatorApply(w http.ResponseWriter, r *http.Request) {
	s.handleApply(w, r, "operator", chi.URLParam(r, "operatorID"))
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request, entityKind, entityID string) {
	var req applyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, eris.Wrap(err, "api: decode apply request"))
		return
	}
	if len(req.DataToUpdate) == 0 {
		s.writeError(w, http.StatusBadRequest, eris.New("api: data_to_update is required"))
		return
	}

	if err := s.approval.ApplyFields(r.Context(), entityKind, entityID, req.DataToUpdate, req.ApprovedFields); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	var entity any
	var err error
	if entityKind == "port" {
		entity, err = s.store.GetPort(r.Context(), entityID)
	} else {
		entity, err = s.store.GetOperator(r.Context(), entityID)
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entity)
}

// Proposals

type proposeRequest struct {
	Proposals []model.DiscoveryProposal `json:"proposals"`
}

func (s *Server) handleProposePort(w http.ResponseWriter, r *http.Request) {
	var req proposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, eris.Wrap(err, "api: decode propose request"))
		return
	}
	if len(req.Proposals) == 0 {
		s.writeError(w, http.StatusBadRequest, eris.New("api: proposals is required"))
		return
	}

	result, err := s.approval.Propose(r.Context(), chi.URLParam(r, "portID"), req.Proposals)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

type proposalBatchRequest struct {
	ProposalIDs []string `json:"proposalIds"`
	Action      string   `json:"action"`
}

func (s *Server) handleProposalBatch(w http.ResponseWriter, r *http.Request) {
	var req proposalBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, eris.Wrap(err, "api: decode batch request"))
		return
	}
	if len(req.ProposalIDs) == 0 {
		s.writeError(w, http.StatusBadRequest, eris.New("api: proposalIds is required"))
		return
	}

	result, err := s.approval.Batch(r.Context(), req.ProposalIDs, req.Action)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListProposals(w http.ResponseWriter, r *http.Request) {
	filter := store.ProposalFilter{
		Status: model.ProposalStatus(r.URL.Query().Get("status")),
		PortID: r.URL.Query().Get("portId"),
	}
	proposals, err := s.store.ListProposals(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"proposals": proposals})
}

// Quality

func (s *Server) handleQuality(w http.ResponseWriter, r *http.Request) {
	report, err := s.quality.Check(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// current-value maps, keyed by the extraction field names

func portCurrent(p *model.Port) map[string]any {
	current := map[string]any{
		"size":                 string(p.Size),
		"strategic_importance": string(p.Importance),
		"annual_capacity":      p.AnnualCapacity,
		"cargo_types":          p.CargoTypes,
		"notes":                p.Notes,
	}
	if p.Coordinates != nil {
		current["coordinates"] = map[string]any{
			"latitude":  p.Coordinates.Latitude,
			"longitude": p.Coordinates.Longitude,
		}
	}
	return current
}

func operatorCurrent(op *model.TerminalOperator) map[string]any {
	current := map[string]any{
		"operator_type":    string(op.OperatorType),
		"parent_companies": op.ParentCompanies,
		"capacity":         op.Capacity,
		"cargo_types":      op.CargoTypes,
		"address":          op.Address,
		"notes":            op.Notes,
	}
	if op.Coordinates != nil {
		current["coordinates"] = map[string]any{
			"latitude":  op.Coordinates.Latitude,
			"longitude": op.Coordinates.Longitude,
		}
	}
	return current
}
