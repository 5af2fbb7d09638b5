package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lucasnoah/refinery/internal/assemble"
	"github.com/lucasnoah/refinery/internal/orchestrator"
	"github.com/lucasnoah/refinery/internal/pipeline"
)

// HealthResponse is the response for /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// VersionResponse is the response for /version.
type VersionResponse struct {
	Version string `json:"version"`
	Service string `json:"service"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// PipelineResponse describes the pipeline currently served.
type PipelineResponse struct {
	Name   string          `json:"name"`
	Inputs []string        `json:"inputs"`
	Stages []StageInfo     `json:"stages"`
	Layout assemble.Layout `json:"layout"`
}

// StageInfo is one stage in PipelineResponse.
type StageInfo struct {
	ID          string   `json:"id"`
	Inputs      []string `json:"inputs"`
	Output      string   `json:"output"`
	MaxAttempts int      `json:"max_attempts"`
	Constraints []string `json:"constraints"`
}

// RunRequest is the request body for POST /v1/runs.
type RunRequest struct {
	Context map[string]any `json:"context"`
}

// RunResponse is the result of a run. Artifact and Markdown are set only when
// the run succeeded.
type RunResponse struct {
	Report   pipeline.Report    `json:"report"`
	Artifact *assemble.Artifact `json:"artifact,omitempty"`
	Markdown string             `json:"markdown,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{Version: s.version, Service: "refinery"})
}

func (s *Server) handlePipeline(w http.ResponseWriter, r *http.Request) {
	plan := s.orch.Load().Plan()
	resp := PipelineResponse{
		Name:   plan.Name(),
		Inputs: plan.Config.Pipeline.Inputs,
		Layout: plan.Layout(),
	}
	for _, spec := range plan.Stages {
		info := StageInfo{
			ID:          spec.Stage.ID,
			Inputs:      spec.Stage.Inputs,
			Output:      spec.Stage.OutputKey(),
			MaxAttempts: spec.Stage.MaxAttempts,
		}
		for _, c := range spec.Constraints {
			info.Constraints = append(info.Constraints, c.ID())
		}
		resp.Stages = append(resp.Stages, info)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	o := s.orch.Load()
	run, err := o.Run(r.Context(), req.Context)
	switch {
	case errors.Is(err, orchestrator.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case run == nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := RunResponse{Report: run.Report()}
	if !run.Status.Succeeded() {
		status := http.StatusUnprocessableEntity
		if run.Status == pipeline.StatusCancelled {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
		return
	}

	art, err := assemble.Assemble(run, o.Plan().Layout())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp.Artifact = art
	resp.Markdown = art.Markdown()
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
