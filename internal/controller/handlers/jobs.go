package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"sceneplane/internal/controller/middleware"
	"sceneplane/internal/jobs"
	"sceneplane/internal/store"
	"sceneplane/pkg/api"

	"github.com/google/uuid"
)

// SubmitJob handles POST /jobs.
// It answers 201 with a new job, or 200 with an equivalent job that already succeeded.
func (h *Handlers) SubmitJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := middleware.UserFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req api.SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	credential := req.Credential
	if credential == "" {
		credential = user.BrokerCredential
	}

	job, err := h.jobs.Submit(ctx, jobs.SubmitRequest{
		Name:        req.Name,
		CreatedBy:   user.ID,
		SceneID:     req.SceneID,
		AlgorithmID: req.AlgorithmID,
		Credential:  credential,
		ComputeMask: req.ComputeMask,
		Extras:      req.Extras,
	})
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	status := http.StatusCreated
	if job.Status == store.JobStatusSuccess {
		status = http.StatusOK
	}
	h.respondJson(w, status, toJobResponse(job))
}

// GetJob handles GET /jobs/{id}.
// Successful jobs carry their detections, failed ones their error records.
// Any authenticated user may read a job: deduplicated submissions hand out
// jobs created by someone else.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid job id", http.StatusBadRequest)
		return
	}

	job, err := h.jobs.Get(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		h.httpError(w, "Job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	resp := api.JobDetailResponse{JobResponse: toJobResponse(job)}

	switch job.Status {
	case store.JobStatusSuccess:
		detections, err := h.store.ListDetections(ctx, job.ID)
		if err != nil {
			h.serviceError(w, r, err)
			return
		}
		resp.Detections = make([]api.DetectionResponse, len(detections))
		for i, d := range detections {
			resp.Detections[i] = api.DetectionResponse{FeatureIndex: d.FeatureIndex, Geometry: d.Geometry}
		}
	case store.JobStatusError, store.JobStatusCancelled:
		jobErrors, err := h.store.ListJobErrors(ctx, job.ID)
		if err != nil {
			h.serviceError(w, r, err)
			return
		}
		resp.Errors = make([]api.JobErrorResponse, len(jobErrors))
		for i, e := range jobErrors {
			resp.Errors[i] = api.JobErrorResponse{Message: e.ErrorMessage, Step: e.ExecutionStep, CreatedAt: e.CreatedAt}
		}
	}

	h.respondJson(w, http.StatusOK, resp)
}

// ListOutstandingJobs handles GET /jobs/outstanding.
// It lists the caller's jobs that have not reached a terminal status.
func (h *Handlers) ListOutstandingJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := middleware.UserIDFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	outstanding, err := h.jobs.Outstanding(ctx)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	resp := api.OutstandingJobsResponse{Jobs: []api.JobResponse{}}
	for i := range outstanding {
		if outstanding[i].CreatedBy == userID {
			resp.Jobs = append(resp.Jobs, toJobResponse(&outstanding[i]))
		}
	}
	h.respondJson(w, http.StatusOK, resp)
}

func toJobResponse(job *store.Job) api.JobResponse {
	return api.JobResponse{
		ID:               job.ID.String(),
		RemoteJobID:      job.RemoteJobID,
		Name:             job.Name,
		SceneID:          job.SceneID,
		AlgorithmID:      job.AlgorithmID,
		AlgorithmName:    job.AlgorithmName,
		AlgorithmVersion: job.AlgorithmVersion,
		ComputeMask:      job.ComputeMask,
		Status:           string(job.Status),
		Tide:             job.Tide,
		TideMin24h:       job.TideMin24h,
		TideMax24h:       job.TideMax24h,
		ErrorMessage:     job.ErrorMessage,
		ExecutionStep:    job.ExecutionStep,
		Extras:           job.Extras,
		CreatedAt:        job.CreatedAt,
		UpdatedAt:        job.UpdatedAt,
	}
}
