package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"sceneplane/internal/execution"
	"sceneplane/internal/geometry"
	"sceneplane/internal/store"
)

// ingest downloads and parses the result of a remote job that reported SUCCESS.
// Download and parse failures are terminal. A failed write leaves the job as it
// was so the next pass ingests again, until the job timeout runs out.
func (r *Reconciler) ingest(ctx context.Context, log *slog.Logger, job *store.Job, st *execution.JobStatus) (store.JobStatus, error) {
	if st.DataID == "" {
		return r.fail(ctx, job, store.JobStatusError, store.StepDownload,
			fmt.Sprintf("remote job %s succeeded without result data", st.ID))
	}

	data, err := r.executor.Download(ctx, st.DataID)
	if err != nil {
		return r.fail(ctx, job, store.JobStatusError, store.StepDownload,
			fmt.Sprintf("failed to download result %s: %v", st.DataID, err))
	}

	geoms, err := geometry.Parse(data)
	if err != nil {
		return r.fail(ctx, job, store.JobStatusError, store.StepParse,
			fmt.Sprintf("failed to parse result %s: %v", st.DataID, err))
	}

	detections := make([]store.Detection, len(geoms))
	for i, g := range geoms {
		detections[i] = store.Detection{JobID: job.ID, FeatureIndex: i, Geometry: g}
	}

	if err := r.store.CompleteJob(ctx, job.ID, detections); err != nil {
		if errors.Is(err, store.ErrStaleStatus) {
			return "", err
		}
		if elapsed := r.now().Sub(job.CreatedAt); elapsed > r.config.JobTimeout {
			return r.fail(ctx, job, store.JobStatusError, store.StepPersist,
				fmt.Sprintf("failed to store %d detections: %v", len(detections), err))
		}
		log.Warn("failed to store detections, will retry", "detections", len(detections), "error", err)
		return "", nil
	}

	log.Info("result ingested", "detections", len(detections), "data_id", st.DataID)
	return store.JobStatusSuccess, nil
}
