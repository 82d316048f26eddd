package api

import (
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/opensource-finance/fraudguard/internal/artifact"
	"github.com/opensource-finance/fraudguard/internal/dataset"
	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/policy"
	"github.com/opensource-finance/fraudguard/internal/scheduler"
)

// ModelType describes the served scorer pair.
const ModelType = "hybrid (gradient boosting + isolation forest)"

// ModelInfoResponse is the response for GET /model.
type ModelInfoResponse struct {
	ArtifactID        string                    `json:"artifactId"`
	CreatedAt         time.Time                 `json:"createdAt"`
	ModelType         string                    `json:"modelType"`
	FeatureCount      int                       `json:"featureCount"`
	Features          []string                  `json:"features"`
	Performance       *domain.PerformanceReport `json:"performance,omitempty"`
	FeatureImportance []artifact.FeatureWeight  `json:"featureImportance"`
	Thresholds        domain.Thresholds         `json:"thresholds"`
}

// ModelInfo describes the artifact currently served.
func (h *Handler) ModelInfo(w http.ResponseWriter, r *http.Request) {
	a := h.engine.Current()
	if a == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "model not loaded",
		})
		return
	}

	writeJSON(w, http.StatusOK, ModelInfoResponse{
		ArtifactID:        a.ID,
		CreatedAt:         a.CreatedAt,
		ModelType:         ModelType,
		FeatureCount:      len(a.Features),
		Features:          a.Features,
		Performance:       a.Report,
		FeatureImportance: a.TopFeatures(10),
		Thresholds:        policy.DefaultThresholds(),
	})
}

// TrainModel handles POST /model/train. A text/csv body is used as the
// training set; otherwise the configured dataset file is read. The run is
// recorded whether it succeeds or not.
func (h *Handler) TrainModel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.trainer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "training not available",
		})
		return
	}

	var (
		run *domain.TrainingRun
		err error
	)
	if isCSV(r) {
		ds, readErr := dataset.ReadCSV(http.MaxBytesReader(w, r.Body, maxDatasetBytes))
		if readErr != nil {
			writeError(w, readErr)
			return
		}
		run, err = h.trainer.RunDataset(ctx, scheduler.SourceAPI, ds)
	} else {
		run, err = h.trainer.Run(ctx, scheduler.SourceAPI)
	}

	if err != nil {
		slog.Error("training failed", "error", err)
		writeJSON(w, errorStatus(err), map[string]any{
			"error": err.Error(),
			"run":   run,
		})
		return
	}

	slog.Info("model trained via API",
		"artifact_id", run.ArtifactID,
		"run_id", run.ID,
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"run": run,
	})
}

func isCSV(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "text/csv"
}

// ReloadModel restores the stored artifact. On failure the served artifact
// is kept.
func (h *Handler) ReloadModel(w http.ResponseWriter, r *http.Request) {
	a, err := h.engine.Restore(r.Context())
	if err != nil {
		slog.Error("model reload failed", "error", err)
		status := errorStatus(err)
		if errors.Is(err, domain.ErrArtifactNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{
			"error": err.Error(),
		})
		return
	}

	slog.Info("model reloaded", "artifact_id", a.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "model reloaded successfully",
		"artifactId": a.ID,
	})
}

// ListTrainingRuns returns recent training runs, newest first.
func (h *Handler) ListTrainingRuns(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = n
	}

	runs, err := h.repo.ListTrainingRuns(r.Context(), limit)
	if err != nil {
		slog.Error("failed to list training runs", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list training runs",
		})
		return
	}
	if runs == nil {
		runs = []*domain.TrainingRun{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}
