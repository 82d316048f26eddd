package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/fraudguard/internal/dataset"
	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/engine"
	"github.com/opensource-finance/fraudguard/internal/explain"
	"github.com/opensource-finance/fraudguard/internal/repository"
	"github.com/opensource-finance/fraudguard/internal/scheduler"
	"github.com/opensource-finance/fraudguard/internal/worker"
)

const (
	// PredictionTTL is how long a served prediction is replayed for retries
	// of the same transaction against the same artifact.
	PredictionTTL = 5 * time.Minute

	// MaxBatchSize caps the records accepted by POST /predict/batch.
	MaxBatchSize = 1000

	maxRecordBytes  = 1 << 20
	maxBatchBytes   = 16 << 20
	maxDatasetBytes = 256 << 20

	// CacheHeader reports whether a prediction was replayed from cache.
	CacheHeader = "X-Cache"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	engine    *engine.Service
	explainer *explain.Engine
	trainer   *scheduler.Trainer
	publisher *worker.Publisher
	version   string
	startedAt time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewHandler creates the handler set for deps.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		repo:      deps.Repo,
		cache:     deps.Cache,
		bus:       deps.Bus,
		engine:    deps.Engine,
		explainer: deps.Explainer,
		trainer:   deps.Trainer,
		publisher: worker.NewPublisher(deps.Bus, deps.Cache),
		version:   deps.Version,
		startedAt: time.Now(),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Predict handles POST /predict.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	tx, err := domain.DecodeTransaction(http.MaxBytesReader(w, r.Body, maxRecordBytes))
	if err != nil {
		writeError(w, err)
		return
	}

	rec, cached, err := h.serve(ctx, tenantID, tx)
	if err != nil {
		slog.Warn("prediction failed",
			"tx_id", tx.TransactionID,
			"tenant_id", tenantID,
			"error", err,
		)
		writeError(w, err)
		return
	}

	if cached {
		w.Header().Set(CacheHeader, "HIT")
	} else {
		w.Header().Set(CacheHeader, "MISS")
	}
	writeJSON(w, http.StatusOK, rec)
}

// serve scores one validated record, or replays the prediction already
// served for it by the current artifact. Fresh predictions are persisted,
// cached and published.
func (h *Handler) serve(ctx context.Context, tenantID string, tx domain.Transaction) (*domain.PredictionRecord, bool, error) {
	start := time.Now()
	key := replayKey(&tx)
	if tx.Timestamp.IsZero() {
		tx.Timestamp = start.UTC()
	}

	if h.cache != nil {
		if a := h.engine.Current(); a != nil {
			rec, err := h.cache.GetPrediction(ctx, tenantID, a.ID, key)
			if err != nil {
				slog.Warn("prediction cache read failed", "tx_id", tx.TransactionID, "error", err)
			} else if rec != nil {
				return rec, true, nil
			}
		}
	}

	p, err := h.engine.Predict(ctx, tx)
	if err != nil {
		return nil, false, err
	}

	rec := newRecord(tenantID, &tx, p, time.Since(start))
	h.record(ctx, tenantID, &tx, key, rec)
	h.publisher.Publish(ctx, tenantID, rec)
	return rec, false, nil
}

// replayKey scopes a cached prediction to the record's content as received,
// so a reused transaction ID with a different body is scored afresh.
func replayKey(tx *domain.Transaction) string {
	return tx.TransactionID + "#" + tx.Fingerprint()
}

func newRecord(tenantID string, tx *domain.Transaction, p *domain.Prediction, elapsed time.Duration) *domain.PredictionRecord {
	return &domain.PredictionRecord{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		TransactionID: tx.TransactionID,
		UserID:        tx.UserID,
		Prediction:    *p,
		ProcessingMs:  float64(elapsed.Microseconds()) / 1000,
		Timestamp:     time.Now().UTC(),
	}
}

// record persists and caches a served prediction. Storage failures are
// logged; the caller already holds a valid prediction.
func (h *Handler) record(ctx context.Context, tenantID string, tx *domain.Transaction, key string, rec *domain.PredictionRecord) {
	if h.repo != nil {
		if err := h.repo.SaveTransaction(ctx, tenantID, tx); err != nil {
			slog.Error("failed to save transaction", "tx_id", tx.TransactionID, "error", err)
		}
		if err := h.repo.SavePrediction(ctx, tenantID, rec); err != nil {
			slog.Error("failed to save prediction", "tx_id", tx.TransactionID, "error", err)
		}
	}
	if h.cache != nil {
		if err := h.cache.SetPrediction(ctx, tenantID, rec.ArtifactID, key, rec, PredictionTTL); err != nil {
			slog.Warn("failed to cache prediction", "tx_id", tx.TransactionID, "error", err)
		}
	}
}

// BatchRequest is the request body for POST /predict/batch.
type BatchRequest struct {
	Transactions []map[string]any `json:"transactions"`
}

// BatchItem is the outcome for one record of a batch.
type BatchItem struct {
	TransactionID string                   `json:"transactionId,omitempty"`
	Prediction    *domain.PredictionRecord `json:"prediction,omitempty"`
	Error         string                   `json:"error,omitempty"`
}

// BatchResponse is the response for POST /predict/batch.
type BatchResponse struct {
	Predictions         []BatchItem `json:"predictions"`
	TotalTransactions   int         `json:"totalTransactions"`
	Failed              int         `json:"failed"`
	ProcessingMs        float64     `json:"processingMs"`
	AvgMsPerTransaction float64     `json:"avgMsPerTransaction"`
}

// PredictBatch handles POST /predict/batch. A record that fails validation
// or scoring is reported in its own entry and never affects the others.
func (h *Handler) PredictBatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBatchBytes))
	dec.UseNumber()
	var req BatchRequest
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(req.Transactions) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transactions must not be empty",
		})
		return
	}
	if len(req.Transactions) > MaxBatchSize {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("at most %d transactions per batch", MaxBatchSize),
		})
		return
	}

	items := make([]BatchItem, len(req.Transactions))
	valid := make([]domain.Transaction, 0, len(req.Transactions))
	keys := make([]string, 0, len(req.Transactions))
	index := make([]int, 0, len(req.Transactions))
	for i, attrs := range req.Transactions {
		tx, err := domain.ParseValidTransaction(attrs)
		if err != nil {
			if id, ok := attrs[domain.FieldTransactionID].(string); ok {
				items[i].TransactionID = id
			}
			items[i].Error = err.Error()
			continue
		}
		keys = append(keys, replayKey(&tx))
		if tx.Timestamp.IsZero() {
			tx.Timestamp = start.UTC()
		}
		items[i].TransactionID = tx.TransactionID
		valid = append(valid, tx)
		index = append(index, i)
	}

	results, err := h.engine.PredictBatch(ctx, valid)
	if err != nil {
		writeError(w, err)
		return
	}

	for k, res := range results {
		i := index[k]
		if res.Err != nil {
			items[i].Error = res.Err.Error()
			continue
		}
		rec := newRecord(tenantID, &valid[k], res.Prediction, 0)
		h.record(ctx, tenantID, &valid[k], keys[k], rec)
		items[i].Prediction = rec
	}

	resp := BatchResponse{
		Predictions:       items,
		TotalTransactions: len(items),
	}
	for _, it := range items {
		if it.Error != "" {
			resp.Failed++
		}
	}
	resp.ProcessingMs = float64(time.Since(start).Microseconds()) / 1000
	resp.AvgMsPerTransaction = resp.ProcessingMs / float64(len(items))
	for i := range items {
		if items[i].Prediction != nil {
			items[i].Prediction.ProcessingMs = resp.AvgMsPerTransaction
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// IngestResponse is the response for POST /transactions.
type IngestResponse struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
	TraceID       string `json:"traceId"`
}

// IngestTransaction handles POST /transactions. The record is validated and
// queued for the asynchronous worker; the decision arrives on the bus.
func (h *Handler) IngestTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}

	tx, err := domain.DecodeTransaction(http.MaxBytesReader(w, r.Body, maxRecordBytes))
	if err != nil {
		writeError(w, err)
		return
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = time.Now().UTC()
	}

	in, err := domain.NewIngestedTransaction(tenantID, traceID, tx)
	if err != nil {
		writeError(w, err)
		return
	}
	payload, err := json.Marshal(in)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.bus.Publish(ctx, tenantID, domain.TopicTransactionIngested, payload); err != nil {
		slog.Error("failed to queue transaction", "tx_id", tx.TransactionID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "failed to queue transaction",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, IngestResponse{
		TransactionID: tx.TransactionID,
		Status:        "accepted",
		TraceID:       traceID,
	})
}

// ExplainResponse is the response for POST /explain.
type ExplainResponse struct {
	TransactionID string              `json:"transactionId"`
	Prediction    *domain.Prediction  `json:"prediction"`
	Explanation   *domain.Explanation `json:"explanation"`
}

// Explain handles POST /explain. Nothing is persisted or published.
func (h *Handler) Explain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.explainer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "explanation engine not available",
		})
		return
	}

	tx, err := domain.DecodeTransaction(http.MaxBytesReader(w, r.Body, maxRecordBytes))
	if err != nil {
		writeError(w, err)
		return
	}

	p, err := h.engine.Predict(ctx, tx)
	if err != nil {
		writeError(w, err)
		return
	}

	exp, err := h.explainer.Explain(ctx, &tx, p)
	if err != nil {
		slog.Error("explanation failed", "tx_id", tx.TransactionID, "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ExplainResponse{
		TransactionID: tx.TransactionID,
		Prediction:    p,
		Explanation:   exp,
	})
}

// Simulate handles POST /simulate: a random ordinary-looking transaction is
// generated and served like any other.
func (h *Handler) Simulate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	h.rngMu.Lock()
	tx := dataset.Legitimate(h.rng, 0)
	h.rngMu.Unlock()
	tx.TransactionID = "sim_" + uuid.New().String()

	rec, _, err := h.serve(ctx, tenantID, tx)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transaction": tx,
		"prediction":  rec,
	})
}

// GetPrediction retrieves a prediction by ID.
func (h *Handler) GetPrediction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	id := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	rec, err := h.repo.GetPrediction(ctx, tenantID, id)
	if err != nil {
		writeLookupError(w, "prediction", id, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// GetTransaction retrieves a transaction by ID together with the
// predictions served for it, newest first.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	txID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	tx, err := h.repo.GetTransaction(ctx, tenantID, txID)
	if err != nil {
		writeLookupError(w, "transaction", txID, err)
		return
	}

	preds, err := h.repo.ListPredictionsByTransaction(ctx, tenantID, txID)
	if err != nil {
		slog.Error("failed to list predictions", "tx_id", txID, "error", err)
		preds = nil
	}
	if preds == nil {
		preds = []*domain.PredictionRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transaction": tx,
		"predictions": preds,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	modelStatus := "not_loaded"
	if h.engine.Ready() {
		modelStatus = "loaded"
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":      status,
		"version":     h.version,
		"modelStatus": modelStatus,
	})
}

// Ready returns 200 once an artifact is being served.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.engine.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
			"error": "model not loaded",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// StatsResponse is the response for GET /stats.
type StatsResponse struct {
	engine.Stats
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

// Stats returns serving counters and uptime.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatsResponse{
		Stats:         h.engine.Stats(),
		Status:        "running",
		Version:       h.version,
		UptimeSeconds: time.Since(h.startedAt).Seconds(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// errorStatus maps a scoring or training error to its HTTP status.
func errorStatus(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrUninitializedModel):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrSchemaMismatch):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrTrainingData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errorStatus(err), map[string]string{
		"error": err.Error(),
	})
}

func writeLookupError(w http.ResponseWriter, kind, id string, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": kind + " not found",
		})
		return
	}
	slog.Error("lookup failed", "kind", kind, "id", id, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error": "failed to load " + kind,
	})
}
