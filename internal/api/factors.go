package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/explain"
)

// CreateFactorRequest is the request body for POST /factors.
type CreateFactorRequest struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Condition   string  `json:"condition"`
	Field       string  `json:"field"`
	Impact      string  `json:"impact"`
	Weight      float64 `json:"weight"`
	Enabled     bool    `json:"enabled"`
}

// ListFactors returns the factor rules currently loaded in the explanation
// engine. They are read from the database at startup and can be reloaded
// via POST /factors/reload.
func (h *Handler) ListFactors(w http.ResponseWriter, r *http.Request) {
	if h.explainer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "explanation engine not available",
		})
		return
	}

	loaded := h.explainer.GetLoadedRules()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"factors": loaded,
		"count":   len(loaded),
	})
}

// CreateFactor validates a factor rule and persists it globally. Changes
// take effect on the next POST /factors/reload.
func (h *Handler) CreateFactor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.explainer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "explanation engine not available",
		})
		return
	}

	var req CreateFactorRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRecordBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Condition == "" || req.Field == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, condition and field are required",
		})
		return
	}
	if req.Weight < 0 || req.Weight > 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "weight must be between 0 and 1",
		})
		return
	}

	now := time.Now().UTC()
	rule := &domain.FactorRule{
		ID:          req.ID,
		TenantID:    domain.GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Condition:   req.Condition,
		Field:       req.Field,
		Impact:      req.Impact,
		Weight:      req.Weight,
		Enabled:     req.Enabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.explainer.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid factor rule: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveFactorRule(ctx, domain.GlobalTenantID, rule); err != nil {
			slog.Error("failed to save factor rule", "id", rule.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save factor rule",
			})
			return
		}
	}

	slog.Info("factor rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"factor":  rule,
		"message": "Factor rule created. Call POST /factors/reload to apply changes.",
	})
}

// ReloadFactors replaces the loaded factor rules with those stored in the
// database. An empty table restores the built-in rules.
func (h *Handler) ReloadFactors(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.explainer == nil || h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	stored, err := h.repo.ListFactorRules(ctx, domain.GlobalTenantID)
	if err != nil {
		slog.Error("failed to list factor rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load factor rules from database",
		})
		return
	}
	source := "database"
	if len(stored) == 0 {
		stored = explain.DefaultRules()
		source = "defaults"
	}

	if err := h.explainer.ReloadRules(stored); err != nil {
		slog.Error("failed to reload factor rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload factor rules: " + err.Error(),
		})
		return
	}

	slog.Info("factor rules reloaded", "count", h.explainer.RulesCount(), "source", source)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "factor rules reloaded successfully",
		"count":   h.explainer.RulesCount(),
		"source":  source,
	})
}
