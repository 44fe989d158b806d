package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Skufu/postop-risk/internal/bundle"
	"github.com/Skufu/postop-risk/internal/errorx"
	"github.com/Skufu/postop-risk/internal/predict"
)

const untrainedMessage = "no trained model loaded; run the trainer first"

type handlers struct {
	models  *bundle.Registry
	metrics *serverMetrics
	logger  *zap.Logger
}

type predictResponse struct {
	predict.Result
	ModelUsed bundle.Slot `json:"model_used"`
}

func (h *handlers) health(c *gin.Context) {
	slots := gin.H{}
	for _, st := range h.models.Status() {
		slots[string(st.Slot)] = st
	}
	c.JSON(http.StatusOK, gin.H{
		"status":            "ok",
		"models":            slots,
		"recommended_model": h.models.Recommended(),
	})
}

func (h *handlers) predict(c *gin.Context) {
	start := time.Now()

	var req PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, bindingError(err))
		return
	}

	b, slot, err := h.models.Select(req.WantsCollective())
	if err != nil {
		h.fail(c, err)
		return
	}

	res, err := predict.Predict(b, req.Record())
	if err != nil {
		h.fail(c, err)
		return
	}

	h.metrics.recordPrediction(slot, res.RiskLevel, time.Since(start))
	c.JSON(http.StatusOK, predictResponse{Result: res, ModelUsed: slot})
}

// slotBundle resolves the ?model= query, individual by default.
func (h *handlers) slotBundle(c *gin.Context) (*bundle.Bundle, bool) {
	slot := bundle.Slot(c.DefaultQuery("model", string(bundle.Individual)))
	if slot != bundle.Individual && slot != bundle.Collective {
		h.fail(c, errorx.NewValidationError("model", "must be individual or collective"))
		return nil, false
	}
	b := h.models.Get(slot)
	if !b.Trained() {
		h.fail(c, errorx.ErrUntrainedModel)
		return nil, false
	}
	return b, true
}

func (h *handlers) featureImportance(c *gin.Context) {
	b, ok := h.slotBundle(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"feature_importance": b.Importances,
		"top_10":             b.Top(10),
	})
}

func (h *handlers) modelMetrics(c *gin.Context) {
	b, ok := h.slotBundle(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"metrics":    b.Metrics,
		"model_type": b.Family,
		"model_id":   b.ID,
		"trained_at": b.TrainedAt,
	})
}

func (h *handlers) fail(c *gin.Context, err error) {
	var verr *errorx.ValidationError
	switch {
	case errors.As(err, &verr):
		h.metrics.recordFailure("validation")
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "details": verr.Fields})
	case errors.Is(err, errorx.ErrUntrainedModel):
		h.metrics.recordFailure("untrained")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": untrainedMessage})
	default:
		h.metrics.recordFailure("internal")
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
