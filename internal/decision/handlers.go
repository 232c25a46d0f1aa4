package decision

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/quipu/debitcheck/internal/features"
	"github.com/quipu/debitcheck/internal/scoring"
	"github.com/quipu/debitcheck/internal/signals"
)

// Handler provides HTTP endpoints for debit checks.
type Handler struct {
	service *Service
}

// NewHandler creates a new decision handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the evaluation route at the router root. The path
// is the contract consumed by the collections pipeline, so it stays
// unversioned.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.POST("/run_debito_check/:credit_uid", h.RunCheck)
}

// RegisterAuditRoutes sets up read-only audit routes.
func (h *Handler) RegisterAuditRoutes(r *gin.RouterGroup) {
	r.GET("/decisions/:credit_uid", h.ListDecisions)
}

// RunCheck handles POST /run_debito_check/:credit_uid
func (h *Handler) RunCheck(c *gin.Context) {
	creditUID := c.Param("credit_uid")

	rec, err := h.service.Evaluate(c.Request.Context(), creditUID)
	if err != nil {
		status, code := httpStatus(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, rec)
}

// ListDecisions handles GET /v1/decisions/:credit_uid
func (h *Handler) ListDecisions(c *gin.Context) {
	creditUID := c.Param("credit_uid")

	limit := 20
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	records, err := h.service.History(c.Request.Context(), creditUID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"decisions": records,
		"count":     len(records),
	})
}

// httpStatus maps pipeline errors to an HTTP status and stable error code.
// Upstream failures are 502s; model failures are 500s; an exhausted
// evaluation budget is a 504.
func httpStatus(err error) (int, string) {
	switch {
	case errors.Is(err, signals.ErrCreditNotFound):
		return http.StatusNotFound, "credit_not_found"
	case errors.Is(err, signals.ErrSchemaViolation):
		return http.StatusBadGateway, "upstream_schema_violation"
	case errors.Is(err, signals.ErrUpstreamUnavailable):
		return http.StatusBadGateway, "upstream_unavailable"
	case errors.Is(err, scoring.ErrSchemaMismatch):
		return http.StatusInternalServerError, "schema_mismatch"
	case errors.Is(err, scoring.ErrInference):
		return http.StatusInternalServerError, "inference_failed"
	case errors.Is(err, features.ErrFormula):
		return http.StatusInternalServerError, "formula_error"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "evaluation_timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
