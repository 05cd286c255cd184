package reconciliation

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler exposes reconciliation over HTTP for the back office.
type Handler struct {
	runner *Runner
	logger *slog.Logger
}

// NewHandler creates a new reconciliation handler.
func NewHandler(runner *Runner, logger *slog.Logger) *Handler {
	return &Handler{runner: runner, logger: logger}
}

// RegisterAdminRoutes sets up admin-only reconciliation routes
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/reconcile", h.Reconcile)
}

// Reconcile handles GET /admin/reconcile with a one-shot sweep.
func (h *Handler) Reconcile(c *gin.Context) {
	report, err := h.runner.RunAll(c.Request.Context())
	if err != nil {
		h.logger.Error("reconciliation run failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "reconciliation_error",
			"message": "Reconciliation run failed",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"report": report,
	})
}
