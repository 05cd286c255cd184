package wallet

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fleetpay/fleetpay/internal/metrics"
	"github.com/fleetpay/fleetpay/internal/pagination"
	"github.com/fleetpay/fleetpay/internal/traces"
	"github.com/fleetpay/fleetpay/internal/validation"
)

// EventSink receives wallet activity for real-time subscribers.
// Nil sink disables broadcasting.
type EventSink interface {
	BroadcastWalletEntry(entry map[string]interface{})
}

// TotalsProvider derives withdrawal totals from the withdrawals table,
// so the wallet summary never reports a cached counter.
type TotalsProvider interface {
	TotalWithdrawn(ctx context.Context, partnerID string) (string, error)
	AvailableBalance(ctx context.Context, partnerID string) (string, error)
}

// recentEntryCount caps the inline transaction list on the wallet summary.
const recentEntryCount = 10

// Handler provides HTTP endpoints for wallet operations
type Handler struct {
	service *Service
	sink    EventSink
	totals  TotalsProvider
	logger  *slog.Logger
}

// NewHandler creates a new wallet handler
func NewHandler(service *Service, sink EventSink, logger *slog.Logger) *Handler {
	return &Handler{service: service, sink: sink, logger: logger}
}

// WithTotals enriches the wallet summary with derived withdrawal totals.
func (h *Handler) WithTotals(totals TotalsProvider) *Handler {
	h.totals = totals
	return h
}

// RegisterRoutes sets up partner-facing wallet routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/partners/:id/wallet", h.GetWallet)
	r.GET("/partners/:id/transactions", h.GetTransactions)
}

// RegisterAdminRoutes sets up admin-only wallet routes
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/partners/:id/credits", h.RecordCredit)
}

// GetWallet handles GET /partners/:id/wallet
func (h *Handler) GetWallet(c *gin.Context) {
	partnerID := c.Param("id")

	ctx, span := traces.StartSpan(c.Request.Context(), "wallet.get", traces.PartnerID(partnerID))
	defer span.End()

	w, err := h.service.GetWallet(ctx, partnerID)
	if err != nil {
		h.logger.Error("get wallet failed", "partner", partnerID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "wallet_error",
			"message": "Failed to retrieve wallet",
		})
		return
	}

	resp := gin.H{
		"wallet": w,
	}
	if recent, _, err := h.service.GetEntries(ctx, partnerID, recentEntryCount, ""); err == nil {
		resp["recentTransactions"] = recent
	}
	if h.totals != nil {
		if withdrawn, err := h.totals.TotalWithdrawn(ctx, partnerID); err == nil {
			resp["totalWithdrawn"] = withdrawn
		}
		if available, err := h.totals.AvailableBalance(ctx, partnerID); err == nil {
			resp["availableBalance"] = available
		}
	}
	c.JSON(http.StatusOK, resp)
}

// GetTransactions handles GET /partners/:id/transactions
func (h *Handler) GetTransactions(c *gin.Context) {
	partnerID := c.Param("id")
	limit := pagination.ParseLimit(c.Query("limit"))

	entries, next, err := h.service.GetEntries(c.Request.Context(), partnerID, limit, c.Query("cursor"))
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidCursor) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_cursor",
				"message": "Cursor is malformed",
			})
			return
		}
		h.logger.Error("get entries failed", "partner", partnerID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "wallet_error",
			"message": "Failed to retrieve transactions",
		})
		return
	}

	resp := gin.H{
		"transactions": entries,
		"count":        len(entries),
	}
	if next != "" {
		resp["nextCursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}

// CreditRequest for recording delivery earnings (admin/platform use).
// Reference is the delivery or order that produced the earnings; every
// credit must be traceable back to one.
type CreditRequest struct {
	Amount      string `json:"amount" binding:"required"`
	Reference   string `json:"reference" binding:"required"`
	Description string `json:"description"`
}

// RecordCredit handles POST /admin/partners/:id/credits
func (h *Handler) RecordCredit(c *gin.Context) {
	partnerID := c.Param("id")

	var req CreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if !validation.IsValidAmount(req.Amount) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_amount",
			"message": "Amount must be a positive decimal number",
		})
		return
	}

	description := validation.SanitizeString(req.Description, validation.MaxStringLength)

	ctx, span := traces.StartSpan(c.Request.Context(), "wallet.credit",
		traces.PartnerID(partnerID), traces.Amount(req.Amount))
	defer span.End()

	err := h.service.Credit(ctx, partnerID, req.Amount, req.Reference, description)
	if err != nil {
		if err == ErrInvalidAmount {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_amount",
				"message": "Amount must be a positive decimal number",
			})
			return
		}
		h.logger.Error("credit failed", "partner", partnerID, "amount", req.Amount, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "credit_error",
			"message": "Failed to record credit",
		})
		return
	}

	metrics.WalletEntriesTotal.WithLabelValues(EntryCredit).Inc()
	if h.sink != nil {
		h.sink.BroadcastWalletEntry(map[string]interface{}{
			"partnerId": partnerID,
			"type":      EntryCredit,
			"amount":    req.Amount,
		})
	}

	resp := gin.H{
		"status":  "credited",
		"message": "Earnings credited to partner wallet",
	}
	if w, err := h.service.GetWallet(ctx, partnerID); err == nil {
		resp["totalEarnings"] = w.TotalEarnings
		resp["balance"] = w.Balance
	}
	c.JSON(http.StatusCreated, resp)
}
