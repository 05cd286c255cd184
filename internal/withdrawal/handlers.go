package withdrawal

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fleetpay/fleetpay/internal/auth"
	"github.com/fleetpay/fleetpay/internal/metrics"
	"github.com/fleetpay/fleetpay/internal/traces"
	"github.com/fleetpay/fleetpay/internal/validation"
	"github.com/fleetpay/fleetpay/internal/wallet"
)

// EventSink receives withdrawal activity for real-time subscribers.
// Nil sink disables broadcasting.
type EventSink interface {
	BroadcastWithdrawalRequested(data map[string]interface{})
	BroadcastWithdrawalStatus(data map[string]interface{})
}

// BalanceReader exposes wallet balances so rejection responses can tell
// the partner how much is actually available. Nil disables the context.
type BalanceReader interface {
	GetWallet(ctx context.Context, partnerID string) (*wallet.Wallet, error)
}

// Handler provides HTTP endpoints for withdrawal operations
type Handler struct {
	service  *Service
	sink     EventSink
	balances BalanceReader
	logger   *slog.Logger
}

// NewHandler creates a new withdrawal handler
func NewHandler(service *Service, sink EventSink, logger *slog.Logger) *Handler {
	return &Handler{service: service, sink: sink, logger: logger}
}

// WithBalances enriches insufficient-balance errors with the wallet's
// current balance.
func (h *Handler) WithBalances(balances BalanceReader) *Handler {
	h.balances = balances
	return h
}

// RegisterRoutes sets up partner-facing withdrawal routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/partners/:id/withdrawals", h.RequestWithdrawal)
	r.GET("/partners/:id/withdrawals", h.ListWithdrawals)
	r.GET("/partners/:id/withdrawals/summary", h.GetSummary)
	r.GET("/withdrawals/:id", h.GetWithdrawal)
}

// RegisterAdminRoutes sets up admin-only withdrawal routes
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/withdrawals", h.ListAll)
	r.POST("/withdrawals/:id/transition", h.Transition)
}

// RequestWithdrawal handles POST /partners/:id/withdrawals
func (h *Handler) RequestWithdrawal(c *gin.Context) {
	partnerID := c.Param("id")

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	req.PartnerID = partnerID

	ctx, span := traces.StartSpan(c.Request.Context(), "withdrawal.request",
		traces.PartnerID(partnerID), traces.Amount(req.Amount))
	defer span.End()

	w, err := h.service.Request(ctx, req)
	if err != nil {
		h.respondRequestError(c, partnerID, req.Amount, err)
		return
	}

	metrics.WithdrawalsTotal.Inc()
	if h.sink != nil {
		h.sink.BroadcastWithdrawalRequested(map[string]interface{}{
			"partnerId":    partnerID,
			"withdrawalId": w.ID,
			"amount":       w.Amount,
			"reference":    w.Reference,
		})
	}

	c.JSON(http.StatusCreated, gin.H{
		"withdrawal": w,
	})
}

func (h *Handler) respondRequestError(c *gin.Context, partnerID, amount string, err error) {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_amount",
			"message": "Amount must be a positive decimal number",
		})
	case errors.Is(err, ErrBelowMinimum):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "below_minimum",
			"message": "Amount is below the minimum withdrawal",
		})
	case errors.Is(err, ErrAboveMaximum):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "above_maximum",
			"message": "Amount exceeds the maximum withdrawal",
		})
	case errors.Is(err, ErrInvalidPayoutDetails):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_payout_details",
			"message": "Payout details do not match the payment method",
		})
	case errors.Is(err, wallet.ErrInsufficientBalance):
		resp := gin.H{
			"error":     "insufficient_balance",
			"message":   "Wallet balance is insufficient for this withdrawal",
			"requested": amount,
		}
		if h.balances != nil {
			if w, werr := h.balances.GetWallet(c.Request.Context(), partnerID); werr == nil {
				resp["currentBalance"] = w.Balance
			}
		}
		c.JSON(http.StatusBadRequest, resp)
	case errors.Is(err, wallet.ErrWalletNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "wallet_not_found",
			"message": "No wallet exists for this partner",
		})
	default:
		h.logger.Error("withdrawal request failed", "partner", partnerID, "amount", amount, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "withdrawal_error",
			"message": "Failed to create withdrawal",
		})
	}
}

// ListWithdrawals handles GET /partners/:id/withdrawals
func (h *Handler) ListWithdrawals(c *gin.Context) {
	partnerID := c.Param("id")

	items, err := h.service.ListByPartner(c.Request.Context(), partnerID, 50)
	if err != nil {
		h.logger.Error("list withdrawals failed", "partner", partnerID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "withdrawal_error",
			"message": "Failed to list withdrawals",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"withdrawals": items,
		"count":       len(items),
	})
}

// GetSummary handles GET /partners/:id/withdrawals/summary
func (h *Handler) GetSummary(c *gin.Context) {
	partnerID := c.Param("id")

	summary, err := h.service.Summary(c.Request.Context(), partnerID)
	if err != nil {
		h.logger.Error("withdrawal summary failed", "partner", partnerID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "withdrawal_error",
			"message": "Failed to summarize withdrawals",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"summary": summary,
	})
}

// GetWithdrawal handles GET /withdrawals/:id
func (h *Handler) GetWithdrawal(c *gin.Context) {
	id := c.Param("id")

	w, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrWithdrawalNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Withdrawal not found",
			})
			return
		}
		h.logger.Error("get withdrawal failed", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "withdrawal_error",
			"message": "Failed to retrieve withdrawal",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"withdrawal": w,
	})
}

// ListAll handles GET /admin/withdrawals?status=
func (h *Handler) ListAll(c *gin.Context) {
	status := Status(c.Query("status"))

	items, err := h.service.ListAll(c.Request.Context(), status, 100)
	if err != nil {
		if errors.Is(err, ErrInvalidStatusFilter) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_status",
				"message": "Unknown status filter",
			})
			return
		}
		h.logger.Error("list all withdrawals failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "withdrawal_error",
			"message": "Failed to list withdrawals",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"withdrawals": items,
		"count":       len(items),
	})
}

// TransitionRequest carries the admin parameters for a status change
type TransitionRequest struct {
	Status         Status `json:"status" binding:"required"`
	TransactionID  string `json:"transactionId"`
	RejectedReason string `json:"rejectedReason"`
	AdminNotes     string `json:"adminNotes"`
}

// Transition handles POST /admin/withdrawals/:id/transition
func (h *Handler) Transition(c *gin.Context) {
	id := c.Param("id")

	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	ctx, span := traces.StartSpan(c.Request.Context(), "withdrawal.transition",
		traces.WithdrawalID(id), traces.WithdrawalStatus(string(req.Status)))
	defer span.End()

	input := AdminInput{
		ActorID:        auth.Actor(c),
		TransactionID:  req.TransactionID,
		RejectedReason: validation.SanitizeString(req.RejectedReason, validation.MaxStringLength),
		AdminNotes:     validation.SanitizeString(req.AdminNotes, validation.MaxStringLength),
	}

	w, err := h.service.Transition(ctx, id, req.Status, input)
	if err != nil {
		h.respondTransitionError(c, id, req.Status, err)
		return
	}

	metrics.WithdrawalTransitionsTotal.WithLabelValues(string(req.Status)).Inc()
	if w.Status.IsTerminal() {
		metrics.WithdrawalDuration.Observe(time.Since(w.RequestedAt).Seconds())
	}
	if h.sink != nil {
		h.sink.BroadcastWithdrawalStatus(map[string]interface{}{
			"partnerId":    w.PartnerID,
			"withdrawalId": w.ID,
			"status":       w.Status,
		})
	}

	h.logger.Info("withdrawal transition",
		"id", id, "status", w.Status, "actor", input.ActorID)

	c.JSON(http.StatusOK, gin.H{
		"withdrawal": w,
	})
}

func (h *Handler) respondTransitionError(c *gin.Context, id string, target Status, err error) {
	switch {
	case errors.Is(err, ErrWithdrawalNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Withdrawal not found",
		})
	case errors.Is(err, ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_transition",
			"message": "Status change is not allowed from the current state",
		})
	case errors.Is(err, ErrMissingTransactionID):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "missing_transaction_id",
			"message": "A settlement transaction ID is required to complete a withdrawal",
		})
	case errors.Is(err, wallet.ErrDuplicateRefund):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_refunded",
			"message": "A refund for this withdrawal was already recorded",
		})
	default:
		h.logger.Error("withdrawal transition failed", "id", id, "target", target, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "withdrawal_error",
			"message": "Failed to apply status change",
		})
	}
}
