package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"rentbridge.com/app/internal/http/middleware"
	"rentbridge.com/app/internal/http/validation"
	"rentbridge.com/app/internal/modules/leases"
	"rentbridge.com/app/internal/modules/payments"
)

// PaymentsHandler serves the tenant and landlord payment API. Every action
// re-checks the caller against the lease; the route group only ensures a session.
type PaymentsHandler struct {
	Payments *payments.Service
	Checkout *payments.CheckoutService
	Leases   payments.Leases
}

func NewPaymentsHandler(svc *payments.Service, co *payments.CheckoutService, l payments.Leases) *PaymentsHandler {
	return &PaymentsHandler{Payments: svc, Checkout: co, Leases: l}
}

type createPaymentReq struct {
	AmountDue *decimal.Decimal `json:"amountDue"`
	DueDate   *time.Time       `json:"dueDate"`
}

// POST /lease/:leaseId/payment/create
func (h *PaymentsHandler) Create(c *gin.Context) {
	u, _ := middleware.CurrentUser(c)
	ctx := c.Request.Context()

	var in createPaymentReq
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&in); err != nil {
			middleware.Fail(c, validation.BindError(err, &in))
			return
		}
	}

	lease, err := h.Leases.Get(ctx, c.Param("leaseId"))
	if err != nil {
		if errors.Is(err, leases.ErrNotFound) {
			err = payments.ErrForbidden
		}
		middleware.Fail(c, err)
		return
	}
	if !isParty(u, lease) {
		middleware.Fail(c, payments.ErrForbidden)
		return
	}

	p, err := h.Payments.CreateForLease(ctx, lease.ID, payments.CreateInput{AmountDue: in.AmountDue, DueDate: in.DueDate})
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"payment": p})
}

// GET /payment/:id
func (h *PaymentsHandler) Get(c *gin.Context) {
	if _, ok := h.authorize(c, isParty); !ok {
		return
	}
	d, err := h.Payments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// GET /payment/:id/status
func (h *PaymentsHandler) Status(c *gin.Context) {
	if _, ok := h.authorize(c, isParty); !ok {
		return
	}
	st, err := h.Payments.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

type payReq struct {
	AmountPaid        *decimal.Decimal `json:"amountPaid" binding:"required"`
	ProviderPaymentID *string          `json:"providerPaymentId" binding:"omitempty,max=255"`
}

// POST /payment/:id/pay
func (h *PaymentsHandler) Pay(c *gin.Context) {
	var in payReq
	if err := c.ShouldBindJSON(&in); err != nil {
		middleware.Fail(c, validation.BindError(err, &in))
		return
	}
	u, ok := h.authorize(c, isTenant)
	if !ok {
		return
	}

	p, err := h.Payments.Process(c.Request.Context(), c.Param("id"), payments.ProcessInput{
		AmountPaid:        *in.AmountPaid,
		ProviderPaymentID: in.ProviderPaymentID,
		Actor:             "tenant:" + u.ID,
	})
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": p})
}

// POST /payment/:id/confirm-satisfaction
func (h *PaymentsHandler) ConfirmSatisfaction(c *gin.Context) {
	u, _ := middleware.CurrentUser(c)
	p, err := h.Payments.ConfirmSatisfaction(c.Request.Context(), c.Param("id"), u.ID)
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": p})
}

// POST /payment/:id/checkout
func (h *PaymentsHandler) CreateCheckout(c *gin.Context) {
	if _, ok := h.authorize(c, isTenant); !ok {
		return
	}
	res, err := h.Checkout.CreateSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /payment/:id/checkout-status
func (h *PaymentsHandler) CheckoutStatus(c *gin.Context) {
	if _, ok := h.authorize(c, isParty); !ok {
		return
	}
	st, err := h.Checkout.CheckoutStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// authorize loads the payment's lease and applies allow to the caller.
// Unknown ids answer 403 like any other refusal. On false the response has
// already been failed.
func (h *PaymentsHandler) authorize(c *gin.Context, allow func(middleware.ContextUser, leases.Lease) bool) (middleware.ContextUser, bool) {
	u, _ := middleware.CurrentUser(c)
	_, lease, err := h.Payments.Parties(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.Fail(c, payments.Forbid(err))
		return u, false
	}
	if !allow(u, lease) {
		middleware.Fail(c, payments.ErrForbidden)
		return u, false
	}
	return u, true
}

func isTenant(u middleware.ContextUser, l leases.Lease) bool {
	return u.ID != "" && u.ID == l.TenantID
}

func isParty(u middleware.ContextUser, l leases.Lease) bool {
	return isTenant(u, l) || (u.ID != "" && u.ID == l.ManagerID())
}
