package http

import (
	"log/slog"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"gorm.io/gorm"

	"rentbridge.com/app/internal/http/handlers"
	"rentbridge.com/app/internal/http/middleware"
	"rentbridge.com/app/internal/modules/payments"
)

type Deps struct {
	Logger *slog.Logger
	DB     *gorm.DB

	Payments *payments.Service
	Checkout *payments.CheckoutService
	Webhooks *payments.WebhookService
	Provider payments.Provider
	Leases   payments.Leases
	Sweeper  handlers.Sweeper

	Session     middleware.SessionCfg
	CORSOrigins []string
	NewRelic    *newrelic.Application // nil disables APM
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()

	// ErrorHandler sits outside Recovery so recovered panics are rendered too.
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(d.Logger))
	r.Use(middleware.ErrorHandler(d.Logger))
	r.Use(middleware.Recovery(d.Logger))
	if d.NewRelic != nil {
		r.Use(nrgin.Middleware(d.NewRelic))
	}
	if len(d.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     d.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderRequestID},
			ExposeHeaders:    []string{middleware.HeaderRequestID},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Registered first and outside every group: the handler must see the raw
	// body, so nothing that reads or binds JSON may run before it.
	wh := handlers.NewWebhookHandler(d.Logger, d.Provider, d.Webhooks)
	r.POST("/webhooks/payment-provider", wh.Handle)

	health := &handlers.HealthHandler{DB: d.DB}
	r.GET("/healthz", health.Check)

	api := r.Group("/")
	api.Use(middleware.SessionMiddleware(d.Session))
	api.Use(middleware.RequireAuth())

	ph := handlers.NewPaymentsHandler(d.Payments, d.Checkout, d.Leases)
	api.POST("/lease/:leaseId/payment/create", ph.Create)
	api.GET("/payment/:id", ph.Get)
	api.GET("/payment/:id/status", ph.Status)
	api.POST("/payment/:id/pay", ph.Pay)
	api.POST("/payment/:id/confirm-satisfaction", ph.ConfirmSatisfaction)
	api.POST("/payment/:id/checkout", ph.CreateCheckout)
	api.GET("/payment/:id/checkout-status", ph.CheckoutStatus)

	if d.Sweeper != nil {
		admin := api.Group("/admin", middleware.RequireRole(middleware.RoleAdmin))
		eh := handlers.NewAdminEscrowHandler(d.Sweeper)
		admin.GET("/escrow/scheduler", eh.Status)
		admin.POST("/escrow/scheduler/run", eh.Run)
	}

	return r
}
