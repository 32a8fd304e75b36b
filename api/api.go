// Package api exposes the donorhub services over HTTP.
package api

import (
	"context"
	_ "embed"
	"log/slog"
	"net/http"
	"net/netip"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/donorhub/audit"
	"github.com/jmcleod/donorhub/catalog"
	"github.com/jmcleod/donorhub/donor"
	"github.com/jmcleod/donorhub/lab"
	"github.com/jmcleod/donorhub/payment"
	"github.com/jmcleod/donorhub/user"
)

//go:embed openapi.yaml
var openapiSpec []byte

// SiteLocator finds laboratory collection sites near a ZIP code.
type SiteLocator interface {
	LocateCollectionSites(ctx context.Context, zip string, distance int) ([]lab.Site, error)
}

// Services are the components the handlers call.
type Services struct {
	Users    *user.Directory
	Donors   *donor.Service
	Payments *payment.Service
	Catalog  *catalog.Catalog
	AuditLog *audit.Log
	Sites    SiteLocator
}

// API holds the dependencies needed by the REST handlers.
type API struct {
	users    *user.Directory
	tokens   *user.Tokens
	donors   *donor.Service
	payments *payment.Service
	catalog  *catalog.Catalog
	auditLog *audit.Log
	sites    SiteLocator

	logger         *slog.Logger
	audit          *auditLogger
	alerts         *alertCollector
	trustedProxies []netip.Prefix
}

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for request errors and security
// events. If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) { a.logger = logger }
}

// WithAlertHandler registers a callback for anomaly alerts such as login
// failure spikes.
func WithAlertHandler(fn AlertFunc) Option {
	return func(a *API) { a.alerts = newAlertCollector(fn) }
}

// WithTrustedProxies sets the peers whose forwarding headers are honoured
// when resolving the client IP.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(a *API) { a.trustedProxies = prefixes }
}

// New creates a new API instance.
func New(s Services, opts ...Option) *API {
	a := &API{
		users:    s.Users,
		donors:   s.Donors,
		payments: s.Payments,
		catalog:  s.Catalog,
		auditLog: s.AuditLog,
		sites:    s.Sites,
	}
	if s.Users != nil {
		a.tokens = s.Users.Tokens()
	}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	a.audit = newAuditLogger(a.logger)
	a.audit.alerts = a.alerts
	return a
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(a.Authenticate)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.Post("/auth/register", a.Register)
	r.Post("/auth/login", a.Login)
	r.With(RequireAuth).Post("/auth/logout", a.Logout)
	r.Get("/auth/check-user", a.CheckUser)
	r.Post("/forgot-password", a.ForgotPassword)
	r.Post("/verify-otp", a.VerifyOTP)
	r.Post("/reset-password", a.ResetPassword)

	r.Route("/users", func(r chi.Router) {
		r.Use(RequireAuth)
		r.Get("/", a.ListUsers)
		r.Get("/{id}", a.GetUser)
		r.Put("/{id}", a.UpdateUser)
	})

	r.Route("/services", func(r chi.Router) {
		r.Get("/", a.ListServices)
		r.Get("/{id}", a.GetService)
		r.With(RequireAuth).Post("/", a.CreateService)
		r.With(RequireAuth).Put("/{id}", a.UpdateService)
		r.With(RequireAuth).Delete("/{id}", a.DeleteService)
	})

	r.Route("/donors", func(r chi.Router) {
		r.Use(RequireAuth)
		r.Post("/donor-registration", a.CreateRegistration)
		r.Get("/donor-registrations", a.ListRegistrations)
		r.Post("/donor-registration/confirm-direct", a.ConfirmDirect)
		r.Get("/donor-registration/{id}", a.GetRegistration)
		r.Put("/donor-registration/{id}", a.UpdateRegistration)
		r.Delete("/donor-registration/{id}", a.DeleteRegistration)
		r.Post("/donor-registration/{id}/confirm", a.ConfirmRegistration)
		r.Post("/donor-registration/{id}/reject", a.RejectRegistration)
	})

	r.Route("/payments", func(r chi.Router) {
		r.Use(RequireAuth)
		r.Post("/", a.CreatePayment)
		r.Get("/", a.ListPayments)
		r.Get("/{id}", a.GetPayment)
		r.Put("/{id}/status", a.UpdatePaymentStatus)
		r.Delete("/{id}", a.DeletePayment)
	})

	r.Post("/checkout", a.StartCheckout)
	r.Get("/stripe/session/{sessionID}", a.GetCheckoutSession)
	r.Post("/stripe/webhook", a.StripeWebhook)

	r.Get("/labcorp", a.LocateSites)

	r.Route("/audit-logs", func(r chi.Router) {
		r.Use(RequireAuth)
		r.Get("/", a.ListAuditLogs)
		r.Get("/verify", a.VerifyAuditLog)
	})

	return r
}
