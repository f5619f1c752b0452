/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /api/policies/*       Policy CRUD, versions, approval actions
  /api/approvals/*      Approval queue
  /api/executions       Execution intake
  /api/payroll/*        Impact report, apply, sync
  /api/employees/*      Directory employees
  /api/identities/*     Approver identities
  /api/scenarios/*      Demo scenarios (only with EnableScenarios)
  /healthz              Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultAllowedOrigins are the local frontend dev servers.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins ...string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", UserHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		// Policy routes
		r.Route("/policies", func(r chi.Router) {
			r.Get("/", h.ListPolicies)
			r.Post("/", h.CreatePolicy)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetPolicy)
				r.Put("/", h.UpdatePolicy)

				// Version routes
				r.Route("/versions", func(r chi.Router) {
					r.Get("/", h.ListVersions)
					r.Post("/", h.CreateVersion)
					r.Get("/compare", h.CompareVersions)
					r.Post("/prune", h.PruneVersions)
					r.Get("/{version}", h.GetVersion)
					r.Post("/{version}/revert", h.RevertToVersion)
				})

				// Approval actions
				r.Post("/submit", h.SubmitForApproval)
				r.Post("/approve", h.ApprovePolicy)
				r.Post("/reject", h.RejectPolicy)
				r.Post("/request-changes", h.RequestChanges)
				r.Post("/pause", h.PausePolicy)
				r.Get("/approvals", h.GetApprovalHistory)
			})
		})

		r.Get("/approvals/queue", h.GetApprovalQueue)

		r.Post("/executions", h.RecordExecution)

		// Payroll routes
		r.Route("/payroll", func(r chi.Router) {
			r.Get("/impact", h.GetPayrollImpact)
			r.Route("/runs/{runID}", func(r chi.Router) {
				r.Post("/employees/{employeeID}/apply", h.ApplyToPayrollRecord)
				r.Get("/adjustments", h.GetAdjustmentsForPayroll)
				r.Post("/sync", h.SyncPayroll)
			})
		})

		// Directory routes
		r.Route("/employees", func(r chi.Router) {
			r.Post("/", h.SaveEmployee)
			r.Get("/{id}", h.GetEmployee)
		})
		r.Route("/identities", func(r chi.Router) {
			r.Post("/", h.SaveIdentity)
			r.Get("/{id}", h.GetIdentity)
		})

		// Scenario routes (dev only)
		if h.EnableScenarios {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
			})
		}
	})

	return r
}
