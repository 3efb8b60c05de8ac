package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	audithttp "github.com/potatospin/potatospin/internal/audit/http"
	"github.com/potatospin/potatospin/internal/auth"
	"github.com/potatospin/potatospin/internal/observability"
	"github.com/potatospin/potatospin/internal/platform/httpx"
	"github.com/potatospin/potatospin/internal/rbac"
	"github.com/potatospin/potatospin/internal/shared"
	tokenhttp "github.com/potatospin/potatospin/internal/token/http"
	"github.com/potatospin/potatospin/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	Verifier       *auth.Verifier
	TokenHandler   *tokenhttp.Handler
	AuditHandler   *audithttp.Handler
	JobHandler     *jobs.Handler
	RBACMiddleware rbac.Middleware
	Metrics        *observability.Metrics
	// Ready reports whether dependencies are reachable. Optional.
	Ready func(r *http.Request) error
}

// NewRouter constructs the chi.Router with the ledger API defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}
	if !InTestMode() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if params.Ready != nil {
			if err := params.Ready(r); err != nil {
				httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", err.Error())
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	var authn func(http.Handler) http.Handler
	if params.Verifier != nil {
		authn = params.Verifier.Middleware
	}
	if params.TokenHandler != nil {
		params.TokenHandler.MountRoutes(r, authn)
	}
	if params.AuditHandler != nil {
		params.AuditHandler.MountRoutes(r)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
		if authn != nil {
			r.Route("/ops", func(r chi.Router) {
				r.Use(authn)
				r.Use(params.RBACMiddleware.RequireAny(shared.RoleAdmin))
				params.JobHandler.MountOps(r)
			})
		}
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	return r
}
