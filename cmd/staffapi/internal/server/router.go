package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/terraconstructs/staffgrid/cmd/staffapi/internal/auth"
	"github.com/terraconstructs/staffgrid/cmd/staffapi/internal/service"
	"github.com/terraconstructs/staffgrid/pkg/sdk"
)

// RouterOptions controls the construction of the staffapi HTTP router.
type RouterOptions struct {
	Service       *service.AuthService
	Tokens        *auth.TokenIssuer
	Logger        *slog.Logger
	APIPrefix     string
	CORSOptions   *cors.Options
	Middleware    []func(http.Handler) http.Handler
	HealthHandler http.HandlerFunc
}

// DefaultCORSOptions returns the development CORS policy for the portal SPA.
func DefaultCORSOptions(origins []string) cors.Options {
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://127.0.0.1:5173"}
	}
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

func defaultHealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// NewRouter assembles a chi.Router with shared middleware and the auth
// endpoints mounted under opts.APIPrefix.
func NewRouter(opts RouterOptions) chi.Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	corsCfg := DefaultCORSOptions(nil)
	if opts.CORSOptions != nil {
		corsCfg = *opts.CORSOptions
	}
	r.Use(cors.Handler(corsCfg))

	for _, mw := range opts.Middleware {
		if mw != nil {
			r.Use(mw)
		}
	}

	healthHandler := opts.HealthHandler
	if healthHandler == nil {
		healthHandler = defaultHealthHandler
	}
	r.Get("/health", healthHandler)

	h := &authHandlers{svc: opts.Service, logger: logger}
	mount := func(api chi.Router) {
		api.Post(sdk.PathLogin, h.login)
		api.Post(sdk.PathVerifyOTP, h.verifyOTP)
		api.Post(sdk.PathLogout, h.logout)

		api.Group(func(protected chi.Router) {
			protected.Use(RequireBearer(opts.Tokens))
			protected.Get(sdk.PathPermissions, h.permissions)
			protected.Post(sdk.PathSwitchRole, h.switchRole)
		})
	}
	if opts.APIPrefix == "" || opts.APIPrefix == "/" {
		mount(r)
	} else {
		r.Route(opts.APIPrefix, mount)
	}

	return r
}

// NewH2CHandler wraps the router with an h2c server to provide HTTP/2 over
// cleartext.
func NewH2CHandler(opts RouterOptions) http.Handler {
	return h2c.NewHandler(NewRouter(opts), &http2.Server{})
}
