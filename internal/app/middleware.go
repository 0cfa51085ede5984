package app

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/forgeline/forgeline/internal/observability"
	"github.com/forgeline/forgeline/internal/shared"
)

// Identity headers set by the upstream gateway.
const (
	HeaderUserID        = "X-User-ID"
	HeaderUserType      = "X-User-Type"
	HeaderUserRole      = "X-User-Role"
	HeaderUserValidated = "X-User-Validated"
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
}

// MiddlewareStack installs the Forgeline middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'none'",
		SSLRedirect:           cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	})

	timeout := 30 * time.Second
	if cfg.Config != nil && cfg.Config.AppRequestTimeout > 0 {
		timeout = cfg.Config.AppRequestTimeout
	}
	perMinute := 120
	if cfg.Config != nil && cfg.Config.RateLimitPerMinute > 0 {
		perMinute = cfg.Config.RateLimitPerMinute
	}

	middlewares := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(timeout),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					cfg.Logger.Warn("secure headers blocked request", slog.Any("error", err))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		httprate.Limit(perMinute, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
		IdentityMiddleware(cfg.Logger),
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, cfg.Metrics.Middleware)
	}
	return middlewares
}

// IdentityMiddleware places the gateway-supplied actor into the request
// context. Requests without identity headers pass through anonymous;
// handlers reject them where an actor is required.
func IdentityMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(HeaderUserID)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			actor, ok := actorFromHeaders(r.Header)
			if !ok {
				logger.Warn("ignoring malformed identity headers",
					slog.String("user_id", raw),
					slog.String("request_id", middleware.GetReqID(r.Context())))
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
		})
	}
}

func actorFromHeaders(h http.Header) (shared.Actor, bool) {
	id, err := strconv.ParseInt(h.Get(HeaderUserID), 10, 64)
	if err != nil {
		return shared.Actor{}, false
	}
	validated, _ := strconv.ParseBool(h.Get(HeaderUserValidated))
	actor := shared.Actor{
		UserID:    id,
		Type:      shared.UserType(strings.ToUpper(h.Get(HeaderUserType))),
		Role:      shared.Role(strings.ToUpper(h.Get(HeaderUserRole))),
		Validated: validated,
	}
	if actor.Role == "" {
		actor.Role = shared.RoleCustomer
	}
	return actor, actor.Valid()
}
