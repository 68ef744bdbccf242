// Package httpapi is the REST transport of the server.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dmitrijs2005/todokeeper/internal/logging"
	"github.com/dmitrijs2005/todokeeper/internal/server/auth"
	"github.com/dmitrijs2005/todokeeper/internal/server/avatars"
	"github.com/dmitrijs2005/todokeeper/internal/server/metrics"
	"github.com/dmitrijs2005/todokeeper/internal/server/models"
	"github.com/dmitrijs2005/todokeeper/internal/server/services"
)

const (
	RequestTimeout = 30 * time.Second
	AuthRateLimit  = 20
)

type AccountService interface {
	Register(ctx context.Context, email, password, name string) (*services.Session, error)
	Login(ctx context.Context, email, password string) (*services.Session, error)
	GoogleLogin(ctx context.Context, idToken string) (*services.Session, error)
	Authenticate(ctx context.Context, token string) (*auth.Claims, error)
}

type PasswordResetService interface {
	RequestReset(ctx context.Context, email string) error
	ConfirmReset(ctx context.Context, email, code, newPassword string) error
}

type ProfileService interface {
	GetProfile(ctx context.Context, accountID string) (*models.Account, error)
	UpdateProfile(ctx context.Context, accountID string, name, picture *string) (*models.Account, error)
	ChangeEmail(ctx context.Context, accountID, newEmail, password string) (*services.Session, error)
	ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string) error
	DeleteAccount(ctx context.Context, accountID, password string) error
	AvatarUploadURL(ctx context.Context, accountID string) (*avatars.Upload, error)
}

type TodoService interface {
	List(ctx context.Context, accountID string) ([]*models.Todo, error)
	Create(ctx context.Context, accountID, title string, description *string) (*models.Todo, error)
	Update(ctx context.Context, accountID, id string, in services.TodoUpdate) (*models.Todo, error)
	Delete(ctx context.Context, accountID, id string) error
	DeleteAll(ctx context.Context, accountID string) (int64, error)
}

// Options wires the router. Ready reports whether dependencies such as the
// database are reachable; a nil Ready always reports ready.
type Options struct {
	Accounts       AccountService
	PasswordResets PasswordResetService
	Profile        ProfileService
	Todos          TodoService

	Metrics     *metrics.Metrics
	Logger      logging.Logger
	CORSOrigins []string
	Ready       func(ctx context.Context) error
}

type handler struct {
	accounts AccountService
	resets   PasswordResetService
	profile  ProfileService
	todos    TodoService
	logger   logging.Logger
}

// NewRouter builds the HTTP handler, instrumented with OpenTelemetry.
func NewRouter(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.With("module", "http")

	h := &handler{
		accounts: opts.Accounts,
		resets:   opts.PasswordResets,
		profile:  opts.Profile,
		todos:    opts.Todos,
		logger:   logger,
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(RequestTimeout))
	r.Use(accessLog(logger))
	r.Use(withMetrics(opts.Metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         int((24 * time.Hour).Seconds()),
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if opts.Ready != nil {
			if err := opts.Ready(r.Context()); err != nil {
				logger.Warn(r.Context(), "readiness check failed", "error", err)
				writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "not ready"})
				return
			}
		}
		writeJSON(w, http.StatusOK, okResponse{OK: true})
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	r.Route("/auth", func(r chi.Router) {
		r.Use(httprate.Limit(AuthRateLimit, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "Too many requests"})
			}),
		))
		r.Post("/register", h.register)
		r.Post("/login", h.login)
		r.Post("/google", h.googleLogin)
		r.Post("/password/forgot", h.forgotPassword)
		r.Post("/password/reset", h.resetPassword)
	})

	r.Group(func(r chi.Router) {
		r.Use(requireBearer(h.accounts))

		r.Route("/me", func(r chi.Router) {
			r.Get("/", h.getMe)
			r.Patch("/", h.updateMe)
			r.Delete("/", h.deleteMe)
			r.Patch("/email", h.changeEmail)
			r.Patch("/password", h.changePassword)
			r.Post("/avatar", h.avatarUpload)
		})

		r.Route("/todos", func(r chi.Router) {
			r.Get("/", h.listTodos)
			r.Post("/", h.createTodo)
			r.Delete("/", h.deleteAllTodos)
			r.Patch("/{id}", h.updateTodo)
			r.Delete("/{id}", h.deleteTodo)
		})
	})

	return otelhttp.NewHandler(r, "todokeeper.http")
}
