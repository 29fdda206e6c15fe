package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/safar/dental-lab-orders/internal/lifecycle"
	"github.com/safar/dental-lab-orders/internal/models"
	"github.com/safar/dental-lab-orders/internal/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// OrderEngine is the write side of the order lifecycle.
type OrderEngine interface {
	CreateOrder(ctx context.Context, in lifecycle.CreateOrderInput) (*models.Order, error)
	Transition(ctx context.Context, in lifecycle.TransitionInput) (*models.Order, error)
	Rollback(ctx context.Context, in lifecycle.RollbackInput) (*models.Order, error)
	UpdateDeliveryDate(ctx context.Context, orderID int64, date time.Time, actorID int64) (*models.Order, error)
	SubmitApprovalLink(ctx context.Context, in lifecycle.SubmitApprovalInput) (*models.Approval, error)
	RespondToApproval(ctx context.Context, in lifecycle.RespondInput) (*models.Approval, error)
}

type OrderReader interface {
	GetOrderDetail(ctx context.Context, id int64) (*models.OrderDetail, error)
	ListOrders(ctx context.Context, filter store.OrderFilter) (*store.CursorPage, error)
	ListProducts(ctx context.Context, page, pageSize int) (*store.OffsetPage, error)
}

type NotificationInbox interface {
	ListNotifications(ctx context.Context, userID int64, unreadOnly bool) (*store.Inbox, error)
	MarkNotificationRead(ctx context.Context, id, userID int64) error
	MarkAllNotificationsRead(ctx context.Context, userID int64) (int64, error)
}

// UserDirectory resolves identities for login and profile routes.
type UserDirectory interface {
	FindUserByEmail(ctx context.Context, email string) (*models.User, string, error)
	UserCredentials(ctx context.Context, id int64) (*models.User, string, error)
	SetPasswordHash(ctx context.Context, id int64, hash string) error
}

// Catalog holds the admin-maintained reference data.
type Catalog interface {
	CreateClinic(ctx context.Context, name, email, contactName string) (*models.Clinic, error)
	CreateProduct(ctx context.Context, name string, basePrice decimal.Decimal, defaultMaterial string, estimatedDays int) (*models.Product, error)
	SetProductActive(ctx context.Context, id int64, active bool) error
}

// Pinger reports database health. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Services are the dependencies the handlers call into. *store.Store
// satisfies every interface but OrderEngine.
type Services struct {
	Engine        OrderEngine
	Orders        OrderReader
	Notifications NotificationInbox
	Users         UserDirectory
	Catalog       Catalog
	DB            Pinger
}

// TokenConfig controls how bearer tokens are signed and how long issued
// tokens live.
type TokenConfig struct {
	Secret []byte
	TTL    time.Duration
}

type Handler struct {
	engine        OrderEngine
	orders        OrderReader
	notifications NotificationInbox
	users         UserDirectory
	catalog       Catalog
	db            Pinger
	tokens        TokenConfig
	log           logrus.FieldLogger
}

func NewHandler(svc Services, tokens TokenConfig, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		engine:        svc.Engine,
		orders:        svc.Orders,
		notifications: svc.Notifications,
		users:         svc.Users,
		catalog:       svc.Catalog,
		db:            svc.DB,
		tokens:        tokens,
		log:           logger,
	}
}

// NewRouter mounts every route under /api. Everything but the health check
// and login requires a bearer token.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)

	staff := RequireRole(models.UserAdmin, models.UserTechnician)
	admin := RequireRole(models.UserAdmin)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.health)
		r.Post("/auth/login", h.login)

		r.Group(func(r chi.Router) {
			r.Use(Authenticate(h.tokens.Secret))

			r.Get("/auth/me", h.me)
			r.Patch("/auth/password", h.changePassword)

			r.Route("/productos", func(r chi.Router) {
				r.Get("/", h.listProducts)
				r.With(admin).Post("/", h.createProduct)
				r.With(admin).Patch("/{id}/activo", h.setProductActive)
			})
			r.With(staff).Post("/clinicas", h.createClinic)

			r.Route("/pedidos", func(r chi.Router) {
				r.Get("/", h.listOrders)
				r.Post("/", h.createOrder)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.getOrder)
					r.With(staff).Patch("/estado", h.transition)
					r.With(staff).Post("/retroceso", h.rollback)
					r.With(staff).Patch("/fecha-entrega", h.updateDeliveryDate)
					r.With(staff).Post("/aprobacion", h.submitApproval)
					r.With(RequireRole(models.UserAdmin, models.UserClient)).
						Patch("/aprobacion/{aprobacionId}", h.respondApproval)
				})
			})

			r.Route("/notificaciones", func(r chi.Router) {
				r.Get("/", h.listNotifications)
				r.Patch("/leer-todas", h.markAllRead)
				r.Patch("/{id}/leer", h.markRead)
			})
		})
	})

	return r
}

func requestLogger(logger logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			logger.WithFields(logrus.Fields{
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"duration":   time.Since(start).String(),
			}).Info("request")
		})
	}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.PingContext(r.Context()); err != nil {
			h.log.WithError(err).Warn("health check failed")
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
