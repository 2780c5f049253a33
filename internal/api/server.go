// Package api provides the HTTP API server and handlers for the Bookhaven server.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/bookhaven/bookhaven-server/internal/ratelimit"
	"github.com/bookhaven/bookhaven-server/internal/service"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	catalog       *service.CatalogService
	loans         *service.LoanService
	reservations  *service.ReservationService
	notifications *service.NotificationService
	trending      *service.TrendingService
	limiter       *ratelimit.KeyedLimiter
	router        *chi.Mux
	logger        *slog.Logger
}

// NewServer creates a new HTTP server with all routes configured.
func NewServer(
	catalog *service.CatalogService,
	loans *service.LoanService,
	reservations *service.ReservationService,
	notifications *service.NotificationService,
	trending *service.TrendingService,
	limiter *ratelimit.KeyedLimiter,
	logger *slog.Logger,
) *Server {
	s := &Server{
		catalog:       catalog,
		loans:         loans,
		reservations:  reservations,
		notifications: notifications,
		trending:      trending,
		limiter:       limiter,
		router:        chi.NewRouter(),
		logger:        logger,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// setupMiddleware configures the middleware stack.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", headerUserID, headerUserRole},
		MaxAge:         300,
	}))
	s.router.Use(s.identity)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	// Health check.
	s.router.Get("/health", s.handleHealthCheck)

	// API v1.
	s.router.Route("/api/v1", func(r chi.Router) {
		// Titles (catalog + queue views).
		r.Route("/titles", func(r chi.Router) {
			r.Get("/", s.handleListTitles)
			r.Get("/trending", s.handleTrending)
			r.Get("/{id}", s.handleGetTitle)
			r.Get("/{id}/queue", s.handleQueueStats)

			r.Group(func(r chi.Router) {
				r.Use(s.requireUser)
				r.Get("/{id}/position", s.handleQueuePosition)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requireStaff)
				r.Post("/", s.handleCreateTitle)
				r.Patch("/{id}", s.handleUpdateTitle)
				r.Patch("/{id}/active", s.handleSetTitleActive)
			})
		})

		// Loans.
		r.Route("/loans", func(r chi.Router) {
			r.Use(s.requireUser)
			r.With(s.writeLimit).Post("/", s.handleBorrow)
			r.Get("/", s.handleListLoans)
			r.Get("/{id}", s.handleGetLoan)
			r.Post("/{id}/return", s.handleReturnLoan)
			r.With(s.requireStaff).Post("/{id}/lost", s.handleMarkLoanLost)
		})

		// Reservations.
		r.Route("/reservations", func(r chi.Router) {
			r.Use(s.requireUser)
			r.With(s.writeLimit).Post("/", s.handleReserve)
			r.Get("/", s.handleListReservations)
			r.Get("/{id}", s.handleGetReservation)
			r.Delete("/{id}", s.handleCancelReservation)
		})

		// Notifications.
		r.Route("/notifications", func(r chi.Router) {
			r.Use(s.requireUser)
			r.Get("/", s.handleListNotifications)
			r.Get("/unread-count", s.handleUnreadCount)
			r.Post("/read-all", s.handleMarkAllRead)
			r.Post("/{id}/read", s.handleMarkRead)
		})

		// Cron (staff-triggered daily jobs; the in-process sweeper hits the
		// same service methods on its own ticker).
		r.Route("/cron", func(r chi.Router) {
			r.Use(s.requireStaff)
			r.Post("/daily", s.handleCronDaily)
			r.Post("/sweep", s.handleCronSweep)
			r.Post("/overdue", s.handleCronOverdue)
			r.Post("/remind-due", s.handleCronRemindDue)
		})
	})
}
