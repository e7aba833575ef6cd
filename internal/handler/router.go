package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/donations-system/internal/middleware"
	"github.com/mmeshcher/donations-system/internal/model"
)

// SetupRouter настраивает HTTP-маршруты и middleware платформы пожертвований.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(chimiddleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		// Подпись проверяется по сырому телу, поэтому вебхук не проходит через gzip.
		r.Post("/stripe/webhook", h.StripeWebhook)

		r.Group(func(r chi.Router) {
			r.Use(custommiddleware.GzipMiddleware)
			r.Use(h.authMiddleware.Middleware)
			r.Use(custommiddleware.RequireRole(model.RoleUser, model.RoleAdmin))

			r.Route("/funds", func(r chi.Router) {
				r.Post("/donate/{fundId}", h.Donate)
				r.Get("/analytics/{fundId}", h.GetFundAnalytics)
				r.Get("/{fundId}", h.GetFund)

				r.Group(func(r chi.Router) {
					r.Use(custommiddleware.RequireRole(model.RoleAdmin))
					r.Post("/", h.CreateFund)
					r.Delete("/{fundId}", h.DeleteFund)
				})
			})

			r.Route("/users", func(r chi.Router) {
				r.Get("/me", h.GetMe)
				r.Patch("/balance", h.AddBalance)
				r.Post("/bank-details", h.AddBankDetails)
				r.Get("/donations", h.GetDonations)

				r.With(custommiddleware.RequireRole(model.RoleAdmin)).Post("/", h.CreateUser)
			})

			r.Post("/stripe/create-subscription-session", h.CreateSubscriptionSession)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
