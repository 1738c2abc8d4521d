package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/boosthub/boosthub-system/internal/middleware"
	"github.com/boosthub/boosthub-system/internal/model"
)

// SetupRouter настраивает HTTP-маршруты и middleware буст-платформы.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api/user", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
	})

	r.Route("/api/orders", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.With(custommiddleware.RequireRoles(model.RoleCustomer)).Post("/", h.CreateOrder)
		r.Get("/", h.ListOrders)

		r.With(custommiddleware.RequireRoles(model.RoleBooster, model.RoleAdmin)).
			Get("/available", h.GetAvailableOrders)
		r.With(custommiddleware.RequireRoles(model.RoleAdmin)).
			Get("/stats", h.GetStats)

		r.Route("/{orderID}", func(r chi.Router) {
			r.Get("/", h.GetOrder)
			r.Post("/status", h.UpdateStatus)

			r.With(custommiddleware.RequireRoles(model.RoleAdmin)).
				Post("/assign", h.AssignOrder)
			r.With(custommiddleware.RequireRoles(model.RoleAdmin)).
				Delete("/", h.DeleteOrder)

			r.With(custommiddleware.RequireRoles(model.RoleCustomer)).
				Post("/review", h.CreateReview)
		})
	})

	r.Route("/api/reviews", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.With(custommiddleware.RequireRoles(model.RoleCustomer)).
			Patch("/{reviewID}", h.UpdateReview)
		r.Delete("/{reviewID}", h.DeleteReview)

		r.With(custommiddleware.RequireRoles(model.RoleAdmin)).
			Patch("/{reviewID}/visibility", h.SetReviewVisibility)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
