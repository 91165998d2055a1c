package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/pantry-score/internal/metrics"
	custommiddleware "github.com/mmeshcher/pantry-score/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/user", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)
		if h.rateLimiter != nil {
			r.Use(h.rateLimiter.Middleware)
		}

		r.Post("/products", h.CreateProduct)
		r.Get("/products", h.GetProducts)
		r.Patch("/products/{id}/status", h.UpdateStatus)
		r.Delete("/products/{id}", h.DeleteProduct)

		r.Get("/score", h.GetScore)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
