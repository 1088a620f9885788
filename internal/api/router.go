package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/LeventeLantos/kindergarten-notify/internal/auth"
	"github.com/LeventeLantos/kindergarten-notify/internal/metrics"
)

func Router(h *Handler, a *auth.Authenticator) http.Handler {
	r := chi.NewRouter()

	r.Get("/v1/health", h.Health)
	r.Handle("/metrics", metrics.Handler())

	r.Get("/v1/report-tokens/validate", h.ValidateReportToken)

	r.Group(func(r chi.Router) {
		r.Use(a.Middleware)

		r.Post("/v1/messages", h.EnqueueMessage)
		r.Get("/v1/messages", h.ListMessages)
		r.Get("/v1/messages/{id}", h.GetMessage)
		r.Post("/v1/messages/{id}/requeue", h.RequeueMessage)

		r.Post("/v1/report-tokens", h.MintReportToken)
		r.Post("/v1/report-tokens/revoke", h.RevokeReportToken)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RoleAdmin, auth.RoleService))

			r.Post("/v1/dispatch", h.Dispatch)

			r.Get("/v1/scheduler/status", h.SchedulerStatus)
			r.Post("/v1/scheduler/start", h.SchedulerStart)
			r.Post("/v1/scheduler/stop", h.SchedulerStop)
		})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("kindergarten-notify"))
	})

	return r
}
