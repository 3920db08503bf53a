package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/ise-evaluator/internal/handler/evaluation"
	"github.com/zhouzirui/ise-evaluator/pkg/utils"
)

// NewRouter wires HTTP routes to the evaluation service. svc may be nil
// when credentials are missing; the evaluation routes then answer 503.
func NewRouter(svc evaluation.EvaluationService) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		evaluation.New(svc).RegisterRoutes(api)
	})

	return r
}
