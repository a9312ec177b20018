package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/keychat/backend/internal/config"
	"github.com/zhouzirui/keychat/backend/internal/handler/chat"
	"github.com/zhouzirui/keychat/backend/internal/handler/web"
	"github.com/zhouzirui/keychat/backend/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/keychat/backend/internal/middleware"
	chatService "github.com/zhouzirui/keychat/backend/internal/service/chat"
	"github.com/zhouzirui/keychat/backend/pkg/utils"
)

// ModelInfo names the hosted model the page is talking to.
type ModelInfo struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// NewRouter wires HTTP routes to core services.
func NewRouter(cfg *config.Config, info ModelInfo, chatSvc *chatService.Service) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(cfg.Server.AllowedOrigin))

	startLimiter := middlewarePkg.NewClientLimiter(cfg.Session.StartRate, cfg.Session.StartBurst)

	web.New().RegisterRoutes(r)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"sessions": chatSvc.Len(),
		})
	})

	r.Route("/api", func(api chi.Router) {
		api.Get("/config", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondJSON(w, http.StatusOK, info)
		})

		chat.New(chatSvc).RegisterRoutes(api, startLimiter.Handler)
		ws.New(chatSvc).RegisterRoutes(api)
	})

	return r
}
