package web

import (
	"embed"
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"
)

//go:embed static
var assets embed.FS

// Handler serves the chat page bundled into the binary.
type Handler struct {
	static fs.FS
}

// New 创建静态页面处理器
func New() *Handler {
	sub, err := fs.Sub(assets, "static")
	if err != nil {
		// embed paths are fixed at build time
		panic(err)
	}
	return &Handler{static: sub}
}

// RegisterRoutes 注册页面路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	files := http.FileServer(http.FS(h.static))
	r.Get("/", h.handleIndex)
	r.Handle("/static/*", http.StripPrefix("/static/", files))
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	page, err := fs.ReadFile(h.static, "index.html")
	if err != nil {
		http.Error(w, "page unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(page)
}
