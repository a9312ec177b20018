package chat

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/keychat/backend/internal/model/chat"
	"github.com/zhouzirui/keychat/backend/internal/service/ai"
	chatService "github.com/zhouzirui/keychat/backend/internal/service/chat"
	"github.com/zhouzirui/keychat/backend/pkg/utils"
)

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes 注册聊天相关的路由。startLimit 包裹凭证校验入口。
func (h *Handler) RegisterRoutes(r chi.Router, startLimit func(http.Handler) http.Handler) {
	r.With(startLimit).Post("/session", h.handleCreateSession)
	r.Route("/session/{sessionID}", func(sr chi.Router) {
		sr.Get("/", h.handleGetSession)
		sr.Delete("/", h.handleEndSession)
		sr.Get("/messages", h.handleTranscript)
		sr.Post("/messages", h.handleSendMessage)
	})
}

type sessionView struct {
	chat.Session
	Busy bool `json:"busy"`
}

// handleCreateSession 使用用户提供的凭证创建会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		APIKey   string `json:"apiKey"`
		Replaces string `json:"replaces"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.chatSvc.Start(r.Context(), chatService.StartRequest{
		APIKey:   payload.APIKey,
		Replaces: payload.Replaces,
	})
	if err != nil {
		switch {
		case errors.Is(err, ai.ErrCredentialRequired):
			utils.RespondError(w, http.StatusBadRequest, "Please enter your API key.")
		case errors.Is(err, ai.ErrCredentialRejected):
			log.Printf("[chat] credential rejected: %v", err)
			utils.RespondError(w, http.StatusUnauthorized, "Failed to initialize model. Check your API key and console for errors.")
		default:
			log.Printf("[chat] start session failed: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "failed to start session")
		}
		return
	}

	utils.RespondJSON(w, http.StatusCreated, sessionView{Session: session})
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.chatSvc.GetSession(r.Context(), sessionID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	busy, err := h.chatSvc.Busy(sessionID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, sessionView{Session: session, Busy: busy})
}

func (h *Handler) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.End(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	messages, err := h.chatSvc.LoadTranscript(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// handleSendMessage 转发用户输入并返回本轮的两条记录
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Prompt string `json:"prompt"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	exchange, err := h.chatSvc.Send(r.Context(), chi.URLParam(r, "sessionID"), payload.Prompt)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, exchange)
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatService.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, chatService.ErrEmptyPrompt):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chatService.ErrRequestInFlight):
		utils.RespondError(w, http.StatusConflict, err.Error())
	default:
		log.Printf("[chat] unexpected error: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
