package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sourcegraph/conc"

	chatservice "github.com/zhouzirui/keychat/backend/internal/service/chat"
)

const (
	defaultReadTimeout  = 60 * time.Second
	defaultPingInterval = 54 * time.Second
	writeTimeout        = 10 * time.Second
)

// Handler WebSocket 聊天处理器，与 REST 接口共享同一个会话。
type Handler struct {
	chatSvc  *chatservice.Service
	upgrader websocket.Upgrader

	// pingInterval must stay below readTimeout so pongs keep the read
	// deadline moving while a prompt is in flight.
	readTimeout  time.Duration
	pingInterval time.Duration
}

// New 创建WebSocket处理器
func New(chatSvc *chatservice.Service) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		readTimeout:  defaultReadTimeout,
		pingInterval: defaultPingInterval,
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

// PromptMessage 用户输入
type PromptMessage struct {
	Text string `json:"text"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// connection serialises writes; gorilla allows one concurrent writer.
type connection struct {
	conn      *websocket.Conn
	sessionID string
	mu        sync.Mutex
}

func (c *connection) send(msgType string, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	msg := outgoingMessage{
		Type:      msgType,
		SessionID: c.sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		log.Printf("[ws] write %s failed session=%s: %v", msgType, c.sessionID, err)
	}
}

func (c *connection) sendError(message string) {
	c.send("error", map[string]string{"message": message})
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, "sessionID is required", http.StatusBadRequest)
		return
	}

	session, err := h.chatSvc.GetSession(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("[ws] new connection for session: %s", sessionID)

	// Prompts run off the read loop; wait for them after cancelling so
	// nothing writes to a closed connection.
	var prompts conc.WaitGroup
	defer prompts.Wait()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	})

	go pingLoop(ctx, conn, h.pingInterval)

	c := &connection{conn: conn, sessionID: sessionID}
	c.send("connected", map[string]any{
		"provider": session.Provider,
		"model":    session.Model,
	})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ws] read error: %v", err)
			}
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(h.readTimeout))

		if msg.SessionID != "" && msg.SessionID != sessionID {
			c.sendError("session mismatch")
			continue
		}

		h.handleMessage(ctx, c, &prompts, &msg)
	}
}

func (h *Handler) handleMessage(ctx context.Context, c *connection, prompts *conc.WaitGroup, msg *inboundMessage) {
	switch msg.Type {
	case "prompt":
		raw := msg.Data
		prompts.Go(func() {
			h.handlePrompt(ctx, c, raw)
		})
	case "ping":
		c.send("pong", nil)
	default:
		c.sendError("unsupported message type: " + msg.Type)
	}
}

// handlePrompt runs one exchange. The loading events bracket the model call
// so the page can disable its input for exactly that long. A prompt rejected
// because another is in flight leaves the loading state to that call.
func (h *Handler) handlePrompt(ctx context.Context, c *connection, raw json.RawMessage) {
	var prompt PromptMessage
	if err := json.Unmarshal(raw, &prompt); err != nil {
		c.sendError("invalid prompt payload")
		return
	}
	if strings.TrimSpace(prompt.Text) == "" {
		return
	}

	c.send("loading", map[string]bool{"loading": true})
	exchange, err := h.chatSvc.Send(ctx, c.sessionID, prompt.Text)
	if err != nil {
		switch {
		case errors.Is(err, chatservice.ErrRequestInFlight):
			c.sendError(err.Error())
		case errors.Is(err, chatservice.ErrSessionNotFound):
			c.send("loading", map[string]bool{"loading": false})
			c.sendError("session not found")
		default:
			c.send("loading", map[string]bool{"loading": false})
			c.sendError(err.Error())
		}
		return
	}

	c.send("message", exchange.User)
	c.send("message", exchange.Bot)
	c.send("loading", map[string]bool{"loading": false})
}

// pingLoop 定期发送ping消息
func pingLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
