package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/zhouzirui/keychat/backend/internal/config"
	chatService "github.com/zhouzirui/keychat/backend/internal/service/chat"
)

type stubConversation struct{}

func (stubConversation) Send(_ context.Context, prompt string) (string, error) {
	return "ok", nil
}

func newTestRouter(burst int) http.Handler {
	cfg := &config.Config{
		Server:  config.ServerConfig{AllowedOrigin: "*"},
		Session: config.SessionConfig{StartRate: 0.001, StartBurst: burst, IdleTimeout: time.Minute},
	}
	start := func(context.Context, string) (chatService.Conversation, error) { return stubConversation{}, nil }
	chatSvc := chatService.NewService(start, chatService.Options{IdleTimeout: time.Minute})
	return NewRouter(cfg, ModelInfo{Provider: "gemini", Model: "gemini-2.0-flash"}, chatSvc)
}

func TestConfigEndpoint(t *testing.T) {
	r := newTestRouter(1)

	req := httptest.NewRequest(http.MethodGet, "/api/config", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var info ModelInfo
	if err := json.Unmarshal(resp.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Provider != "gemini" || info.Model != "gemini-2.0-flash" {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestHealthz(t *testing.T) {
	r := newTestRouter(1)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestSessionStartIsRateLimited(t *testing.T) {
	r := newTestRouter(2)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		body, _ := json.Marshal(map[string]string{"apiKey": "key"})
		req := httptest.NewRequest(http.MethodPost, "/api/session", bytes.NewReader(body))
		req.RemoteAddr = "198.51.100.4:4000"
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)
		codes = append(codes, resp.Code)
	}

	if codes[0] != http.StatusCreated || codes[1] != http.StatusCreated || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence: %v", codes)
	}
}

func TestIndexServed(t *testing.T) {
	r := newTestRouter(1)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	r := newTestRouter(1)

	req := httptest.NewRequest(http.MethodOptions, "/session", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	if origin := resp.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Fatalf("unexpected allow origin: %q", origin)
	}
}
