package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/keychat/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/keychat/backend/internal/service/chat"
)

type stubConversation struct {
	err error
}

func (s stubConversation) Send(_ context.Context, prompt string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "echo: " + prompt, nil
}

type received struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type slowConversation struct {
	delay time.Duration
}

func (s slowConversation) Send(ctx context.Context, prompt string) (string, error) {
	select {
	case <-time.After(s.delay):
		return "slow: " + prompt, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func setup(t *testing.T, conv chatservice.Conversation, configure ...func(*Handler)) (*websocket.Conn, *chatservice.Service, string) {
	t.Helper()

	start := func(context.Context, string) (chatservice.Conversation, error) { return conv, nil }
	chatSvc := chatservice.NewService(start, chatservice.Options{Provider: "gemini", Model: "gemini-2.0-flash", IdleTimeout: time.Minute})
	session, err := chatSvc.Start(context.Background(), chatservice.StartRequest{APIKey: "key"})
	if err != nil {
		t.Fatalf("Start err: %v", err)
	}

	h := New(chatSvc)
	for _, fn := range configure {
		fn(h)
	}

	r := chi.NewRouter()
	h.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + session.ID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial err: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	first := read(t, conn)
	if first.Type != "connected" {
		t.Fatalf("expected connected, got %s", first.Type)
	}
	return conn, chatSvc, session.ID
}

func read(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg received
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read err: %v", err)
	}
	return msg
}

func sendPrompt(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	payload := map[string]any{"type": "prompt", "data": map[string]string{"text": text}}
	if err := conn.WriteJSON(payload); err != nil {
		t.Fatalf("write err: %v", err)
	}
}

func TestPromptProducesLoadingBracketedExchange(t *testing.T) {
	conn, chatSvc, sessionID := setup(t, stubConversation{})

	sendPrompt(t, conn, "hello")

	wantTypes := []string{"loading", "message", "message", "loading"}
	var got []received
	for range wantTypes {
		got = append(got, read(t, conn))
	}
	for i, want := range wantTypes {
		if got[i].Type != want {
			t.Fatalf("event %d: expected %s, got %s", i, want, got[i].Type)
		}
	}

	var loading map[string]bool
	_ = json.Unmarshal(got[0].Data, &loading)
	if !loading["loading"] {
		t.Fatal("first loading event should switch loading on")
	}
	_ = json.Unmarshal(got[3].Data, &loading)
	if loading["loading"] {
		t.Fatal("last loading event should switch loading off")
	}

	var user, bot chat.Message
	_ = json.Unmarshal(got[1].Data, &user)
	_ = json.Unmarshal(got[2].Data, &bot)
	if user.Role != chat.RoleUser || bot.Role != chat.RoleBot || bot.Text != "echo: hello" {
		t.Fatalf("unexpected exchange: %+v / %+v", user, bot)
	}

	transcript, _ := chatSvc.LoadTranscript(context.Background(), sessionID)
	if len(transcript) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(transcript))
	}
}

func TestPromptFailureSendsApology(t *testing.T) {
	conn, _, _ := setup(t, stubConversation{err: errors.New("boom")})

	sendPrompt(t, conn, "hello")

	read(t, conn) // loading on
	read(t, conn) // user entry
	botEvent := read(t, conn)

	var bot chat.Message
	_ = json.Unmarshal(botEvent.Data, &bot)
	if bot.Text != chat.Apology {
		t.Fatalf("expected apology, got %q", bot.Text)
	}
}

func TestConnectionSurvivesReplySlowerThanReadTimeout(t *testing.T) {
	conn, _, _ := setup(t, slowConversation{delay: 600 * time.Millisecond}, func(h *Handler) {
		h.readTimeout = 200 * time.Millisecond
		h.pingInterval = 50 * time.Millisecond
	})

	sendPrompt(t, conn, "first")
	for _, want := range []string{"loading", "message", "message", "loading"} {
		if msg := read(t, conn); msg.Type != want {
			t.Fatalf("expected %s, got %s", want, msg.Type)
		}
	}

	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("write after slow reply: %v", err)
	}
	if msg := read(t, conn); msg.Type != "pong" {
		t.Fatalf("expected pong, got %s", msg.Type)
	}
}

func TestOverlappingPromptGetsErrorWithoutLoadingOff(t *testing.T) {
	conn, chatSvc, sessionID := setup(t, slowConversation{delay: 300 * time.Millisecond})

	sendPrompt(t, conn, "first")
	if msg := read(t, conn); msg.Type != "loading" {
		t.Fatalf("expected loading, got %s", msg.Type)
	}
	time.Sleep(50 * time.Millisecond)
	sendPrompt(t, conn, "second")

	var types []string
	for len(types) < 5 {
		types = append(types, read(t, conn).Type)
	}

	errorEvents, loadingEvents := 0, 0
	for _, typ := range types {
		switch typ {
		case "error":
			errorEvents++
		case "loading":
			loadingEvents++
		}
	}
	// second prompt: loading on + error; first prompt: two messages + loading off
	if errorEvents != 1 || loadingEvents != 2 {
		t.Fatalf("unexpected event sequence: %v", types)
	}
	if types[len(types)-1] != "loading" {
		t.Fatalf("the last event should end the first prompt's loading state, got %v", types)
	}

	transcript, _ := chatSvc.LoadTranscript(context.Background(), sessionID)
	if len(transcript) != 2 {
		t.Fatalf("rejected prompt must not add entries, got %d", len(transcript))
	}
}

func TestEmptyPromptIgnored(t *testing.T) {
	conn, chatSvc, sessionID := setup(t, stubConversation{})

	sendPrompt(t, conn, "   ")
	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("write err: %v", err)
	}

	if msg := read(t, conn); msg.Type != "pong" {
		t.Fatalf("empty prompt should produce no events, got %s", msg.Type)
	}

	transcript, _ := chatSvc.LoadTranscript(context.Background(), sessionID)
	if len(transcript) != 0 {
		t.Fatalf("expected empty transcript, got %d", len(transcript))
	}
}

func TestUnknownSessionRejected(t *testing.T) {
	start := func(context.Context, string) (chatservice.Conversation, error) { return stubConversation{}, nil }
	chatSvc := chatservice.NewService(start, chatservice.Options{IdleTimeout: time.Minute})

	r := chi.NewRouter()
	New(chatSvc).RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/ws/missing", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}
