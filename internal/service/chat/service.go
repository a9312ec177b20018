package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/keychat/backend/internal/model/chat"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrEmptyPrompt     = errors.New("prompt is empty")
	ErrRequestInFlight = errors.New("a request is already in flight for this session")
)

// Conversation is the remote chat handle a session forwards prompts to.
type Conversation interface {
	Send(ctx context.Context, prompt string) (string, error)
}

// StartFunc validates a credential and opens a conversation with it.
type StartFunc func(ctx context.Context, apiKey string) (Conversation, error)

// Options tunes session bookkeeping.
type Options struct {
	Provider    string
	Model       string
	IdleTimeout time.Duration
}

// StartRequest carries a credential and, when the page re-enters a key, the
// session it replaces.
type StartRequest struct {
	APIKey   string
	Replaces string
}

type session struct {
	info         chat.Session
	conversation Conversation

	mu         sync.Mutex
	transcript []chat.Message
	busy       bool
}

// Service encapsulates conversation state management.
type Service struct {
	start StartFunc
	opts  Options
	now   func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewService bootstraps the in-memory session registry.
func NewService(start StartFunc, opts Options) *Service {
	return &Service{
		start:    start,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
		sessions: make(map[string]*session),
	}
}

// Start opens a conversation for the request's credential and registers a
// session with an empty transcript. A replaced session is ended only after
// the new one exists; on failure the previous session stays usable.
func (s *Service) Start(ctx context.Context, req StartRequest) (chat.Session, error) {
	conversation, err := s.start(ctx, req.APIKey)
	if err != nil {
		return chat.Session{}, err
	}

	now := s.now()
	sess := &session{
		info: chat.Session{
			ID:           uuid.NewString(),
			Provider:     s.opts.Provider,
			Model:        s.opts.Model,
			KeyHint:      chat.MaskKey(req.APIKey),
			CreatedAt:    now,
			LastActiveAt: now,
		},
		conversation: conversation,
		transcript:   make([]chat.Message, 0, 16),
	}

	s.mu.Lock()
	s.sessions[sess.info.ID] = sess
	if req.Replaces != "" && req.Replaces != sess.info.ID {
		if _, ok := s.sessions[req.Replaces]; ok {
			delete(s.sessions, req.Replaces)
			log.Printf("[chat] session=%s replaced by session=%s", req.Replaces, sess.info.ID)
		}
	}
	s.mu.Unlock()

	log.Printf("[chat] session=%s started provider=%s model=%s", sess.info.ID, sess.info.Provider, sess.info.Model)
	return sess.info, nil
}

// Send appends the user entry, forwards the prompt and appends the reply.
// A failed model call is not returned as an error: the exchange carries the
// fixed apology instead and the session stays usable.
func (s *Service) Send(ctx context.Context, sessionID, prompt string) (chat.Exchange, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return chat.Exchange{}, ErrEmptyPrompt
	}

	sess, err := s.lookup(sessionID)
	if err != nil {
		return chat.Exchange{}, err
	}

	sess.mu.Lock()
	if sess.busy {
		sess.mu.Unlock()
		return chat.Exchange{}, ErrRequestInFlight
	}
	sess.busy = true
	userMsg := s.appendLocked(sess, chat.RoleUser, prompt)
	sess.mu.Unlock()

	defer func() {
		sess.mu.Lock()
		sess.busy = false
		sess.mu.Unlock()
	}()

	reply, sendErr := sess.conversation.Send(ctx, prompt)

	sess.mu.Lock()
	defer sess.mu.Unlock()

	exchange := chat.Exchange{User: userMsg}
	if sendErr != nil {
		log.Printf("[chat] session=%s send failed: %v", sessionID, sendErr)
		exchange.Bot = s.appendLocked(sess, chat.RoleBot, chat.Apology)
		exchange.Failed = true
		return exchange, nil
	}

	exchange.Bot = s.appendLocked(sess, chat.RoleBot, reply)
	return exchange, nil
}

func (s *Service) appendLocked(sess *session, role chat.Role, text string) chat.Message {
	msg := chat.Message{
		ID:        uuid.NewString(),
		SessionID: sess.info.ID,
		Role:      role,
		Text:      text,
		CreatedAt: s.now(),
	}
	sess.transcript = append(sess.transcript, msg)
	sess.info.LastActiveAt = msg.CreatedAt
	return msg
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return chat.Session{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.info, nil
}

// Busy reports whether a model call is in flight for the session.
func (s *Service) Busy(sessionID string) (bool, error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return false, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.busy, nil
}

// LoadTranscript returns stored messages for the provided session.
func (s *Service) LoadTranscript(_ context.Context, sessionID string) ([]chat.Message, error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	copied := make([]chat.Message, len(sess.transcript))
	copy(copied, sess.transcript)
	return copied, nil
}

// End discards the session and its transcript.
func (s *Service) End(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	log.Printf("[chat] session=%s ended", sessionID)
	return nil
}

// Len reports how many sessions are live.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep ends sessions idle for longer than the configured timeout and
// returns how many were removed. Sessions with a call in flight are kept.
func (s *Service) Sweep(now time.Time) int {
	if s.opts.IdleTimeout <= 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		sess.mu.Lock()
		expired := !sess.busy && now.Sub(sess.info.LastActiveAt) > s.opts.IdleTimeout
		sess.mu.Unlock()
		if expired {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// RunSweeper calls Sweep on every tick until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			if n := s.Sweep(t.UTC()); n > 0 {
				log.Printf("[chat] expired %d idle sessions", n)
			}
		}
	}
}

func (s *Service) lookup(sessionID string) (*session, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return sess, nil
}
