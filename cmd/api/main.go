package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sourcegraph/conc"

	"github.com/zhouzirui/keychat/backend/internal/config"
	"github.com/zhouzirui/keychat/backend/internal/handler"
	"github.com/zhouzirui/keychat/backend/internal/service/ai"
	"github.com/zhouzirui/keychat/backend/internal/service/chat"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	provider, err := ai.NewProvider(cfg.AI)
	if err != nil {
		log.Fatalf("failed to select ai provider: %v", err)
	}
	aiService := ai.NewService(provider, cfg.AI)
	log.Printf("AI provider %s ready, model=%s, credential validation=%t", provider.Name(), provider.Model(), cfg.AI.ValidateCredential)

	chatService := chat.NewService(func(ctx context.Context, apiKey string) (chat.Conversation, error) {
		conversation, err := aiService.StartConversation(ctx, apiKey)
		if err != nil {
			return nil, err
		}
		return conversation, nil
	}, chat.Options{
		Provider:    aiService.ProviderName(),
		Model:       aiService.ModelName(),
		IdleTimeout: cfg.Session.IdleTimeout,
	})

	router := handler.NewRouter(cfg, handler.ModelInfo{
		Provider: aiService.ProviderName(),
		Model:    aiService.ModelName(),
	}, chatService)

	var wg conc.WaitGroup
	wg.Go(func() {
		chatService.RunSweeper(ctx, cfg.Session.SweepInterval)
	})
	wg.Go(func() {
		startServer(ctx, cfg.Server, router)
		stop()
	})
	wg.Wait()
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("KeyChat listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
