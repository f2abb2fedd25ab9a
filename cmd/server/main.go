package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/blackmichael/splatshare/internal/config"
	"github.com/blackmichael/splatshare/internal/domain"
	"github.com/blackmichael/splatshare/internal/httpserver"
	"github.com/blackmichael/splatshare/internal/localstore"
	"github.com/blackmichael/splatshare/internal/postcache"
	"github.com/blackmichael/splatshare/internal/remote"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	store, err := localstore.Open(cfg.StorePath)
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	defer store.Close()
	logger.Info("opened local store", "path", cfg.StorePath)

	cache, err := postcache.New(cfg.CacheCapacity)
	if err != nil {
		return fmt.Errorf("create post cache: %w", err)
	}

	client := remote.NewClient(cfg.APIURL, func(ctx context.Context) (string, error) {
		token, _, err := store.GetAuthToken(ctx)
		return token, err
	})

	posts := domain.NewPostService(client, store, cache, logger,
		domain.WithMutationTimeout(cfg.MutationTimeout),
		domain.WithMutationHook(func(res domain.MutationResult) {
			logger.Debug("mutation settled",
				"action", string(res.Action),
				"post_id", res.PostID,
				"outcome", string(res.Outcome),
			)
		}),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	server := httpserver.NewServer(cfg, posts, cache, logger)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server exited with error", "error", err)
		}
	}()

	logger.Info("server started", "port", cfg.Port, "api_url", cfg.APIURL)

	// Wait for shutdown signal
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.MutationTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("error shutting down http server", "error", err)
	}

	// Let pending like/comment confirmations reach the remote before the
	// store closes.
	posts.Wait()

	return nil
}
