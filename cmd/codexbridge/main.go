package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"codexbridge/chat"
	"codexbridge/codex"
	"codexbridge/config"
)

func main() {
	backendFlag := flag.String("backend", "", "Backend command override (e.g. 'codex')")
	chatURLFlag := flag.String("chat-url", "", "Chat API base URL override")
	verboseFlag := flag.Bool("v", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verboseFlag {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %+v\n", err)
		os.Exit(1)
	}
	if *backendFlag != "" {
		cfg.Backend.Command = *backendFlag
		cfg.Backend.Args = nil
	}
	if *chatURLFlag != "" {
		cfg.Chat.BaseURL = *chatURLFlag
	}
	if cfg.Chat.BaseURL == "" {
		fmt.Fprintln(os.Stderr, "chat.base_url must be configured (or pass -chat-url)")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("bridge terminated", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	messenger := chat.NewSender(cfg.Chat.BaseURL, cfg.Chat.Token)
	poller := chat.NewLongPoller(cfg.Chat.BaseURL, cfg.Chat.Token, cfg.Chat.PollTimeout.Std())
	allowlist := chat.Allowlist(cfg.Chat.AllowedSenders)

	bridge := codex.New(cfg, messenger, logger)
	defer bridge.Close()

	if err := bridge.Start(ctx); err != nil {
		return err
	}

	fatal, unsubscribe := bridge.Subscribe()
	defer unsubscribe()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case fe := <-fatal:
			return fe
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	g.Go(func() error {
		for {
			msgs, err := poller.Poll(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Warn("inbox poll failed", "error", err)
				continue
			}
			for _, msg := range msgs {
				if !allowlist.Allowed(msg.Sender) {
					logger.Info("ignoring message from unlisted sender", "sender", msg.Sender, "chat", msg.ChatID)
					continue
				}
				bridge.Enqueue(ctx, msg)
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		logger.Info("shutting down")
		return nil
	}
	return err
}
