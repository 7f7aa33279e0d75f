package main

import (
	"chat-core/ai"
	"chat-core/contract"
	"chat-core/internal"
	"chat-core/moderation"
	"chat-core/repositories"
	"chat-core/runtime"
	"chat-core/runtime/workers"
	"chat-core/services"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until the user quits or the
// process is interrupted. Returning instead of exiting keeps the deferred
// cleanup (sessions, stores, database) in order.
func run() error {
	// 1. Configuration & Logger
	flags := parseFlags()
	config, err := internal.Load()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Stores
	registry := runtime.NewRegistry()
	messageRepository, err := repositories.NewMessageRepository(db, log, registry, config.HistoryPageSize)
	if err != nil {
		return fmt.Errorf("message repository failed: %w", err)
	}
	defer func() { _ = messageRepository.Close() }()

	typingStore, closeTyping, err := newTypingStore(ctx, config, db, log, registry)
	if err != nil {
		return err
	}
	defer closeTyping()

	// 5. Outbound filter & suggestions
	filter, err := newFilter(config, log)
	if err != nil {
		return err
	}
	suggester, err := ai.NewTemplateSuggester(config.ReplyTemplate)
	if err != nil {
		return fmt.Errorf("reply template: %w", err)
	}

	svc := services.NewChatService(log, messageRepository, messageRepository, typingStore, filter, suggester, services.SessionConfig{
		Foreground:      true,
		TypingDebounce:  config.TypingDebounce,
		WriteTimeout:    config.WriteTimeout,
		RestartInterval: config.RestartInterval,
	})

	// 6. Counterparty auto-responder under supervision
	sup := workers.NewSupervisor(log, config.RestartInterval)
	if flags.Bot {
		sup.Add(NewResponder(log, svc, flags.Peer, flags.Self, flags.Topic, flags.BotDelay).WithName("responder"))
	}
	supervised := make(chan struct{})
	go func() {
		defer close(supervised)
		sup.Run(ctx)
	}()
	defer func() {
		sup.Stop()
		<-supervised
	}()

	// 7. Terminal session
	session, err := svc.Open(ctx, flags.Self, flags.Peer, newBellNotifier(os.Stdout))
	if err != nil {
		return fmt.Errorf("unable to open the conversation: %w", err)
	}
	defer session.Close()

	term := newTerminal(os.Stdout, svc, session, flags.Topic)
	if err := term.Run(ctx, os.Stdin); err != nil {
		return err
	}
	log.Info("Program stopped cleanly")
	return nil
}

func newTypingStore(ctx context.Context, config internal.Config, db *badger.DB, log *slog.Logger, registry *runtime.Registry) (contract.ITypingStore, func(), error) {
	if config.TypingBackend == internal.TypingBackendRedis {
		store, err := repositories.NewRedisTypingRepository(ctx, config.RedisAddr, config.RedisPassword, config.RedisDB, log, config.TypingTTL)
		if err != nil {
			return nil, nil, fmt.Errorf("redis typing store failed: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	}
	return repositories.NewTypingRepository(db, log, registry, config.TypingTTL), func() {}, nil
}

// newFilter returns nil when no word list is configured.
func newFilter(config internal.Config, log *slog.Logger) (contract.TextFilter, error) {
	if config.ModerationDir == "" {
		return nil, nil
	}
	data, err := runtime.NewCensoredLoader(os.DirFS(config.ModerationDir)).LoadAll(".")
	if err != nil {
		return nil, fmt.Errorf("unable to load censored words: %w", err)
	}
	replacement, err := config.CharacterRune()
	if err != nil {
		return nil, err
	}
	moderator, err := moderation.NewModerator(data.Words, replacement, log)
	if err != nil {
		return nil, err
	}
	log.Info("Moderation enabled", "languages", data.Languages, "words", len(data.Words))
	return moderator, nil
}
