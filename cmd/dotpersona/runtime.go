package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/dotsetgreg/dotpersona/pkg/bus"
	"github.com/dotsetgreg/dotpersona/pkg/channels"
	"github.com/dotsetgreg/dotpersona/pkg/config"
	"github.com/dotsetgreg/dotpersona/pkg/engine"
	"github.com/dotsetgreg/dotpersona/pkg/gateway"
	"github.com/dotsetgreg/dotpersona/pkg/generation"
	"github.com/dotsetgreg/dotpersona/pkg/logger"
	"github.com/dotsetgreg/dotpersona/pkg/maintenance"
	"github.com/dotsetgreg/dotpersona/pkg/memory"
	"github.com/dotsetgreg/dotpersona/pkg/metrics"
)

func loadConfig(path string, debug bool) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	if debug {
		logger.SetLevel(logger.DEBUG)
	}
	return cfg, nil
}

func engineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		StoreTimeout:    cfg.StoreTimeout(),
		MaxMessageChars: cfg.Gateway.MaxMessageChars,
		ExtractionQueue: cfg.Extraction.QueueSize,
		Seed:            cfg.Persona.Seed,
		Retrieval: memory.RetrievalOptions{
			Weights:    memory.RankWeights(cfg.Scoring.Ranker),
			MaxResults: cfg.Scoring.MaxResults,
		},
		Selector: generation.SelectorWeights(cfg.Scoring.Selector),
		Metrics:  metrics.Default(),
	}
}

// openService opens the store named by cfg and wraps it in a turn service.
// Closing the service closes the store.
func openService(cfg *config.Config) (*engine.Service, error) {
	store, err := memory.NewSQLiteStore(cfg.StorePath())
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.StorePath(), err)
	}
	return engine.NewService(store, engineConfig(cfg)), nil
}

type chatSession struct {
	svc     *engine.Service
	persona string
	userID  string
	chatID  string
	verbose bool
	out     io.Writer
}

func (s *chatSession) say(ctx context.Context, input string) error {
	reply, err := s.svc.Chat(ctx, engine.Request{Message: input, UserID: s.userID, ChatID: s.chatID})
	if err != nil {
		fmt.Fprintf(s.out, "\n%s: %s\n\n", s.persona, gateway.ReplyFor(err))
		return err
	}
	fmt.Fprintf(s.out, "\n%s: %s\n\n", s.persona, reply.Response)
	if s.verbose {
		data, err := json.MarshalIndent(reply.Metadata, "", "  ")
		if err == nil {
			fmt.Fprintf(s.out, "%s\n\n", data)
		}
	}
	return nil
}

func (s *chatSession) interactive() {
	prompt := "You: "

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     filepath.Join(os.TempDir(), ".dotpersona_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(s.out, "Error initializing readline: %v\n", err)
		fmt.Fprintln(s.out, "Falling back to simple input mode...")
		s.simple(os.Stdin)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Fprintln(s.out, "\nGoodbye!")
				return
			}
			fmt.Fprintf(s.out, "Error reading input: %v\n", err)
			continue
		}
		if !s.handleLine(line) {
			return
		}
	}
}

func (s *chatSession) simple(in io.Reader) {
	reader := bufio.NewReader(in)
	for {
		fmt.Fprint(s.out, "You: ")
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(s.out, "\nGoodbye!")
				return
			}
			fmt.Fprintf(s.out, "Error reading input: %v\n", err)
			continue
		}
		if !s.handleLine(line) {
			return
		}
	}
}

// handleLine runs one REPL line and reports whether to keep reading.
func (s *chatSession) handleLine(line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return true
	}
	if input == "exit" || input == "quit" {
		fmt.Fprintln(s.out, "Goodbye!")
		return false
	}
	if err := s.say(context.Background(), input); err != nil && !engine.IsValidation(err) {
		logger.ErrorCF("cli", "Chat turn failed", map[string]any{"error": err.Error()})
	}
	return true
}

func runServe(cfg *config.Config, out io.Writer) error {
	svc, err := openService(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	store := svc.Store()
	server := gateway.NewServer(cfg.GatewayAddr(), svc, func(ctx context.Context) error {
		_, err := store.CountConversations(ctx)
		return err
	})

	msgBus := bus.NewMessageBus()
	defer msgBus.Close()
	msgBus.OnDrop(func(d bus.Direction) {
		metrics.Default().RecordBusDropped(string(d))
	})

	channelManager, err := channels.NewManager(cfg, msgBus)
	if err != nil {
		return fmt.Errorf("create channel manager: %w", err)
	}

	var scheduler *maintenance.Scheduler
	if cfg.Maintenance.Enabled {
		scheduler, err = maintenance.NewScheduler(cfg.Maintenance.Cron, store, metrics.Default())
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := server.Start(); err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Gateway listening on http://%s (POST /api/chat, /health, /ready, /metrics)\n", cfg.GatewayAddr())

	if err := channelManager.StartAll(ctx); err != nil {
		server.Stop(context.Background())
		return fmt.Errorf("start channels: %w", err)
	}
	if enabled := channelManager.GetEnabledChannels(); len(enabled) > 0 {
		fmt.Fprintf(out, "✓ Channels enabled: %s\n", strings.Join(enabled, ", "))
	}

	dispatchDone := make(chan error, 1)
	go func() { dispatchDone <- gateway.NewDispatcher(msgBus, svc).Run(ctx) }()

	if scheduler != nil {
		scheduler.Start()
		if next, err := scheduler.Next(time.Now()); err == nil {
			fmt.Fprintf(out, "✓ Maintenance scheduled (%s), next run %s\n", cfg.Maintenance.Cron, next.Format(time.RFC3339))
		}
	}

	logger.InfoCF("cli", "Persona gateway started", map[string]any{
		"persona": cfg.Persona.Name,
		"addr":    cfg.GatewayAddr(),
		"store":   cfg.StorePath(),
	})
	fmt.Fprintln(out, "Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	<-sigChan

	fmt.Fprintln(out, "\nShutting down...")
	cancel()
	<-dispatchDone
	server.Stop(context.Background())
	if scheduler != nil {
		scheduler.Stop()
	}
	if err := channelManager.StopAll(context.Background()); err != nil {
		logger.WarnCF("cli", "Channel shutdown error", map[string]any{"error": err.Error()})
	}
	fmt.Fprintln(out, "✓ Gateway stopped")
	return nil
}
