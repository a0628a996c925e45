package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"relief/handlers"
	"relief/pkg/alloc"
	"relief/pkg/config"
	"relief/pkg/dispatch"
	"relief/pkg/eventlog"
	"relief/pkg/interp"
	"relief/pkg/logx"
	"relief/pkg/mailbox"
	"relief/pkg/metrics"
	"relief/pkg/persistence"
	"relief/pkg/proto"
)

const shutdownTimeout = 30 * time.Second

// Coordinator wires the pipeline together: storage, interpreter,
// dispatcher, mailbox, and the HTTP surface.
type Coordinator struct {
	config     *config.Config
	store      *persistence.Store
	dispatcher *dispatch.Dispatcher
	mailbox    *mailbox.Mailbox
	eventLog   *eventlog.Writer
	httpServer *http.Server
	logger     *logx.Logger
}

// MailboxNotifier delivers allocation notifications by appending them to
// the session's result mailbox, so the next poll picks them up. Delivery
// is at-most-once like any other mailbox entry.
type MailboxNotifier struct {
	mailbox *mailbox.Mailbox
}

func (n *MailboxNotifier) Notify(sessionRef, message string) error {
	n.mailbox.Append(sessionRef, proto.JobResult{
		RequesterID: sessionRef,
		TaskName:    "notification",
		Output:      message,
		CompletedAt: time.Now().UTC(),
	})
	return nil
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.Parse()

	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}
	if configPath == "" {
		configPath = "config/relief.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	coordinator, err := NewCoordinator(&cfg)
	if err != nil {
		log.Fatalf("Failed to create coordinator: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := coordinator.Start(ctx); err != nil {
		log.Fatalf("Failed to start coordinator: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	coordinator.logger.Info("received signal %v, initiating graceful shutdown", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := coordinator.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
		os.Exit(1)
	}
	coordinator.logger.Info("shutdown completed")
}

// NewCoordinator builds the full pipeline from config.
func NewCoordinator(cfg *config.Config) (*Coordinator, error) {
	logger := logx.NewLogger("coordinator")

	store, err := persistence.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening record store: %w", err)
	}

	eventLog, err := eventlog.NewWriter(cfg.EventDir)
	if err != nil {
		return nil, fmt.Errorf("creating event log: %w", err)
	}

	mbox := mailbox.New(cfg.Pipeline.ResultTTL)
	engine := alloc.NewEngine(store, cfg.Allocation, &MailboxNotifier{mailbox: mbox})
	recorder := metrics.NewRecorder()

	var interpreter interp.Interpreter
	switch cfg.Interpreter.Backend {
	case config.BackendGemini:
		logger.Info("using Gemini interpreter, model %s", cfg.Interpreter.Model)
		interpreter = interp.NewGemini(cfg.Interpreter.APIKey, cfg.Interpreter.Model)
	default:
		logger.Info("using offline rules interpreter")
		interpreter = interp.NewRules()
	}

	dispatcher := dispatch.New(cfg.Pipeline, interpreter, alloc.NewExecutor(engine), mbox, eventLog, recorder)

	mux := http.NewServeMux()
	handlers.NewServer(dispatcher, mbox, engine).Register(mux)

	return &Coordinator{
		config:     cfg,
		store:      store,
		dispatcher: dispatcher,
		mailbox:    mbox,
		eventLog:   eventLog,
		httpServer: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}, nil
}

// Start launches the worker, the mailbox janitor, and the HTTP listener.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("starting dispatcher: %w", err)
	}
	c.mailbox.StartJanitor(ctx)

	go func() {
		c.logger.Info("listening on %s", c.config.ListenAddr)
		if err := c.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error("http server failed: %v", err)
		}
	}()
	return nil
}

// Shutdown stops accepting HTTP traffic, drains the queue up to the
// poison task, and closes storage.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	if err := c.httpServer.Shutdown(ctx); err != nil {
		c.logger.Warn("http shutdown: %v", err)
	}
	if err := c.dispatcher.Stop(ctx); err != nil {
		return fmt.Errorf("stopping dispatcher: %w", err)
	}
	if err := c.eventLog.Close(); err != nil {
		c.logger.Warn("closing event log: %v", err)
	}
	if err := c.store.Close(); err != nil {
		return fmt.Errorf("closing record store: %w", err)
	}
	return nil
}
