// Scheduler Daemon - the multi-agent scheduling negotiation service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quantumlife/scheduler/internal/api"
	"github.com/quantumlife/scheduler/internal/approval"
	"github.com/quantumlife/scheduler/internal/availability"
	"github.com/quantumlife/scheduler/internal/calendar"
	"github.com/quantumlife/scheduler/internal/config"
	"github.com/quantumlife/scheduler/internal/eventbus"
	"github.com/quantumlife/scheduler/internal/intent"
	"github.com/quantumlife/scheduler/internal/llm"
	"github.com/quantumlife/scheduler/internal/logging"
	"github.com/quantumlife/scheduler/internal/negotiation"
	"github.com/quantumlife/scheduler/internal/orchestrator"
	"github.com/quantumlife/scheduler/internal/storage"
)

const version = "0.1.0"

var (
	cfgPath string
	debug   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Scheduler Daemon - multi-agent scheduling negotiation service",
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to config.json (defaults to <data-dir>/config.json)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Verbose development logging")

	rootCmd.AddCommand(serveCmd(), migrateCmd(), versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			db, err := storage.Open(storage.Config{Path: filepath.Join(cfg.DataDir, "scheduler.db")})
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()
			return db.Migrate()
		},
	}
}

func serveCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP/WebSocket negotiation service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "HTTP server port (overrides config)")
	return cmd
}

func runServe(portOverride int) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if portOverride != 0 {
		cfg.Server.Port = portOverride
	}

	log, err := logging.New(logging.Config{Debug: debug})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	db, err := storage.Open(storage.Config{Path: filepath.Join(cfg.DataDir, "scheduler.db")})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	sessions := storage.NewSessionStore(db)
	messages := storage.NewMessageStore(db)
	users := storage.NewUserStore(db)
	chatlogs := storage.NewChatLogStore(db)
	events := storage.NewCalendarEventStore(db)
	credentials := storage.NewCredentialStore(db)

	oauthClient := calendar.NewOAuthClient(calendar.OAuthConfig{
		ClientID:     cfg.Calendar.ClientID,
		ClientSecret: cfg.Calendar.ClientSecret,
		RedirectURL:  cfg.Calendar.RedirectURL,
		Scopes:       calendar.DefaultOAuthConfig().Scopes,
	})
	calendarProvider := calendar.New(oauthClient, credentials, log.Named("calendar"))

	llmClient := llm.NewClient(llm.Config{
		APIKey: cfg.LLM.Anthropic.APIKey,
		Model:  cfg.LLM.Anthropic.Model,
	})
	if llmClient.IsConfigured() {
		log.Info("anthropic client configured")
	} else {
		log.Warn("ANTHROPIC_API_KEY not set; prose and intent extraction fall back to deterministic defaults")
	}

	eventStore := eventbus.NewStore(db)
	hub := eventbus.NewHub(eventStore, log.Named("eventbus"))

	avail := availability.New(calendarProvider, log.Named("availability"), nil)
	extractor := intent.New(llmClient, log.Named("intent"), nil)

	negCfg := negotiation.Config{
		MaxRounds:         cfg.Negotiation.MaxRounds,
		DeadlockThreshold: cfg.Negotiation.DeadlockThreshold,
		StepDelay:         negotiation.DefaultConfig().StepDelay,
	}
	engine := negotiation.New(sessions, messages, users, avail, llmClient, hub, log.Named("negotiation"), negCfg, nil)

	chat := orchestrator.New(extractor, avail, engine, calendarProvider, events, chatlogs, sessions, users,
		llmClient, log.Named("orchestrator"), nil)

	coordinator := approval.New(sessions, messages, chatlogs, events, calendarProvider, users, hub,
		log.Named("approval"), nil)

	server := api.New(api.Config{
		Port:         cfg.Server.Port,
		Orchestrator: chat,
		Approval:     coordinator,
		Hub:          hub,
		OAuth:        oauthClient,
		Sessions:     sessions,
		Messages:     messages,
		Users:        users,
		Credentials:  credentials,
		Log:          log.Named("api"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down")
		if err := server.Stop(context.Background()); err != nil {
			log.Error("server shutdown error", zap.Error(err))
		}
		cancel()
	}()

	log.Info("scheduler serving", zap.Int("port", cfg.Server.Port))
	if err := server.Start(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	<-ctx.Done()
	return nil
}
