package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/spf13/cobra"

	"github.com/arturoeanton/knowledge-gatekeeper/internal/adapter/ai"
	"github.com/arturoeanton/knowledge-gatekeeper/internal/adapter/auth"
	"github.com/arturoeanton/knowledge-gatekeeper/internal/adapter/corpus"
	"github.com/arturoeanton/knowledge-gatekeeper/internal/adapter/quality"
	"github.com/arturoeanton/knowledge-gatekeeper/internal/domain"
	"github.com/arturoeanton/knowledge-gatekeeper/internal/handler"
	"github.com/arturoeanton/knowledge-gatekeeper/internal/mcp"
	"github.com/arturoeanton/knowledge-gatekeeper/internal/port"
	"github.com/arturoeanton/knowledge-gatekeeper/internal/service"
	"github.com/arturoeanton/knowledge-gatekeeper/pkg/config"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().String("port", "", "HTTP port")
	cmd.Flags().String("corpus-path", "", "path of the knowledge corpus database")
	return cmd
}

func serve(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting knowledge gatekeeper",
		"port", cfg.Port,
		"database", cfg.DatabaseType,
		"corpus", cfg.CorpusPath,
		"quality_llm", cfg.QualityLLMEnabled,
		"mcp_enabled", cfg.MCPEnabled,
	)

	// ── Storage ──────────────────────────────────────────────────────────
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	kb, err := corpus.Open(cfg.CorpusPath)
	if err != nil {
		return fmt.Errorf("open corpus: %w", err)
	}
	defer kb.Close()

	// ── Quality assessment (advisory) ────────────────────────────────────
	strategies := []port.QualityStrategy{
		quality.NewFormatStrategy(),
		quality.NewSensitiveDataStrategy(),
		quality.NewCoverageStrategy(),
	}
	if cfg.QualityLLMEnabled {
		ollama := ai.NewOllamaProvider(ai.OllamaEndpointConfig{
			BaseURL: cfg.OllamaChatURL,
			Model:   cfg.OllamaChatModel,
			Token:   cfg.OllamaChatToken,
		})
		strategies = append(strategies, quality.NewExpertReviewStrategy(ollama))
	}
	engine := port.NewQualityEngine(strategies...)

	// ── Services ─────────────────────────────────────────────────────────
	auditService := service.NewAuditService(st)
	authService := service.NewAuthService(
		st, st,
		auth.NewBcryptHasher(0),
		auth.NewTOTP(cfg.TOTPIssuer, cfg.TOTPSkew),
		auditService,
		service.AuthConfig{
			Secret:          []byte(cfg.JWTSecret),
			Issuer:          cfg.JWTIssuer,
			SessionTTL:      cfg.SessionTTL,
			MaxAttempts:     cfg.MaxLoginAttempts,
			LockoutDuration: cfg.LockoutDuration,
		},
	)
	events := service.NewEventBus()
	workflowService := service.NewWorkflowService(st, kb, kb, engine, auditService, service.WorkflowConfig{
		Policy:         domain.DefaultQuorumPolicy(),
		MaxUploadBytes: cfg.MaxUploadBytes,
	}).WithEvents(events)

	// ── Fiber App ────────────────────────────────────────────────────────
	app := fiber.New(appConfig(cfg))

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: []string{cfg.FrontendURL},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
	}))

	handler.Mount(app, handler.Services{
		AppName:  cfg.AppName,
		Auth:     authService,
		Workflow: workflowService,
		Audit:    auditService,
		Events:   events,
	})

	// ── MCP Server (separate port) ───────────────────────────────────────
	if cfg.MCPEnabled {
		mcpServer := mcp.NewServer(kb, workflowService.Policy().Domains(), cfg.MCPToken, cfg.MCPPort)
		go func() {
			if err := mcpServer.Start(ctx); err != nil {
				slog.Error("MCP server failed", "error", err)
			}
		}()
	}

	// ── Start ────────────────────────────────────────────────────────────
	errc := make(chan error, 1)
	go func() {
		slog.Info("fiber listening", "port", cfg.Port)
		errc <- app.Listen(":"+cfg.Port, fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return app.ShutdownWithContext(shutdownCtx)
}

// appConfig sizes the body limit for multipart uploads and lets event
// streams outlive the default write timeout.
func appConfig(cfg *config.Config) fiber.Config {
	return fiber.Config{
		AppName:      cfg.AppName,
		BodyLimit:    int(cfg.MaxUploadBytes) + 1<<20,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: handler.StreamTimeout + 30*time.Second,
	}
}
