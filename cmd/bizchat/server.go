package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/bizchat/internal/api"
	"github.com/kalambet/bizchat/internal/composer"
	"github.com/kalambet/bizchat/internal/config"
	"github.com/kalambet/bizchat/internal/engine"
	"github.com/kalambet/bizchat/internal/extraction"
	"github.com/kalambet/bizchat/internal/ingest"
	"github.com/kalambet/bizchat/internal/metrics"
	"github.com/kalambet/bizchat/internal/persona"
	"github.com/kalambet/bizchat/internal/pipeline"
	"github.com/kalambet/bizchat/internal/profile"
	"github.com/kalambet/bizchat/internal/proxy"
	"github.com/kalambet/bizchat/internal/retrieval"
	"github.com/kalambet/bizchat/internal/search"
	"github.com/kalambet/bizchat/internal/storage"
	"github.com/kalambet/bizchat/internal/tools"
	"github.com/kalambet/bizchat/internal/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the bizchat server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running bizchat server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show bizchat system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the knowledge tools over MCP (stdio) for --principal",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "bizchat.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func setupLogging(cfg config.Config) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()})))
}

// app holds the components shared by the HTTP server and the MCP command.
type app struct {
	cfg       config.Config
	store     *storage.Store
	engine    *engine.OllamaEngine
	indexer   *retrieval.Indexer
	retriever *retrieval.Retriever
	profiles  *profile.Manager
	assembler *tools.Assembler
	metrics   *metrics.Metrics
}

func buildApp(cfg config.Config) (*app, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	provider, err := search.New(cfg.Search.Provider, cfg.Search.SearXNGURL, cfg.Search.BraveAPIKey)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("configuring web search: %w", err)
	}

	eng := engine.NewOllamaEngine(cfg.Ollama.BaseURL)
	embedder := retrieval.NewEmbedder(eng, cfg.Ollama.EmbedModel)
	vectors := retrieval.NewSQLiteStore(store.DB())
	m := metrics.New()

	a := &app{
		cfg:       cfg,
		store:     store,
		engine:    eng,
		indexer:   retrieval.NewIndexer(embedder, vectors),
		retriever: retrieval.NewRetriever(embedder, vectors, store),
		profiles:  profile.NewManager(store),
		metrics:   m,
	}
	a.assembler = tools.NewAssembler(tools.Deps{
		Retriever:   a.retriever,
		Resources:   store,
		Indexer:     a.indexer,
		Search:      provider,
		SearchCount: cfg.Search.MaxResults,
		Metrics:     m,
	})
	return a, nil
}

func (a *app) contextDefaults() persona.Defaults {
	return persona.Defaults{
		RAGEnabled:         a.cfg.Retrieval.RAGEnabled,
		IncludeChatContext: a.cfg.Retrieval.IncludeChatContext,
		KnowledgeLimit:     a.cfg.Retrieval.KnowledgeLimit,
		EpisodicLimit:      a.cfg.Retrieval.EpisodicLimit,
	}
}

func (a *app) executor(hub *transport.Hub) *pipeline.Executor {
	builder := composer.NewBuilder(
		persona.NewResolver(a.store),
		profile.NewResolver(a.profiles),
		composer.NewRetrievalResolver(a.retriever, a.metrics),
		a.metrics,
	)
	return pipeline.New(pipeline.Deps{
		Store:     a.store,
		Builder:   builder,
		Tools:     a.assembler,
		Model:     proxy.NewClient(a.cfg.Proxy.OpenRouterAPIKey, a.cfg.Proxy.BaseURL),
		Extractor: extraction.NewExtractor(a.engine, a.cfg.Ollama.FastModel, a.store, a.indexer, a.metrics),
		Hub:       hub,
		Metrics:   a.metrics,
	}, pipeline.Options{
		DefaultModel: a.cfg.Proxy.DefaultModel,
		TokenBudget:  a.cfg.History.TokenBudget,
		MinTurns:     a.cfg.History.MinTurns,
		Context:      a.contextDefaults(),
	})
}

func runServer(ctx context.Context) error {
	fmt.Fprintf(os.Stderr, "bizchat version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Server.APIToken == "" {
		return errors.New("server.api_token is not set; set BIZCHAT_API_TOKEN or run `bizchat config set-secret server.api_token <token>`")
	}
	setupLogging(cfg)

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer os.Remove(pidPath)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	if err := engine.EnsureReady(ctx, a.engine, cfg.Ollama.FastModel, cfg.Ollama.EmbedModel, os.Stderr); err != nil {
		return err
	}

	hub := transport.NewHub()
	handler := api.NewAppHandler(api.AppDeps{
		Store:   a.store,
		Profile: a.profiles,
		Turns:   a.executor(hub),
		Hub:     hub,
		Metrics: a.metrics,
		Token:   cfg.Server.APIToken,
	})

	worker := ingest.NewWorker(a.store, a.indexer, 500*time.Millisecond)
	go worker.Run(ctx)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("bizchat listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// runMCP serves the knowledge tools of one principal over stdio. Logs go
// to stderr because stdout carries the protocol.
func runMCP(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.store.Close()

	set := a.assembler.Assemble(ctx, tools.Options{
		PrincipalID: principal,
		RAGEnabled:  true,
		WebSearch:   cfg.Search.Provider != "",
	})
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Tools:       set,
		Profile:     a.profiles,
		PrincipalID: principal,
	})
	slog.Info("MCP server started (stdio transport)", "principal", principal, "tools", set.Len())

	if err := server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp stdio server: %w", err)
	}
	return nil
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("bizchat is not running (no PID file): %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		os.Remove(pidPath)
		return fmt.Errorf("stopping bizchat (PID %d): %w", pid, err)
	}

	printSuccess("Sent stop signal to bizchat (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port), nil)
	if err != nil {
		return err
	}
	if resp, err := client.Do(req); err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if engine.NewOllamaEngine(cfg.Ollama.BaseURL).IsRunning(ctx) {
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	} else {
		printStatus("Ollama", "not running")
	}

	printStatus("Fast model", "%s", cfg.Ollama.FastModel)
	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)
	printStatus("Default model", "%s", cfg.Proxy.DefaultModel)
	if cfg.Search.Provider != "" {
		printStatus("Web search", "%s", cfg.Search.Provider)
	} else {
		printStatus("Web search", "disabled")
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	if err := cfg.Validate(); err != nil {
		printWarning("%v", err)
	}
	return nil
}
