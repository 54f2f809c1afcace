package main

import (
	"context"
	"errors"
	"fmt"
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
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/linkreach/internal/api"
	"github.com/kalambet/linkreach/internal/config"
	"github.com/kalambet/linkreach/internal/outreach"
	"github.com/kalambet/linkreach/internal/provider"
	"github.com/kalambet/linkreach/internal/ratelimit"
	"github.com/kalambet/linkreach/internal/storage"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API for the browser extension (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		host, _ := cmd.Flags().GetString("host")
		return runServer(host)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running linkreach server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status and the connection budget",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func init() {
	serveCmd.Flags().String("host", "127.0.0.1", "interface to listen on (0.0.0.0 for all)")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "linkreach.pid")
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

func removePIDFile(path string) {
	os.Remove(path)
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	for _, w := range cfg.Warnings {
		logger.Warn("config", zap.String("warning", w))
	}
	return cfg, nil
}

// newGenerator builds the message generator. A missing API key is not an
// error: the generator then answers from templates only and the returned
// provider name is empty.
func newGenerator(ctx context.Context, cfg config.Config) (*outreach.Generator, string, error) {
	var p outreach.Provider
	name := ""

	prov, err := provider.New(ctx, provider.Config{
		Name:    cfg.Provider.Name,
		APIKey:  cfg.Provider.APIKey,
		Model:   cfg.Provider.Model,
		BaseURL: cfg.Provider.BaseURL,
		Timeout: cfg.Provider.Timeout,
	})
	switch {
	case errors.Is(err, provider.ErrUnavailable):
		logger.Warn("no provider API key configured, using template messages only",
			zap.String("provider", cfg.Provider.Name))
	case err != nil:
		return nil, "", fmt.Errorf("creating provider: %w", err)
	default:
		p = prov
		name = prov.Name()
		if o, ok := prov.(*provider.Ollama); ok {
			checkOllama(ctx, o)
		}
	}

	gen := outreach.NewGenerator(p,
		outreach.WithTimeout(cfg.Generation.Timeout),
		outreach.WithLogger(logger.Named("outreach")),
	)
	return gen, name, nil
}

// checkOllama warns when the local Ollama server is down or the model has
// not been pulled. Generation still starts: failed calls fall back to
// templates.
func checkOllama(ctx context.Context, o *provider.Ollama) {
	if !o.IsRunning(ctx) {
		logger.Warn("ollama is not running, messages will use templates until it starts",
			zap.String("model", o.Model()))
		return
	}
	if !o.HasModel(ctx, o.Model()) {
		logger.Warn("ollama model not pulled, messages will use templates",
			zap.String("model", o.Model()),
			zap.String("hint", "ollama pull "+o.Model()))
	}
}

// newWindow builds the hourly connection window for the configured backend.
// The returned close function releases the Redis client, if any.
func newWindow(ctx context.Context, cfg config.Config) (ratelimit.Window, func(), error) {
	switch cfg.Limits.Backend {
	case "", config.BackendMemory:
		return ratelimit.NewMemoryWindow(cfg.Limits.MaxConnectionsPerHour, ratelimit.DefaultPeriod), func() {}, nil
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Limits.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Limits.RedisAddr, err)
		}
		w := ratelimit.NewRedisWindow(rdb, cfg.Limits.MaxConnectionsPerHour, ratelimit.DefaultPeriod)
		return w, func() { rdb.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown limits backend %q (want %s or %s)",
			cfg.Limits.Backend, config.BackendMemory, config.BackendRedis)
	}
}

// buildDeps opens storage and wires the generator and connection window.
// The caller must invoke the returned cleanup function.
func buildDeps(ctx context.Context, cfg config.Config) (api.Deps, func(), error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return api.Deps{}, nil, fmt.Errorf("opening storage: %w", err)
	}

	gen, providerName, err := newGenerator(ctx, cfg)
	if err != nil {
		store.Close()
		return api.Deps{}, nil, err
	}

	window, closeWindow, err := newWindow(ctx, cfg)
	if err != nil {
		store.Close()
		return api.Deps{}, nil, err
	}

	cleanup := func() {
		closeWindow()
		if err := store.Close(); err != nil {
			logger.Warn("closing storage", zap.Error(err))
		}
	}

	return api.Deps{
		Store:            store,
		Generator:        gen,
		Window:           window,
		Logger:           logger,
		Provider:         providerName,
		BatchConcurrency: cfg.Generation.Concurrency,
	}, cleanup, nil
}

func runServer(host string) error {
	fmt.Fprintf(os.Stderr, "linkreach version %s\n", version)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("linkreach is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("linkreach is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, cleanup, err := buildDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if cfg.Limits.RequestsPerSecond > 0 {
		deps.Clients = ratelimit.NewClientLimiter(cfg.Limits.RequestsPerSecond, cfg.Limits.Burst)
		deps.Clients.StartJanitor(ctx)
	}

	addr := net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	logger.Info("server starting",
		zap.String("addr", addr),
		zap.String("provider", providerLabel(deps.Provider)),
		zap.String("limits_backend", cfg.Limits.Backend),
		zap.Int("connections_per_hour", deps.Window.Limit()),
	)
	printSuccess("linkreach listening on http://%s", addr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		printStep("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func runMCP() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, cleanup, err := buildDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	logger.Info("MCP server started (stdio transport)", zap.String("provider", providerLabel(deps.Provider)))
	stdioSrv := server.NewStdioServer(api.NewMCPServer(deps))
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("linkreach is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop linkreach (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to linkreach (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}

	resp, err := client.get(ctx, "/api/status")
	if err != nil {
		printStatus("Server", "stopped")
		printStatus("Data dir", "%s", cfg.Storage.DataDir)
		return nil
	}

	var st api.Status
	if err := decodeJSON(resp, &st); err != nil {
		printStatus("Server", "error (%v)", err)
		return nil
	}

	printStatus("Server", "running on port %d", cfg.Server.Port)
	printStatus("Provider", "%s", st.Provider)
	printStatus("Profiles", "%d", st.ProfilesCollected)
	printStatus("Connections", "%d sent, %d in the last hour", st.ConnectionsSent, st.ConnectionsLastHour)
	printStatus("This hour", "%d of %d remaining", st.ConnectionsRemaining, st.ConnectionsPerHour)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func providerLabel(name string) string {
	if name == "" {
		return "templates"
	}
	return name
}
