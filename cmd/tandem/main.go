package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/btouchard/tandem/internal/api"
	"github.com/btouchard/tandem/internal/auth"
	"github.com/btouchard/tandem/internal/config"
	tandemmcp "github.com/btouchard/tandem/internal/mcp"
	"github.com/btouchard/tandem/internal/notify"
	"github.com/btouchard/tandem/internal/store"
	"github.com/btouchard/tandem/internal/task"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "version":
		fmt.Printf("tandem %s\n", version)
	case "check":
		cmdCheck(os.Args[2:])
	case "useradd":
		cmdUserAdd(os.Args[2:])
	case "userdel":
		cmdUserDel(os.Args[2:])
	case "users":
		cmdUsers(os.Args[2:])
	case "token":
		cmdToken(os.Args[2:])
	case "rotate-secret":
		cmdRotateSecret(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: tandem <command> [flags]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  serve           Start the Tandem server\n")
	fmt.Fprintf(os.Stderr, "  check           Validate configuration\n")
	fmt.Fprintf(os.Stderr, "  useradd         Create a user\n")
	fmt.Fprintf(os.Stderr, "  userdel         Delete a user\n")
	fmt.Fprintf(os.Stderr, "  users           List users\n")
	fmt.Fprintf(os.Stderr, "  token           Issue an access token for a user\n")
	fmt.Fprintf(os.Stderr, "  rotate-secret   Replace the token signing secret\n")
	fmt.Fprintf(os.Stderr, "  version         Print version\n")
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args) // ExitOnError handles errors

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogging(cfg)

	slog.Info("starting tandem",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func cmdCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args) // ExitOnError handles errors

	_, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("configuration is valid")
}

func cmdUserAdd(args []string) {
	fs := flag.NewFlagSet("useradd", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	email := fs.String("email", "", "email address (required)")
	username := fs.String("username", "", "unique username (required)")
	name := fs.String("name", "", "full name")
	_ = fs.Parse(args) // ExitOnError handles errors

	if *email == "" || *username == "" {
		fmt.Fprintln(os.Stderr, "useradd: -email and -username are required")
		os.Exit(2)
	}

	db := openStore(*configPath)
	defer func() { _ = db.Close() }()

	u := &store.User{Email: *email, Username: *username, FullName: *name}
	if err := db.CreateUser(context.Background(), u); err != nil {
		fmt.Fprintf(os.Stderr, "creating user: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(u.ID)
}

func cmdUserDel(args []string) {
	fs := flag.NewFlagSet("userdel", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	userID := fs.String("user", "", "user ID (required)")
	_ = fs.Parse(args) // ExitOnError handles errors

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "userdel: -user is required")
		os.Exit(2)
	}

	db := openStore(*configPath)
	defer func() { _ = db.Close() }()

	if err := db.DeleteUser(context.Background(), *userID); err != nil {
		fmt.Fprintf(os.Stderr, "deleting user: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("user deleted")
}

func cmdUsers(args []string) {
	fs := flag.NewFlagSet("users", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args) // ExitOnError handles errors

	db := openStore(*configPath)
	defer func() { _ = db.Close() }()

	users, err := db.ListUsers(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "listing users: %v\n", err)
		os.Exit(1)
	}
	for _, u := range users {
		fmt.Printf("%s\t%s\t%s\t%s\n", u.ID, u.Username, u.Email, u.FullName)
	}
}

func cmdToken(args []string) {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	userID := fs.String("user", "", "user ID (required)")
	_ = fs.Parse(args) // ExitOnError handles errors

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "token: -user is required")
		os.Exit(2)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	db := openStore(*configPath)
	defer func() { _ = db.Close() }()

	if _, err := db.GetUser(context.Background(), *userID); err != nil {
		fmt.Fprintf(os.Stderr, "looking up user: %v\n", err)
		os.Exit(1)
	}

	tokens, err := newTokenManager(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	tok, exp, err := tokens.Issue(*userID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "issuing token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(tok)
	fmt.Fprintf(os.Stderr, "expires %s\n", exp.Format(time.RFC3339))
}

func cmdRotateSecret(args []string) {
	fs := flag.NewFlagSet("rotate-secret", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args) // ExitOnError handles errors

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.JWTSecret != "" {
		fmt.Fprintln(os.Stderr, "rotate-secret: auth.jwt_secret is set in configuration; change it there")
		os.Exit(1)
	}

	if _, err := auth.RotateSecret(config.ExpandHome(cfg.Auth.SecretDir)); err != nil {
		fmt.Fprintf(os.Stderr, "rotating secret: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("secret rotated; previously issued tokens are no longer valid")
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func openStore(configPath string) *store.SQLStore {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	db, err := store.Open(cfg.Database.Driver, databaseDSN(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening database: %v\n", err)
		os.Exit(1)
	}
	return db
}

func databaseDSN(cfg *config.Config) string {
	if cfg.Database.Driver == "postgres" {
		return cfg.Database.DSN
	}
	return config.ExpandHome(cfg.Database.Path)
}

func newTokenManager(cfg *config.Config) (*auth.TokenManager, error) {
	authCfg := cfg.Auth
	authCfg.SecretDir = config.ExpandHome(authCfg.SecretDir)
	key, err := auth.SigningKey(authCfg)
	if err != nil {
		return nil, fmt.Errorf("loading signing key: %w", err)
	}
	return auth.NewTokenManager(key, cfg.Auth.Issuer, cfg.Auth.AccessTokenTTL), nil
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch cfg.Server.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlers := []slog.Handler{
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}),
	}

	if cfg.Server.LogFile != "" {
		f, err := os.OpenFile(config.ExpandHome(cfg.Server.LogFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			slog.Warn("failed to open log file, using stdout only", "path", cfg.Server.LogFile, "error", err)
		} else {
			handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
		}
	}

	logger := slog.New(slog.NewMultiHandler(handlers...))
	slog.SetDefault(logger)
}

func run(ctx context.Context, cfg *config.Config) error {
	// --- Store ---
	db, err := store.Open(cfg.Database.Driver, databaseDSN(cfg))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = db.Close() }()

	slog.Info("database opened", "driver", cfg.Database.Driver)

	// --- Tokens ---
	tokens, err := newTokenManager(cfg)
	if err != nil {
		return err
	}

	// --- Notifications ---
	registry := notify.NewRegistry(cfg.Live.Shards)
	mcpRegistry := notify.NewRegistry(cfg.Live.Shards)
	notifier := notify.NewNotifier(notify.NewHub(registry, mcpRegistry))
	detector := task.NewDetector(cfg.Notifications.FieldChanges, cfg.Notifications.CompletedStatus)
	tasks := task.NewService(db, detector, notifier)

	// --- MCP Server ---
	var mcpHTTP http.Handler
	if cfg.MCP.Enabled {
		mcpServer := tandemmcp.NewServer(&tandemmcp.Deps{
			Notifications: db,
			Tasks:         tasks,
			Version:       version,
			Live:          mcpRegistry,
		})
		mcpHTTP = tandemmcp.NewHTTPHandler(mcpServer)
	}

	// --- HTTP Router ---
	router := api.NewRouter(api.Deps{
		Store:    db,
		Tasks:    tasks,
		Registry: registry,
		Tokens:   tokens,
		Live: notify.WSOptions{
			SendBuffer:     cfg.Live.SendBuffer,
			WriteTimeout:   cfg.Live.WriteTimeout,
			OriginPatterns: cfg.Live.OriginPatterns,
		},
		DefaultStatuses: cfg.Notifications.DefaultStatuses,
		RateLimit:       cfg.RateLimit,
		MCP:             mcpHTTP,
	})

	// --- HTTP Server ---
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("tandem is ready", "addr", addr, "mcp", cfg.MCP.Enabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down", "live_clients", registry.Count(), "mcp_sessions", mcpRegistry.Count())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
