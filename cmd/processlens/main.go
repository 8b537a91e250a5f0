package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sine-io/processlens/internal/agent"
	"github.com/sine-io/processlens/internal/config"
	"github.com/sine-io/processlens/internal/console"
	"github.com/sine-io/processlens/internal/pkg/logging"
)

const (
	shutdownTimeout = 10 * time.Second
	healthTimeout   = 3 * time.Second
)

type options struct {
	command    string
	configPath string
	api        string
	port       int
	noOpen     bool
	query      string
	emails     string
	outDir     string
	set        map[string]bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "startup error: %v\n", err)
		return 1
	}
	opts.applyTo(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "startup error: %v\n", err)
		return 1
	}

	logger, err := logging.New(logging.Options{Dir: cfg.LogDir, Level: cfg.LogLevel})
	if err != nil {
		fmt.Fprintf(stderr, "startup error: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	client, err := agent.NewClient(agent.ClientConfig{BaseURL: cfg.APIBase, Logger: logger.Named("agent")})
	if err != nil {
		logger.Error("invalid agent api base", zap.String("api_base", cfg.APIBase), zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch opts.command {
	case "serve":
		err = serve(ctx, cfg, client, logger, stdout)
	case "narrate":
		err = runHeadless(ctx, cfg, opts, client, logger, console.ActionNarrate, stdout)
	case "ppt":
		err = runHeadless(ctx, cfg, opts, client, logger, console.ActionPPT, stdout)
	}
	if err != nil {
		logger.Error(opts.command+" failed", zap.Error(err))
		return 1
	}
	return 0
}

func parseArgs(args []string, stderr io.Writer) (*options, error) {
	opts := &options{command: "serve", set: map[string]bool{}}
	if len(args) > 0 {
		switch args[0] {
		case "serve", "narrate", "ppt":
			opts.command = args[0]
			args = args[1:]
		}
	}

	fs := flag.NewFlagSet("processlens "+opts.command, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "", "Path to the YAML config (default "+config.DefaultConfigPath+")")
	fs.StringVar(&opts.api, "api", "", "Agent API base URL")
	fs.StringVar(&opts.query, "query", "", "Process query (defaults to the configured query)")
	fs.StringVar(&opts.emails, "emails", "", "Email recipients, comma or space separated")
	if opts.command == "serve" {
		fs.IntVar(&opts.port, "port", 0, "Port to bind (0 = random free port)")
		fs.BoolVar(&opts.noOpen, "no-open", false, "Disable auto-opening the browser")
	} else {
		fs.StringVar(&opts.outDir, "out", "", "Directory to save the generated audio or presentation into")
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	fs.Visit(func(f *flag.Flag) { opts.set[f.Name] = true })
	return opts, nil
}

// applyTo lets explicitly set flags win over the file and the environment.
func (o *options) applyTo(cfg *config.Config) {
	if o.set["api"] {
		cfg.APIBase = o.api
	}
	if o.set["port"] {
		cfg.Port = o.port
	}
	if o.set["no-open"] {
		cfg.NoOpen = o.noOpen
	}
	if o.set["query"] {
		cfg.DefaultQuery = o.query
	}
	if o.set["emails"] {
		cfg.DefaultEmails = o.emails
	}
}

func serve(ctx context.Context, cfg *config.Config, client *agent.Client, logger *zap.Logger, stdout io.Writer) error {
	ln, err := console.ListenLocal(cfg.Port)
	if err != nil {
		return err
	}

	sessionToken, err := console.GenerateSessionToken()
	if err != nil {
		_ = ln.Close()
		return err
	}

	hub := console.NewStreamHub(console.StreamHubConfig{})
	session, err := console.NewSession(console.SessionConfig{
		Agent:   client,
		Query:   cfg.DefaultQuery,
		Emails:  cfg.DefaultEmails,
		Timeout: cfg.RequestTimeout,
		Hub:     hub,
		Logger:  logger.Named("session"),
	})
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer session.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /", session.IndexHandler(sessionToken, client.BaseURL()))
	mux.HandleFunc("GET /api/state", session.StateHandler())
	mux.HandleFunc("GET /api/view", session.ViewHandler())
	mux.HandleFunc("GET /api/stream", console.StreamHandler(hub))
	mux.HandleFunc("GET /api/backend/health", console.BackendHealthHandler(client, healthTimeout))
	mux.HandleFunc("POST /api/input", session.InputHandler())
	mux.HandleFunc("POST /api/narrate", session.ActionHandler(console.ActionNarrate))
	mux.HandleFunc("POST /api/ppt", session.ActionHandler(console.ActionPPT))
	mux.HandleFunc("POST /api/cancel", session.CancelHandler())

	protected := console.RequireWriteAuth(mux, console.WriteAuthConfig{
		SessionToken:   sessionToken,
		AllowedOrigins: ln.Origins(),
	})
	handler := console.LogRequests(logger.Named("http"), console.RedirectToCanonicalHost(ln.HostPort(), protected))

	// Streams follow baseCtx so Shutdown is not held open by SSE clients.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	server.RegisterOnShutdown(cancelBase)

	fmt.Fprintln(stdout, ln.BaseURL())
	logger.Info("console listening",
		zap.String("url", ln.BaseURL()),
		zap.String("agent_api", client.BaseURL()),
		zap.Duration("request_timeout", cfg.RequestTimeout),
	)
	go warnIfBackendDown(ctx, client, logger)

	if !cfg.NoOpen {
		if err := tryAutoOpen(ln.BaseURL()); err != nil {
			logger.Warn("failed to auto-open browser", zap.Error(err))
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	session.Cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func warnIfBackendDown(ctx context.Context, client *agent.Client, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	if err := client.Health(ctx); err != nil {
		logger.Warn("agent backend is not reachable yet", zap.String("api_base", client.BaseURL()), zap.Error(err))
	}
}

func runHeadless(ctx context.Context, cfg *config.Config, opts *options, client *agent.Client, logger *zap.Logger, action console.Action, stdout io.Writer) error {
	session, err := console.NewSession(console.SessionConfig{
		Agent:   client,
		Query:   cfg.DefaultQuery,
		Emails:  cfg.DefaultEmails,
		Timeout: cfg.RequestTimeout,
		Logger:  logger.Named("session"),
	})
	if err != nil {
		return err
	}
	defer session.Close()

	if action == console.ActionPPT {
		err = session.GeneratePPT(ctx)
	} else {
		err = session.Narrate(ctx)
	}
	snap := session.Snapshot()
	if renderErr := console.RenderText(stdout, snap); renderErr != nil {
		return renderErr
	}
	if err != nil {
		return err
	}

	if opts.outDir == "" {
		return nil
	}
	for _, artifact := range []string{snap.AudioPath, snap.PPTPath} {
		if artifact == "" {
			continue
		}
		saved, err := saveArtifact(ctx, client, artifact, opts.outDir)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Saved %s\n", saved)
	}
	return nil
}

func saveArtifact(ctx context.Context, client *agent.Client, serverPath, dir string) (string, error) {
	name := console.ArtifactName(serverPath)
	if name == "" {
		return "", fmt.Errorf("cannot name artifact %q", serverPath)
	}
	body, err := client.Download(ctx, serverPath)
	if err != nil {
		return "", err
	}
	defer body.Close()
	return console.SaveArtifact(dir, name, body)
}

func tryAutoOpen(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported OS for auto-open: %s", runtime.GOOS)
	}

	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() {
		_ = cmd.Wait()
	}()
	return nil
}
