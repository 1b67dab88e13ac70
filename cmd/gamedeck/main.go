package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/waabox/gamedeck/internal/auth"
	"github.com/waabox/gamedeck/internal/catalog"
	"github.com/waabox/gamedeck/internal/config"
	"github.com/waabox/gamedeck/internal/deploy"
	"github.com/waabox/gamedeck/internal/domain"
	"github.com/waabox/gamedeck/internal/download"
	"github.com/waabox/gamedeck/internal/metrics"
	"github.com/waabox/gamedeck/internal/pipeline"
	"github.com/waabox/gamedeck/internal/process"
	"github.com/waabox/gamedeck/internal/registry"
	"github.com/waabox/gamedeck/internal/tui"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
var version = "dev"

// options collects repeated -opt key=value flags.
type options map[string]string

func (o options) String() string {
	pairs := make([]string, 0, len(o))
	for k, v := range o {
		pairs = append(pairs, k+"="+v)
	}
	return strings.Join(pairs, ",")
}

func (o options) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	o[k] = v
	return nil
}

func main() {
	opts := options{}
	versionFlag := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", config.DefaultConfigPath(), "path to the config file")
	familyFlag := flag.String("family", "", "game family: minecraft, factorio, tmodloader or mrpack")
	target := flag.String("target", "", "directory the server is installed into")
	selector := flag.String("selector", "", "version, catalog key or URL to install")
	id := flag.String("id", "", "deployment ID (generated when empty)")
	headless := flag.Bool("headless", false, "print progress to stdout instead of opening the TUI")
	login := flag.Bool("login", false, "authorize against GitHub and store the token in the config file")
	flag.Var(opts, "opt", "family specific option key=value (repeatable)")
	flag.Parse()

	if *versionFlag {
		fmt.Println("gamedeck", version)
		os.Exit(0)
	}

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	if *login {
		if err := runLogin(*configPath, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "GitHub authentication failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	family, err := domain.ParseFamily(*familyFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevelOrDefault()}))
	if !*headless {
		// Log lines would tear the alternate screen.
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, m, logger)
	}

	service := newService(cfg, m, logger)
	req := pipeline.Request{Selector: *selector, Options: opts}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		for range signals {
			service.CancelAll()
		}
	}()

	if *headless {
		os.Exit(runHeadless(service, family, *target, req, *id))
	}
	runTUI(service, family, *target, req, *id)
}

// newService wires the resolver chain, the shared pipeline environment and
// the registry.
func newService(cfg config.Config, m *metrics.Metrics, logger *slog.Logger) *deploy.Service {
	entries := make([]catalog.Entry, 0, len(cfg.Catalog))
	for _, e := range cfg.Catalog {
		entries = append(entries, catalog.Entry{
			Family:   domain.Family(strings.ToLower(e.Family)),
			Selector: e.Selector,
			URL:      e.URL,
			Version:  e.Version,
		})
	}
	resolver := catalog.Chain{
		catalog.NewStatic(entries),
		catalog.NewGitHubReleases(cfg.GitHub.Token, "", nil),
		catalog.Direct{},
	}

	env := &pipeline.Env{
		Resolver:          resolver,
		Fetcher:           download.NewFetcher(download.WithTimeout(cfg.DownloadTimeoutOrDefault()), download.WithMetrics(m)),
		Supervisor:        process.NewSupervisor(cfg.GraceOrDefault()),
		Metrics:           m,
		Logger:            logger,
		TempRoot:          cfg.TempDirOrDefault(),
		JavaPath:          cfg.JavaPath,
		GateTimeout:       cfg.GateTimeoutOrDefault(),
		InstallTimeout:    cfg.InstallTimeoutOrDefault(),
		ParallelDownloads: cfg.ParallelDownloadsOrDefault(),
	}
	reg := registry.New(logger, cfg.GraceOrDefault())
	return deploy.NewService(reg, pipeline.NewDefaultRegistry(env), m, logger)
}

// runLogin runs the GitHub device flow and saves the token. Prompts go to
// stderr so stdout stays clean for piping.
func runLogin(configPath string, cfg config.Config) error {
	if cfg.GitHub.ClientID == "" {
		return fmt.Errorf("github.client_id is not set in %s", configPath)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	token, err := auth.NewDeviceFlow(cfg.GitHub.ClientID, "").Login(ctx, os.Stderr)
	if err != nil {
		return err
	}
	cfg.GitHub.Token = token
	if err := config.Save(configPath, cfg); err != nil {
		return fmt.Errorf("saving token: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Authenticated. Token saved to %s\n", configPath)
	return nil
}

func serveMetrics(addr string, m *metrics.Metrics, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server stopped", "addr", addr, "error", err)
	}
}

// runHeadless streams progress to stdout and returns the process exit code.
func runHeadless(service *deploy.Service, family domain.Family, target string, req pipeline.Request, id string) int {
	sink := domain.ProgressSink(func(e domain.ProgressEvent) {
		fmt.Printf("%s [%s] %s\n", e.Time.Format("15:04:05"), e.Level, e.Message)
	})
	h, err := service.Start(family, target, req, sink, id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error starting deployment: %v\n", err)
		return 2
	}
	result, _ := h.Wait(context.Background())
	service.Wait()
	switch result.Outcome {
	case domain.OutcomeCompleted:
		if result.Details.Executable != "" {
			fmt.Printf("executable: %s\n", result.Details.Executable)
		}
		return 0
	case domain.OutcomeCancelled:
		return 130
	default:
		return 1
	}
}

func runTUI(service *deploy.Service, family domain.Family, target string, req pipeline.Request, id string) {
	p := tui.NewProgram(service)
	sink := domain.ProgressSink(func(e domain.ProgressEvent) {
		p.Send(tui.ProgressMsg{Event: e})
	})
	h, err := service.Start(family, target, req, sink, id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error starting deployment: %v\n", err)
		os.Exit(2)
	}
	go func() {
		result, _ := h.Wait(context.Background())
		p.Send(tui.FinishedMsg{Result: result})
	}()
	tui.Run(p)
	service.CancelAll()
	service.Wait()
}
