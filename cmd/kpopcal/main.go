package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"

	"kpopcal/internal/capture"
	"kpopcal/internal/config"
	appLog "kpopcal/internal/log"
	"kpopcal/internal/metrics"
	"kpopcal/internal/pipeline"
	"kpopcal/internal/render"
	"kpopcal/internal/store"
	"kpopcal/internal/web"
)

const version = "0.1.0"

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	category   string
	limit      int
	size       string
	clear      bool
	snapshot   string
	debug      bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.debug {
		conf.LogLevel = "debug"
		conf.CacheRoot = "./cache"
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("kpopcal starting", "version", version)
	appLog.Debug("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"cache_root", conf.CacheRoot,
		"store", conf.Store.Backend,
		"categories", len(conf.Categories),
		"serve_stale_on_error", conf.ServeStaleOnError,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("kpopcal failed", err)
		os.Exit(1)
	}
	appLog.Info("kpopcal exiting")
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	st, err := store.Open(conf)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			appLog.Error("failed to close store", cerr)
		}
	}()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	reg, err := pipeline.NewRegistry(conf, pipeline.Deps{
		Store:   st,
		Metrics: metrics.New(promReg),
	})
	if err != nil {
		return err
	}

	switch {
	case flags.clear:
		return runClear(ctx, reg, flags.category)
	case flags.once:
		return runOnce(ctx, conf, reg, flags)
	case flags.snapshot != "":
		return runSnapshot(ctx, conf, reg, flags)
	default:
		return serve(ctx, conf, reg, promReg)
	}
}

// selected returns the pipelines named by -category, or all of them.
func selected(reg *pipeline.Registry, category string) ([]*pipeline.Pipeline, error) {
	names := reg.Names()
	if category != "" {
		names = []string{category}
	}
	out := make([]*pipeline.Pipeline, 0, len(names))
	for _, name := range names {
		p, err := reg.Get(name)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func runClear(ctx context.Context, reg *pipeline.Registry, category string) error {
	ps, err := selected(reg, category)
	if err != nil {
		return err
	}
	for _, p := range ps {
		if err := p.Reset(ctx); err != nil {
			return fmt.Errorf("clear %s: %w", p.Name(), err)
		}
		appLog.Info("cache cleared", "category", p.Name())
	}
	return nil
}

// runOnce prints the widget rendering of the selected categories to stdout.
func runOnce(ctx context.Context, conf *config.Config, reg *pipeline.Registry, flags flagConfig) error {
	ps, err := selected(reg, flags.category)
	if err != nil {
		return err
	}
	loc, err := conf.Location()
	if err != nil {
		appLog.Warn("failed to load timezone; using local", "name", conf.Timezone, "err", err)
	}
	opts := render.Options{Location: loc, Clock24: conf.Widget.Clock24}
	limit := pipeline.LimitFor(conf.Widget, flags.size, flags.limit)

	var errs []error
	for i, p := range ps {
		grouped, err := p.GetEvents(ctx, limit)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		if i > 0 {
			fmt.Fprintln(os.Stdout)
		}
		if err := render.Widget(os.Stdout, p.Config.Title, grouped, opts); err != nil {
			return err
		}
	}
	return errors.Join(errs...)
}

// runSnapshot serves the preview on a loopback listener and captures it as
// a PNG. Basic auth is not applied to the loopback server.
func runSnapshot(ctx context.Context, conf *config.Config, reg *pipeline.Registry, flags flagConfig) error {
	category := flags.category
	if category == "" {
		category = reg.Names()[0]
	}
	p, err := reg.Get(category)
	if err != nil {
		return err
	}
	// Fail before launching a browser when the pipeline cannot produce events.
	if _, err := p.Events(ctx); err != nil {
		return fmt.Errorf("%s: %w", category, err)
	}

	local := *conf
	local.BasicAuth = nil

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("snapshot listener: %w", err)
	}
	srv := &http.Server{
		Handler:           web.NewServer(&local, web.Options{Registry: reg}).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("snapshot server failed", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	url := "http://" + ln.Addr().String() + "/preview/" + category
	if err := capture.CapturePreviewPNG(ctx, capture.Options{URL: url, OutputPath: flags.snapshot}); err != nil {
		return err
	}
	appLog.Info("snapshot written", "category", category, "path", flags.snapshot)
	return nil
}

// serve runs the HTTP server and the cron-scheduled prewarm until ctx is
// canceled.
func serve(ctx context.Context, conf *config.Config, reg *pipeline.Registry, promReg *prometheus.Registry) error {
	loc, err := conf.Location()
	if err != nil {
		appLog.Warn("failed to load timezone; using local", "name", conf.Timezone, "err", err)
	}

	sched := cron.New(cron.WithLocation(loc))
	if _, err := sched.AddFunc(conf.RefreshCron, func() {
		_ = reg.Prewarm(ctx)
	}); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", conf.RefreshCron, err)
	}
	sched.Start()
	defer func() {
		<-sched.Stop().Done()
	}()

	// Warm caches in the background so the first request does not wait.
	go func() { _ = reg.Prewarm(ctx) }()

	srv := &http.Server{
		Addr:              conf.Listen,
		Handler:           web.NewServer(conf, web.Options{Registry: reg, Gatherer: promReg}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen, "refresh", conf.RefreshCron)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/kpopcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Fetch, print the widget rendering and exit")
	flag.StringVar(&cfg.category, "category", "", "Category to act on (default: all; first for -snapshot)")
	flag.IntVar(&cfg.limit, "limit", 0, "Number of events to show (overrides -size)")
	flag.StringVar(&cfg.size, "size", pipeline.SizeLarge, "Widget size: small, medium or large")
	flag.BoolVar(&cfg.clear, "clear", false, "Clear the category cache and exit")
	flag.StringVar(&cfg.snapshot, "snapshot", "", "Write a PNG snapshot of the preview page to this path and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Debug logging and ./cache as cache root")

	flag.Parse()

	return cfg
}
