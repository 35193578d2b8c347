package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"vigil/internal/config"
	"vigil/internal/logging"
	"vigil/internal/metrics"
	"vigil/internal/notify"
	"vigil/internal/root"
	"vigil/internal/state"
	"vigil/internal/view"
	"vigil/internal/watcher"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	flags := flag.NewFlagSet("vigil", flag.ContinueOnError)
	flags.SetOutput(errOut)
	configPath := flags.String("config", "", "path to the configuration file")
	listenAddr := flags.String("listen", "", "listen address (overrides config)")
	rootList := flags.String("roots", "", "comma separated roots to watch at startup")
	authToken := flags.String("token", "", "require this token on API requests")
	showVersion := flags.Bool("version", false, "print version and exit")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *showVersion {
		fmt.Fprintf(out, "vigil %s\n", version)
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(errOut, "vigil: %v\n", err)
		return 1
	}
	if strings.TrimSpace(*listenAddr) != "" {
		cfg.ListenAddr = *listenAddr
	}
	for _, path := range splitRoots(*rootList) {
		cfg.Roots = append(cfg.Roots, config.RootConfig{Path: path})
	}

	daemon, err := newDaemon(cfg, *authToken, errOut)
	if err != nil {
		fmt.Fprintf(errOut, "vigil: %v\n", err)
		return 1
	}
	defer daemon.close()

	if err := daemon.serve(); err != nil {
		fmt.Fprintf(errOut, "vigil: %v\n", err)
		return 1
	}
	return 0
}

func splitRoots(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	roots := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			roots = append(roots, trimmed)
		}
	}
	return roots
}

// daemon holds the wired subsystems for one vigil process.
type daemon struct {
	cfg       config.Config
	authToken string

	logBuffer     *logging.Buffer
	logger        *logging.Logger
	meters        *metrics.Registry
	roots         *root.Registry
	states        *state.Registry
	subscriptions *notify.Subscriptions
	watch         *watcher.Watcher

	treeHandles  []watcher.Handle
	stopDispatch func()
}

func newDaemon(cfg config.Config, authToken string, errOut io.Writer) (*daemon, error) {
	logBuffer := logging.NewBuffer(cfg.LogBufferSize)
	logger := logging.NewLoggerWithOutput(logBuffer, logging.Level(cfg.LogLevel), errOut)
	meters := &metrics.Registry{}

	roots := root.NewRegistry(root.RegistryOptions{
		Logger:  logger,
		Metrics: meters,
		View: view.Options{
			ContentHashCacheSize:   cfg.ContentHashCacheSize,
			SymlinkTargetCacheSize: cfg.SymlinkCacheSize,
		},
	})

	watch, err := watcher.NewWithOptions(watcher.Options{
		Logger:     logger,
		Debounce:   cfg.Settle.Std(),
		MaxWatches: cfg.MaxWatches,
	})
	if err != nil {
		return nil, fmt.Errorf("start watcher: %w", err)
	}
	watch.SetErrorHandler(func(cause error) {
		// Restarts are exhausted; the kernel event stream is gone for good.
		for _, r := range roots.List() {
			r.Poison("watcher failed: "+cause.Error(), 0)
		}
	})

	d := &daemon{
		cfg:           cfg,
		authToken:     authToken,
		logBuffer:     logBuffer,
		logger:        logger,
		meters:        meters,
		roots:         roots,
		states:        state.NewRegistry(),
		subscriptions: notify.NewSubscriptions(notify.SubscriptionsOptions{}),
		watch:         watch,
	}
	d.stopDispatch = d.startDispatch()

	for _, rootConfig := range cfg.Roots {
		if err := d.addRoot(rootConfig.Path); err != nil {
			d.close()
			return nil, err
		}
	}
	return d, nil
}

func (d *daemon) addRoot(path string) error {
	added, err := d.roots.Add(path)
	if err != nil {
		return fmt.Errorf("add root %s: %w", path, err)
	}
	added.View().RegisterCacheMetrics(d.meters, added.Path())

	handle, err := d.watch.WatchTree(added.Path(), added)
	if err != nil {
		return fmt.Errorf("watch root %s: %w", path, err)
	}
	d.treeHandles = append(d.treeHandles, handle)
	return nil
}

func (d *daemon) close() {
	for _, handle := range d.treeHandles {
		_ = handle.Close()
	}
	if d.stopDispatch != nil {
		d.stopDispatch()
	}
	_ = d.watch.Close()
	for _, r := range d.roots.List() {
		r.Cancel()
	}
}
