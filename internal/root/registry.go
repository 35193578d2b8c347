package root

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"vigil/internal/logging"
	"vigil/internal/metrics"
	"vigil/internal/view"
)

// Registry resolves identifiers to live roots. All roots share one poison
// latch, one logger, and one metrics registry.
type Registry struct {
	latch   *PoisonLatch
	logger  *logging.Logger
	metrics *metrics.Registry

	mu    sync.Mutex
	roots map[string]*Root

	viewOptions      view.Options
	crawlConcurrency int
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	Logger           *logging.Logger
	Metrics          *metrics.Registry
	View             view.Options
	CrawlConcurrency int
}

func NewRegistry(options RegistryOptions) *Registry {
	registry := options.Metrics
	if registry == nil {
		registry = metrics.Default
	}
	return &Registry{
		latch:            NewPoisonLatch(),
		logger:           options.Logger,
		metrics:          registry,
		roots:            make(map[string]*Root),
		viewOptions:      options.View,
		crawlConcurrency: options.CrawlConcurrency,
	}
}

// Add registers a root for path, creating it if needed, and kicks off its
// initial crawl.
func (g *Registry) Add(path string) (*Root, error) {
	if g == nil || path == "" {
		return nil, ErrUnknownRoot
	}
	path = filepath.Clean(path)

	g.mu.Lock()
	if existing, ok := g.roots[path]; ok {
		g.mu.Unlock()
		return existing, nil
	}
	r := New(Options{
		Path:             path,
		Latch:            g.latch,
		Logger:           g.logger,
		Metrics:          g.metrics,
		View:             g.viewOptions,
		CrawlConcurrency: g.crawlConcurrency,
	})
	g.roots[path] = r
	g.mu.Unlock()

	if g.logger != nil {
		g.logger.Info("root added", map[string]string{"root": path})
	}
	if _, err := r.ScheduleRecrawl("initial"); err != nil {
		return r, err
	}
	return r, nil
}

// Resolve returns the root watching path.
func (g *Registry) Resolve(path string) (*Root, error) {
	if g == nil {
		return nil, ErrUnknownRoot
	}
	path = filepath.Clean(path)

	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.roots[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRoot, path)
	}
	return r, nil
}

// Remove cancels and drops the root watching path.
func (g *Registry) Remove(path string) error {
	if g == nil {
		return ErrUnknownRoot
	}
	path = filepath.Clean(path)

	g.mu.Lock()
	r, ok := g.roots[path]
	delete(g.roots, path)
	g.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRoot, path)
	}
	r.Cancel()
	if g.logger != nil {
		g.logger.Info("root removed", map[string]string{"root": path})
	}
	return nil
}

// List returns every live root, ordered by path.
func (g *Registry) List() []*Root {
	if g == nil {
		return nil
	}
	g.mu.Lock()
	roots := make([]*Root, 0, len(g.roots))
	for _, r := range g.roots {
		roots = append(roots, r)
	}
	g.mu.Unlock()

	sort.Slice(roots, func(i, j int) bool { return roots[i].path < roots[j].path })
	return roots
}

// StatusAll reports the debug status of every root.
func (g *Registry) StatusAll() []DebugStatus {
	roots := g.List()
	statuses := make([]DebugStatus, 0, len(roots))
	for _, r := range roots {
		statuses = append(statuses, r.DebugStatus())
	}
	return statuses
}
