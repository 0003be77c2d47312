package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/heimdex/heimdex-editor/internal/logging"
	"github.com/heimdex/heimdex-editor/internal/timeline"
)

// Loader opens a decodable handle for an asset.
type Loader interface {
	Load(ctx context.Context, asset timeline.Asset) (Source, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, asset timeline.Asset) (Source, error)

func (f LoaderFunc) Load(ctx context.Context, asset timeline.Asset) (Source, error) {
	return f(ctx, asset)
}

// ClockLoader opens ClockSources for assets whose file is present on disk.
type ClockLoader struct {
	Now func() time.Time
}

func (l ClockLoader) Load(ctx context.Context, a timeline.Asset) (Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if a.Path != "" {
		info, err := os.Stat(a.Path)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory", a.Path)
		}
	}
	var opts []ClockOption
	if l.Now != nil {
		opts = append(opts, WithClock(l.Now))
	}
	return NewClockSource(a.ID, a.DurationMs, a.Kind.Audible(), opts...), nil
}

type entry struct {
	ready chan struct{}
	src   Source
	err   error
}

// Pool caches one Source per asset id. Loads run in the background and are
// shared by every caller waiting on the same asset; failed loads are not
// cached, so a later request retries.
type Pool struct {
	loader Loader
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	entries   map[string]*entry
	listeners []func(Source)
}

func NewPool(loader Loader, logger *slog.Logger) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		loader:  loader,
		logger:  logging.WithComponent(logging.OrDiscard(logger), "media_pool"),
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*entry),
	}
}

// OnLoad registers fn to run for every source that finishes loading from now on.
func (p *Pool) OnLoad(fn func(Source)) {
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}

// EnsureLoaded returns the asset's source, loading it on first reference.
// Concurrent callers share one load. ctx bounds only the wait.
func (p *Pool) EnsureLoaded(ctx context.Context, asset timeline.Asset) (Source, error) {
	e := p.start(asset)
	select {
	case <-e.ready:
		return e.src, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Request starts loading the asset in the background if it is not loaded yet.
func (p *Pool) Request(asset timeline.Asset) {
	p.start(asset)
}

func (p *Pool) start(asset timeline.Asset) *entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[asset.ID]; ok {
		return e
	}
	e := &entry{ready: make(chan struct{})}
	p.entries[asset.ID] = e
	go p.load(asset, e)
	return e
}

func (p *Pool) load(asset timeline.Asset, e *entry) {
	src, err := p.loader.Load(p.ctx, asset)
	if err != nil {
		err = &LoadError{AssetID: asset.ID, Path: logging.SanitizePath(asset.Path), Err: err}
	}

	p.mu.Lock()
	current := p.entries[asset.ID] == e
	switch {
	case err != nil:
		if current {
			delete(p.entries, asset.ID)
		}
	case !current:
		src.Pause()
		_ = src.Close()
		src, err = nil, &LoadError{AssetID: asset.ID, Path: logging.SanitizePath(asset.Path), Err: ErrReleased}
	}
	e.src, e.err = src, err
	listeners := slices.Clone(p.listeners)
	p.mu.Unlock()
	close(e.ready)

	if err != nil {
		p.logger.Warn("asset load failed", "asset_id", asset.ID, "error", err)
		return
	}
	p.logger.Debug("asset loaded", "asset_id", asset.ID, "duration_ms", src.DurationMs())
	for _, fn := range listeners {
		fn(src)
	}
}

// Get returns the asset's source if it has finished loading.
func (p *Pool) Get(assetID string) (Source, bool) {
	p.mu.Lock()
	e, ok := p.entries[assetID]
	p.mu.Unlock()
	if !ok {
		return nil, false
	}
	select {
	case <-e.ready:
		return e.src, e.err == nil
	default:
		return nil, false
	}
}

// Sources returns every loaded source ordered by asset id.
func (p *Pool) Sources() []Source {
	p.mu.Lock()
	entries := make([]*entry, 0, len(p.entries))
	for _, e := range p.entries {
		entries = append(entries, e)
	}
	p.mu.Unlock()

	var out []Source
	for _, e := range entries {
		select {
		case <-e.ready:
			if e.err == nil {
				out = append(out, e.src)
			}
		default:
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID() < out[j].AssetID() })
	return out
}

func (p *Pool) PauseAll() {
	p.PauseAllExcept(nil)
}

// PauseAllExcept pauses every loaded source whose asset id is not in keep.
func (p *Pool) PauseAllExcept(keep map[string]bool) {
	for _, src := range p.Sources() {
		if keep[src.AssetID()] {
			continue
		}
		src.Pause()
	}
}

// Release pauses and closes the asset's source and forgets it. A load still in
// flight is discarded when it completes.
func (p *Pool) Release(assetID string) error {
	p.mu.Lock()
	e, ok := p.entries[assetID]
	delete(p.entries, assetID)
	p.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-e.ready:
	default:
		return nil
	}
	if e.err != nil {
		return nil
	}
	e.src.Pause()
	if err := e.src.Close(); err != nil {
		return fmt.Errorf("close source %s: %w", assetID, err)
	}
	p.logger.Debug("asset released", "asset_id", assetID)
	return nil
}

// Close releases every source and cancels pending loads.
func (p *Pool) Close() error {
	p.cancel()
	p.mu.Lock()
	ids := make([]string, 0, len(p.entries))
	for id := range p.entries {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := p.Release(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
