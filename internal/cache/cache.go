package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/birkenfeld/arexibo/internal/metrics"
	"github.com/birkenfeld/arexibo/internal/model"
	"github.com/sony/gobreaker/v2"
)

// Index persists content index entries. storage.Repository implements it.
type Index interface {
	LoadEntries(ctx context.Context) (map[string]model.CacheEntry, error)
	UpsertEntry(ctx context.Context, name string, entry model.CacheEntry) error
	DeleteEntries(ctx context.Context, names []string) error
	ClearEntries(ctx context.Context) error
}

type Options struct {
	HTTPClient *http.Client
	Translator Translator
	Logger     *slog.Logger
}

// Cache is the local resource store. It is owned by the collect loop and
// is not safe for concurrent use.
type Cache struct {
	dir        string
	index      Index
	translator Translator
	http       *http.Client
	breaker    *gobreaker.CircuitBreaker[int64]
	logger     *slog.Logger

	entries map[string]model.CacheEntry
	codes   map[string]int64
}

// Open loads the content index for dir. Layout entries from an older
// translator and entries whose file disappeared are dropped.
func Open(ctx context.Context, dir string, index Index, opts Options) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	if opts.Translator == nil {
		opts.Translator = GeometryTranslator{}
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Cache{
		dir:        dir,
		index:      index,
		translator: opts.Translator,
		http:       opts.HTTPClient,
		logger:     opts.Logger,
		codes:      map[string]int64{},
	}
	c.breaker = gobreaker.NewCircuitBreaker[int64](gobreaker.Settings{
		Name:        "http-download",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Info("download breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			if to == gobreaker.StateOpen {
				metrics.HTTPBreakerOpen.Set(1)
			} else {
				metrics.HTTPBreakerOpen.Set(0)
			}
		},
	})

	entries, err := index.LoadEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("load cache index: %w", err)
	}
	var stale []string
	for name, entry := range entries {
		if entry.Kind == model.FileLayout && entry.Version != c.translator.Version() {
			if err := c.removeFile(name); err != nil {
				return nil, err
			}
			stale = append(stale, name)
			continue
		}
		if info, err := os.Stat(c.path(name)); err != nil || info.IsDir() {
			stale = append(stale, name)
			continue
		}
		if entry.Kind == model.FileLayout && entry.Code != "" {
			c.codes[entry.Code] = entry.ID
		}
	}
	for _, name := range stale {
		delete(entries, name)
	}
	if err := index.DeleteEntries(ctx, stale); err != nil {
		return nil, fmt.Errorf("prune cache index: %w", err)
	}
	if len(stale) > 0 {
		c.logger.Info("pruned stale cache entries", "count", len(stale))
	}
	c.entries = entries
	c.removeLeftovers()
	metrics.CacheEntries.Set(float64(len(entries)))
	return c, nil
}

func (c *Cache) Dir() string {
	return c.dir
}

func (c *Cache) path(name string) string {
	return filepath.Join(c.dir, name)
}

func (c *Cache) Len() int {
	return len(c.entries)
}

// Has reports whether the cached copy of f is current. It never touches
// the network.
func (c *Cache) Has(f model.ReqFile) bool {
	if f.IsResource() {
		entry, ok := c.entries[model.ResourceName(f.MediaID)]
		return ok && entry.Kind == model.FileResource && entry.Updated == f.Updated
	}
	entry, ok := c.entries[f.Name]
	if !ok || entry.Kind != f.Type || entry.MD5 != f.MD5 {
		return false
	}
	if f.Type == model.FileLayout && entry.Version != c.translator.Version() {
		return false
	}
	return true
}

// Invalidate drops the cached copy of f when the index holds it under the
// same name but it no longer matches what the CMS demands. It reports
// whether anything was removed.
func (c *Cache) Invalidate(ctx context.Context, f model.ReqFile) (bool, error) {
	name := f.Name
	if f.IsResource() {
		name = model.ResourceName(f.MediaID)
	}
	if _, ok := c.entries[name]; !ok || !validName(name) || c.Has(f) {
		return false, nil
	}
	if err := c.removeFile(name); err != nil {
		return false, err
	}
	if err := c.index.DeleteEntries(ctx, []string{name}); err != nil {
		return false, fmt.Errorf("invalidate %s: %w", name, err)
	}
	delete(c.entries, name)
	metrics.CacheEntries.Set(float64(len(c.entries)))
	c.logger.Info("dropped outdated cache entry", "name", name)
	return true, nil
}

func (c *Cache) removeFile(name string) error {
	if err := os.Remove(c.path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	return nil
}

func (c *Cache) Entry(name string) (model.CacheEntry, bool) {
	entry, ok := c.entries[name]
	return entry, ok
}

// Layout returns the index entry of a cached layout.
func (c *Cache) Layout(id int64) (model.CacheEntry, bool) {
	if entry, ok := c.entries[fmt.Sprintf("%d.xlf", id)]; ok && entry.Kind == model.FileLayout {
		return entry, true
	}
	for _, entry := range c.entries {
		if entry.Kind == model.FileLayout && entry.ID == id {
			return entry, true
		}
	}
	return model.CacheEntry{}, false
}

func (c *Cache) HasLayout(id int64) bool {
	_, ok := c.Layout(id)
	return ok
}

// UpdateCodeMap replaces the layout code lookup from a required-files listing.
func (c *Cache) UpdateCodeMap(files []model.ReqFile) {
	codes := map[string]int64{}
	for _, f := range files {
		if f.Type == model.FileLayout && f.Code != "" {
			codes[f.Code] = f.ID
		}
	}
	c.codes = codes
}

func (c *Cache) LookupCode(code string) (int64, bool) {
	id, ok := c.codes[code]
	return id, ok
}

// PurgeSome deletes the named files and their index entries. Names that are
// not cached are ignored; one failure does not stop the rest.
func (c *Cache) PurgeSome(ctx context.Context, names []string) error {
	var (
		errs    []error
		removed []string
	)
	for _, name := range names {
		if !validName(name) {
			errs = append(errs, fmt.Errorf("refusing to purge %q", name))
			continue
		}
		if err := os.Remove(c.path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("purge %s: %w", name, err))
			continue
		}
		if _, ok := c.entries[name]; ok {
			delete(c.entries, name)
			removed = append(removed, name)
		}
	}
	if err := c.index.DeleteEntries(ctx, removed); err != nil {
		errs = append(errs, fmt.Errorf("purge index: %w", err))
	}
	metrics.CacheEntries.Set(float64(len(c.entries)))
	return errors.Join(errs...)
}

// PurgeAll empties the cache directory and the index.
func (c *Cache) PurgeAll(ctx context.Context) error {
	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("read cache dir: %w", err)
	}
	var errs []error
	for _, d := range dirEntries {
		if err := os.RemoveAll(c.path(d.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	c.entries = map[string]model.CacheEntry{}
	if err := c.index.ClearEntries(ctx); err != nil {
		errs = append(errs, fmt.Errorf("clear index: %w", err))
	}
	metrics.CacheEntries.Set(0)
	c.logger.Info("cache purged", "files", len(dirEntries))
	return errors.Join(errs...)
}

func (c *Cache) removeLeftovers() {
	matches, _ := filepath.Glob(filepath.Join(c.dir, tempPattern))
	for _, m := range matches {
		_ = os.Remove(m)
	}
}
