package tour

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/crypto/blake2b"
)

// Summary is the catalog listing entry for a tour.
type Summary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	StopCount   int    `json:"stopCount"`
}

type entry struct {
	tour        Tour
	dir         string
	fingerprint string
}

// Catalog is the tour data source: one folder per tour under a root
// directory, each holding a tour.json and its audio assets.
type Catalog struct {
	dir           string
	defaultRadius float64
	logger        *slog.Logger

	mu    sync.RWMutex
	tours map[string]entry
}

func NewCatalog(dir string, defaultRadius float64, logger *slog.Logger) *Catalog {
	return &Catalog{
		dir:           dir,
		defaultRadius: defaultRadius,
		logger:        logger,
		tours:         make(map[string]entry),
	}
}

// Load rescans the root directory. Folders with a malformed tour.json are
// logged and skipped; the previous catalog is replaced atomically.
func (c *Catalog) Load() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("reading tours dir: %w", err)
	}

	tours := make(map[string]entry, len(entries))
	for _, de := range entries {
		if !de.IsDir() {
			continue
		}
		dir := filepath.Join(c.dir, de.Name())
		t, raw, err := LoadDir(dir, c.defaultRadius)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			c.logger.Warn("skipping tour", "dir", dir, "error", err)
			continue
		}
		if _, dup := tours[t.ID]; dup {
			c.logger.Warn("skipping tour with duplicate id", "dir", dir, "tour_id", t.ID)
			continue
		}
		tours[t.ID] = entry{tour: t, dir: dir, fingerprint: fingerprint(raw)}
	}

	c.mu.Lock()
	c.tours = tours
	c.mu.Unlock()

	c.logger.Info("tour catalog loaded", "dir", c.dir, "tours", len(tours))
	return nil
}

func (c *Catalog) Get(id string) (Tour, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.tours[id]
	if !ok {
		return Tour{}, ErrNotFound
	}
	return e.tour, nil
}

// Fingerprint returns a content hash of the tour's tour.json, usable as an ETag.
func (c *Catalog) Fingerprint(id string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.tours[id]
	if !ok {
		return "", ErrNotFound
	}
	return e.fingerprint, nil
}

// Resolver returns the asset resolver rooted at the tour's folder.
func (c *Catalog) Resolver(id string) (DirResolver, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.tours[id]
	if !ok {
		return DirResolver{}, ErrNotFound
	}
	return DirResolver{Dir: e.dir}, nil
}

func (c *Catalog) List() []Summary {
	c.mu.RLock()
	out := make([]Summary, 0, len(c.tours))
	for _, e := range c.tours {
		out = append(out, Summary{
			ID:          e.tour.ID,
			Name:        e.tour.Name,
			Description: e.tour.Description,
			StopCount:   len(e.tour.Stops),
		})
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Watch reloads the catalog whenever anything under the root directory
// changes. It blocks until ctx is done.
func (c *Catalog) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	if err := c.addWatches(w); err != nil {
		return err
	}

	const debounce = 500 * time.Millisecond
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.Add(ev.Name); err != nil {
						c.logger.Warn("watching new tour folder", "dir", ev.Name, "error", err)
					}
				}
			}
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("tour watcher error", "error", err)
		case <-timer.C:
			if err := c.Load(); err != nil {
				c.logger.Error("reloading tour catalog", "error", err)
			}
		}
	}
}

func (c *Catalog) addWatches(w *fsnotify.Watcher) error {
	if err := w.Add(c.dir); err != nil {
		return fmt.Errorf("watching %s: %w", c.dir, err)
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("reading tours dir: %w", err)
	}
	for _, de := range entries {
		if de.IsDir() {
			if err := w.Add(filepath.Join(c.dir, de.Name())); err != nil {
				return fmt.Errorf("watching %s: %w", de.Name(), err)
			}
		}
	}
	return nil
}

func fingerprint(raw []byte) string {
	sum := blake2b.Sum256(raw)
	return hex.EncodeToString(sum[:16])
}
