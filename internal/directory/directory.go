// Package directory resolves agent instruction templates by category. It
// discovers template files across ordered scope roots (project, parent,
// system), indexes them by (category, tier) with most-specific-tier-wins
// precedence, and caches the index with TTL and filesystem-watch
// invalidation.
package directory

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrAgentNotFound is returned when no template exists for a category in
// any discovery root.
var ErrAgentNotFound = errors.New("directory: agent not found")

// DefaultTTL is how long a built index is trusted without a rebuild.
const DefaultTTL = 5 * time.Minute

// templateExt is the file extension of instruction templates.
const templateExt = ".md"

// Tier identifies a discovery scope. Higher tiers are more specific and
// win on category collisions.
type Tier int

const (
	// TierSystem is the machine-wide scope.
	TierSystem Tier = iota
	// TierParent is the parent-directory scope.
	TierParent
	// TierProject is the project-local scope.
	TierProject
)

// String returns the tier name.
func (t Tier) String() string {
	switch t {
	case TierSystem:
		return "system"
	case TierParent:
		return "parent"
	case TierProject:
		return "project"
	default:
		return "unknown"
	}
}

// Root is one discovery root.
type Root struct {
	// Path is the directory scanned for <category>.md templates.
	Path string
	// Tier is the scope precedence of templates found under Path.
	Tier Tier
}

// DefaultRoots returns the standard discovery roots for a working
// directory: <dir>/.conductor/agents, <parent>/.conductor/agents, and
// the user-level agents directory.
func DefaultRoots(workingDir string) []Root {
	roots := []Root{
		{Path: filepath.Join(workingDir, ".conductor", "agents"), Tier: TierProject},
		{Path: filepath.Join(filepath.Dir(workingDir), ".conductor", "agents"), Tier: TierParent},
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			configDir = filepath.Join(home, ".config")
		}
	}
	if configDir != "" {
		roots = append(roots, Root{Path: filepath.Join(configDir, "conductor", "agents"), Tier: TierSystem})
	}
	return roots
}

// entry is one indexed template.
type entry struct {
	tier Tier
	path string
}

// Directory is the agent template index. Safe for concurrent use.
type Directory struct {
	roots []Root
	ttl   time.Duration

	mu      sync.RWMutex
	index   map[string]entry
	builtAt time.Time
	dirty   bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// New creates a directory over the given roots. ttl <= 0 uses DefaultTTL.
func New(roots []Root, ttl time.Duration) (*Directory, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("directory: no discovery roots")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	d := &Directory{roots: roots, ttl: ttl}
	if err := d.Refresh(); err != nil {
		return nil, err
	}
	return d, nil
}

// Refresh rebuilds the index immediately.
func (d *Directory) Refresh() error {
	index := make(map[string]entry)
	for _, root := range d.roots {
		entries, err := os.ReadDir(root.Path)
		if err != nil {
			// Missing roots are expected; a project may only define some
			// scopes.
			continue
		}
		for _, de := range entries {
			if de.IsDir() || !strings.HasSuffix(de.Name(), templateExt) {
				continue
			}
			category := strings.TrimSuffix(de.Name(), templateExt)
			existing, ok := index[category]
			if ok && existing.tier >= root.Tier {
				continue
			}
			index[category] = entry{tier: root.Tier, path: filepath.Join(root.Path, de.Name())}
		}
	}

	d.mu.Lock()
	d.index = index
	d.builtAt = time.Now()
	d.dirty = false
	d.mu.Unlock()
	return nil
}

// ensureFresh rebuilds the index when the TTL elapsed or a watch event
// marked it dirty.
func (d *Directory) ensureFresh() {
	d.mu.RLock()
	stale := d.dirty || time.Since(d.builtAt) > d.ttl
	d.mu.RUnlock()
	if stale {
		d.Refresh()
	}
}

// ResolveTemplate returns the instruction template text for a category,
// or ErrAgentNotFound.
func (d *Directory) ResolveTemplate(category string) (string, error) {
	d.ensureFresh()

	d.mu.RLock()
	e, ok := d.index[category]
	d.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrAgentNotFound, category)
	}

	data, err := os.ReadFile(e.path)
	if err != nil {
		// The file vanished between indexing and reading; rebuild on the
		// next call.
		d.mu.Lock()
		d.dirty = true
		d.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrAgentNotFound, category)
	}
	return string(data), nil
}

// ResolveTier returns the tier a category's template was resolved from.
func (d *Directory) ResolveTier(category string) (Tier, error) {
	d.ensureFresh()
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.index[category]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrAgentNotFound, category)
	}
	return e.tier, nil
}

// Categories returns all resolvable categories.
func (d *Directory) Categories() []string {
	d.ensureFresh()
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.index))
	for c := range d.index {
		out = append(out, c)
	}
	return out
}

// Watch starts filesystem watching on the existing roots; any change marks
// the index dirty so the next resolve rebuilds it. Watching is best-effort:
// roots that do not exist yet are skipped.
func (d *Directory) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	watched := 0
	for _, root := range d.roots {
		if info, err := os.Stat(root.Path); err != nil || !info.IsDir() {
			continue
		}
		if err := watcher.Add(root.Path); err == nil {
			watched++
		}
	}
	if watched == 0 {
		watcher.Close()
		return nil
	}

	d.watcher = watcher
	d.done = make(chan struct{})
	go func() {
		for {
			select {
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				d.mu.Lock()
				d.dirty = true
				d.mu.Unlock()
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			case <-d.done:
				return
			}
		}
	}()
	return nil
}

// Close stops filesystem watching.
func (d *Directory) Close() {
	if d.watcher != nil {
		close(d.done)
		d.watcher.Close()
		d.watcher = nil
	}
}
