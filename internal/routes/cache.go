// Package routes owns the subdomain-to-target table. The table is loaded
// from a JSON config file, cached with a TTL, and swapped wholesale on
// reload: readers always see either the previous table or the new one,
// never a partial state.
package routes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	applog "github.com/devhost-sh/devhost/internal/log"
	"github.com/devhost-sh/devhost/internal/metrics"
	"github.com/devhost-sh/devhost/internal/target"
)

// Entry is one route. Unparseable targets are kept and flagged with Err
// instead of being dropped, so /routes can report them.
type Entry struct {
	Name   string
	Raw    string
	Target target.Target
	Err    error
}

// Table is an immutable snapshot of the route config.
type Table struct {
	Entries    map[string]Entry
	SourcePath string
	MTime      time.Time
	LoadedAt   time.Time
}

// Lookup returns the entry for a (lowercase) subdomain.
func (t *Table) Lookup(name string) (Entry, bool) {
	e, ok := t.Entries[name]
	return e, ok
}

// Names returns the route names in sorted order.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.Entries))
	for name := range t.Entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Metrics reports cache effectiveness counters.
type Metrics struct {
	Hits            uint64  `json:"hits"`
	Misses          uint64  `json:"misses"`
	Reloads         uint64  `json:"reloads"`
	HitRate         float64 `json:"hitRate"`
	CacheAgeSeconds float64 `json:"cacheAgeSeconds"`
}

// Options configures a Cache. Zero TTLs fall back to the defaults.
type Options struct {
	// ExplicitPath overrides path discovery (DEVHOST_CONFIG).
	ExplicitPath string
	// RouteTTL bounds how long a loaded table is served without re-reading.
	RouteTTL time.Duration
	// ConfigTTL bounds how often the config file is stat-ed at all.
	ConfigTTL time.Duration
}

// Cache serves the current route table, reloading when the config file's
// mtime changes or the TTL expires. At most one reload runs at a time; other
// callers wait on the same lock and then observe the fresh table.
type Cache struct {
	explicitPath string
	routeTTL     time.Duration
	configTTL    time.Duration

	table    atomic.Pointer[Table]
	lastStat atomic.Int64 // unix nanos of the last stat check
	force    atomic.Bool

	reloadMu sync.Mutex

	hits    atomic.Uint64
	misses  atomic.Uint64
	reloads atomic.Uint64
}

func NewCache(opts Options) *Cache {
	if opts.RouteTTL <= 0 {
		opts.RouteTTL = 60 * time.Second
	}
	if opts.ConfigTTL <= 0 {
		opts.ConfigTTL = 30 * time.Second
	}
	c := &Cache{
		explicitPath: opts.ExplicitPath,
		routeTTL:     opts.RouteTTL,
		configTTL:    opts.ConfigTTL,
	}
	c.table.Store(&Table{Entries: map[string]Entry{}})
	return c
}

// candidatePaths lists where the route config may live, highest priority
// first. The first existing file wins.
func (c *Cache) candidatePaths() []string {
	var paths []string
	if c.explicitPath != "" {
		paths = append(paths, c.explicitPath)
	}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "devhost", "routes.json"))
	}
	paths = append(paths,
		"devhost.json",
		filepath.Join(".devhost", "routes.json"),
		filepath.Join("config", "routes.json"),
	)
	return paths
}

// ActivePath returns the config file currently in effect ("" if none exists).
func (c *Cache) ActivePath() string {
	for _, p := range c.candidatePaths() {
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p
		}
	}
	return ""
}

// Routes returns the current table, reloading it first if the config file
// changed or the TTL expired.
func (c *Cache) Routes() *Table {
	now := time.Now()

	// Stat throttle: under load we do not touch the filesystem on every
	// request.
	if !c.force.Load() && now.UnixNano()-c.lastStat.Load() < int64(c.configTTL) {
		c.hits.Add(1)
		metrics.RouteCacheHit()
		return c.table.Load()
	}

	if !c.needsReload(now) {
		c.lastStat.Store(now.UnixNano())
		c.hits.Add(1)
		metrics.RouteCacheHit()
		return c.table.Load()
	}

	c.misses.Add(1)
	metrics.RouteCacheMiss()

	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()
	// Double-check: another caller may have reloaded while we waited.
	if c.needsReload(time.Now()) {
		c.reload()
	}
	c.lastStat.Store(time.Now().UnixNano())
	return c.table.Load()
}

// needsReload reports whether the current table is stale relative to the
// file on disk and the TTL.
func (c *Cache) needsReload(now time.Time) bool {
	if c.force.Load() {
		return true
	}
	cur := c.table.Load()
	path := c.ActivePath()
	if path != cur.SourcePath {
		return true
	}
	if path == "" {
		// No config file anywhere; the empty table stays valid until the TTL
		// asks us to look again.
		return now.Sub(cur.LoadedAt) >= c.routeTTL
	}
	st, err := os.Stat(path)
	if err != nil {
		return true
	}
	if !st.ModTime().Equal(cur.MTime) {
		return true
	}
	return now.Sub(cur.LoadedAt) >= c.routeTTL
}

// reload parses the config into a fresh table and swaps it in. On any read
// or parse failure the previous table is kept; a transient write race must
// never blank out routing.
func (c *Cache) reload() {
	c.reloads.Add(1)
	metrics.RouteReload()

	path := c.ActivePath()
	now := time.Now()

	if path == "" {
		c.table.Store(&Table{Entries: map[string]Entry{}, LoadedAt: now})
		c.force.Store(false)
		return
	}

	st, err := os.Stat(path)
	if err != nil {
		applog.Warn("route config became unreadable, keeping previous table", "path", path, "err", err)
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		applog.Warn("route config read failed, keeping previous table", "path", path, "err", err)
		return
	}

	entries, err := parseConfig(data)
	if err != nil {
		applog.Warn("route config parse failed, keeping previous table", "path", path, "err", err)
		return
	}

	c.table.Store(&Table{
		Entries:    entries,
		SourcePath: path,
		MTime:      st.ModTime(),
		LoadedAt:   now,
	})
	c.force.Store(false)
	metrics.SetRouteCount(len(entries))
	applog.Info("routes loaded", "path", path, "count", len(entries))
}

// parseConfig decodes the JSON object {name: target}. Keys are case-folded;
// invalid targets are retained with their parse error.
func parseConfig(data []byte) (map[string]Entry, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode route config: %w", err)
	}

	entries := make(map[string]Entry, len(raw))
	for name, value := range raw {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		entry := Entry{Name: name, Raw: rawString(value)}
		tgt, err := target.Resolve(value)
		if err != nil {
			entry.Err = err
		} else {
			entry.Target = tgt
		}
		entries[name] = entry
	}
	return entries, nil
}

func rawString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Invalidate forces the next Routes call to reload regardless of TTL state.
func (c *Cache) Invalidate() {
	c.force.Store(true)
}

// Len returns the number of routes in the current table without triggering
// a reload.
func (c *Cache) Len() int {
	return len(c.table.Load().Entries)
}

// Metrics returns a snapshot of the cache counters.
func (c *Cache) Metrics() Metrics {
	hits := c.hits.Load()
	misses := c.misses.Load()
	m := Metrics{
		Hits:    hits,
		Misses:  misses,
		Reloads: c.reloads.Load(),
	}
	if hits+misses > 0 {
		m.HitRate = float64(hits) / float64(hits+misses)
	}
	if loadedAt := c.table.Load().LoadedAt; !loadedAt.IsZero() {
		m.CacheAgeSeconds = time.Since(loadedAt).Seconds()
	}
	return m
}
