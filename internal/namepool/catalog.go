// Package namepool ships curated candidate pools so a run can start without
// typing every name by hand. Defaults are embedded; an override directory can
// add site-specific pools.
package namepool

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	yaml "gopkg.in/yaml.v3"

	"github.com/jwp-labs/rankduel/internal/util"
)

//go:embed pools.yaml
var defaultFiles embed.FS

type Pool struct {
	Key   string   `yaml:"key"`
	Title string   `yaml:"title"`
	Names []string `yaml:"names"`
}

type poolFile struct {
	Pools []Pool `yaml:"pools"`
}

// Catalog is an indexed, read-only view of the loaded pools.
type Catalog struct {
	entries []Pool
	byKey   map[string]*Pool
	byTitle map[string]*Pool
}

// New loads the embedded default pools and then applies overrides from dir if
// provided. Override pools replace embedded pools with the same key.
func New(overrideDir string) (*Catalog, error) {
	raw, err := fs.ReadFile(defaultFiles, "pools.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded pools: %w", err)
	}
	pools, err := parsePools(raw)
	if err != nil {
		return nil, fmt.Errorf("parse embedded pools: %w", err)
	}

	merged := make(map[string]Pool, len(pools))
	order := make([]string, 0, len(pools))
	for _, p := range pools {
		if _, ok := merged[p.Key]; !ok {
			order = append(order, p.Key)
		}
		merged[p.Key] = p
	}

	if strings.TrimSpace(overrideDir) != "" {
		extra, err := loadDir(overrideDir)
		if err != nil {
			return nil, err
		}
		for _, p := range extra {
			if _, ok := merged[p.Key]; !ok {
				order = append(order, p.Key)
			}
			merged[p.Key] = p
		}
	}

	entries := make([]Pool, 0, len(order))
	for _, key := range order {
		entries = append(entries, merged[key])
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	c := &Catalog{
		entries: entries,
		byKey:   make(map[string]*Pool, len(entries)),
		byTitle: make(map[string]*Pool, len(entries)),
	}
	for i := range c.entries {
		p := &c.entries[i]
		if token := normalizeToken(p.Key); token != "" {
			c.byKey[token] = p
		}
		if token := normalizeToken(p.Title); token != "" {
			c.byTitle[token] = p
		}
	}
	return c, nil
}

func loadDir(dir string) ([]Pool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read pool dir: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	// Guard against the same pool key appearing in two override files.
	seen := make(map[string]string) // key -> filename
	var out []Pool
	for _, name := range files {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		pools, err := parsePools(b)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		for _, p := range pools {
			if prev, ok := seen[p.Key]; ok {
				return nil, fmt.Errorf("duplicate pool key %q in %s and %s", p.Key, prev, name)
			}
			seen[p.Key] = name
			out = append(out, p)
		}
	}
	return out, nil
}

func parsePools(b []byte) ([]Pool, error) {
	var file poolFile
	if err := yaml.Unmarshal(b, &file); err != nil {
		return nil, err
	}
	out := make([]Pool, 0, len(file.Pools))
	for _, p := range file.Pools {
		p.Key = strings.TrimSpace(p.Key)
		if p.Key == "" {
			return nil, fmt.Errorf("pool without key")
		}
		if strings.TrimSpace(p.Title) == "" {
			p.Title = p.Key
		}
		names, err := cleanNames(p.Key, p.Names)
		if err != nil {
			return nil, err
		}
		p.Names = names
		out = append(out, p)
	}
	return out, nil
}

func cleanNames(poolKey string, names []string) ([]string, error) {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		display := util.NormalizeDisplayName(n)
		if display == "" {
			continue
		}
		key := util.ItemKey(display)
		if _, ok := seen[key]; ok {
			return nil, fmt.Errorf("pool %q repeats name %q", poolKey, display)
		}
		seen[key] = struct{}{}
		out = append(out, display)
	}
	if len(out) < 2 {
		return nil, fmt.Errorf("pool %q needs at least 2 names", poolKey)
	}
	return out, nil
}

// Find resolves a user token against pool keys first, then titles.
func (c *Catalog) Find(token string) (Pool, bool) {
	norm := normalizeToken(token)
	if norm == "" {
		return Pool{}, false
	}
	if p, ok := c.byKey[norm]; ok {
		return copyPool(p), true
	}
	if p, ok := c.byTitle[norm]; ok {
		return copyPool(p), true
	}
	return Pool{}, false
}

// List returns all pools sorted by key.
func (c *Catalog) List() []Pool {
	out := make([]Pool, 0, len(c.entries))
	for i := range c.entries {
		out = append(out, copyPool(&c.entries[i]))
	}
	return out
}

func copyPool(p *Pool) Pool {
	cp := *p
	cp.Names = append([]string(nil), p.Names...)
	return cp
}

func normalizeToken(s string) string {
	trimmed := strings.ToLower(strings.TrimSpace(s))
	if trimmed == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range trimmed {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
