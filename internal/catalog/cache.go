package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

// cacheExts are the recognised snapshot extensions. Uploads are stored
// byte-for-byte; the extension only records which decoder they need.
var cacheExts = []string{".tsv", ".xlsx"}

// Cache keeps catalog snapshots on disk as "<name>_<unixmilli>.<ext>",
// pruning older snapshots per catalog.
type Cache struct {
	dir      string
	maxFiles int
}

// NewCache creates a Cache in dir keeping at most maxFiles snapshots per
// catalog (default 3).
func NewCache(dir string, maxFiles int) *Cache {
	if maxFiles <= 0 {
		maxFiles = 3
	}
	return &Cache{dir: dir, maxFiles: maxFiles}
}

// Write stores data as the newest snapshot of catalog name.
func (c *Cache) Write(name string, data []byte, ts time.Time) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}

	ext := ".tsv"
	if bytes.HasPrefix(data, xlsxMagic) {
		ext = ".xlsx"
	}
	path := filepath.Join(c.dir, safeName(name)+"_"+strconv.FormatInt(ts.UnixMilli(), 10)+ext)

	tmp, err := os.CreateTemp(c.dir, ".catalog-*")
	if err != nil {
		return fmt.Errorf("writing cache file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing cache file: %w", err)
	}

	return c.prune(name, c.maxFiles)
}

// LoadLatest reads the newest snapshot of catalog name.
func (c *Cache) LoadLatest(name string) ([]byte, time.Time, error) {
	snaps, err := c.snapshots(name)
	if err != nil {
		return nil, time.Time{}, err
	}
	if len(snaps) == 0 {
		return nil, time.Time{}, fmt.Errorf("no cached snapshot for %s", name)
	}

	latest := snaps[len(snaps)-1]
	data, err := os.ReadFile(filepath.Join(c.dir, latest.file))
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("reading cache file: %w", err)
	}
	return data, latest.ts, nil
}

// Remove deletes every snapshot of catalog name, so an unloaded catalog is
// not restored on the next start.
func (c *Cache) Remove(name string) error {
	return c.prune(name, 0)
}

// Names returns the catalog names with at least one snapshot, sorted.
func (c *Cache) Names() ([]string, error) {
	entries, err := c.entries()
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if name, _, ok := splitCacheName(e.Name()); ok && !e.IsDir() && !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

type snapshot struct {
	file string
	ts   time.Time
}

// snapshots lists name's snapshots, oldest first.
func (c *Cache) snapshots(name string) ([]snapshot, error) {
	entries, err := c.entries()
	if err != nil {
		return nil, err
	}

	want := safeName(name)
	var out []snapshot
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		base, ts, ok := splitCacheName(e.Name())
		if ok && base == want {
			out = append(out, snapshot{file: e.Name(), ts: ts})
		}
	}
	slices.SortFunc(out, func(a, b snapshot) int { return a.ts.Compare(b.ts) })
	return out, nil
}

func (c *Cache) entries() ([]fs.DirEntry, error) {
	entries, err := os.ReadDir(c.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing cache dir: %w", err)
	}
	return entries, nil
}

// prune removes all but the newest keep snapshots of name.
func (c *Cache) prune(name string, keep int) error {
	snaps, err := c.snapshots(name)
	if err != nil {
		return err
	}
	if len(snaps) <= keep {
		return nil
	}
	for _, s := range snaps[:len(snaps)-keep] {
		if err := os.Remove(filepath.Join(c.dir, s.file)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("pruning %s: %w", s.file, err)
		}
	}
	return nil
}

// splitCacheName parses "<name>_<unixmilli>.<ext>".
func splitCacheName(filename string) (string, time.Time, bool) {
	ext := filepath.Ext(filename)
	if !slices.Contains(cacheExts, ext) {
		return "", time.Time{}, false
	}
	stem := strings.TrimSuffix(filename, ext)
	i := strings.LastIndexByte(stem, '_')
	if i <= 0 {
		return "", time.Time{}, false
	}
	ms, err := strconv.ParseInt(stem[i+1:], 10, 64)
	if err != nil {
		return "", time.Time{}, false
	}
	return stem[:i], time.UnixMilli(ms), true
}

// safeName maps a catalog name to a filesystem-safe stem.
func safeName(name string) string {
	stem := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		}
		return '-'
	}, name)
	if stem == "" {
		return "catalog"
	}
	return stem
}
