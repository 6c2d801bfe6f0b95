// Package mib translates numeric object identifiers into symbolic names.
//
// A Translator starts with a built-in table of the standard trap and system
// objects and can be extended with MIB modules loaded from a directory.
// Lookups are served from a trie and memoized in an LRU cache.
//
// Basic Usage:
//
//	translator, err := mib.New(mib.Config{Directory: "/usr/share/snmp/mibs"})
//	if err != nil {
//		return err
//	}
//
//	name, ok := translator.Translate("1.3.6.1.6.3.1.1.5.3") // "linkDown", true
//	name, ok = translator.Translate("1.3.6.1.2.1.2.2.1.2.7") // "ifDescr.7", true
package mib

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/geekxflood/snmpgateway/logging"
	"github.com/geekxflood/snmpgateway/normalize"
)

// DefaultCacheSize bounds the number of memoized translations.
const DefaultCacheSize = 4096

// Config holds translator options.
type Config struct {
	// Directory holds MIB modules to load; empty means built-ins only.
	Directory string
	CacheSize int
	Logger    logging.Logger
}

// Stats describes what the translator has loaded.
type Stats struct {
	LoadedFiles int `json:"loadedFiles"`
	Symbols     int `json:"symbols"`
	Unresolved  int `json:"unresolved"`
	CacheLen    int `json:"cacheLen"`
}

type lookup struct {
	name string
	ok   bool
}

// Translator resolves OIDs to names. It is safe for concurrent use.
type Translator struct {
	logger logging.Logger

	mu      sync.RWMutex
	trie    *oidTrie
	symbols map[string]string
	stats   Stats

	cache *lru.Cache[string, lookup]
}

// New builds a Translator and loads cfg.Directory when set.
func New(cfg Config) (*Translator, error) {
	size := cfg.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, lookup](size)
	if err != nil {
		return nil, fmt.Errorf("create translation cache: %w", err)
	}

	t := &Translator{
		logger:  cfg.Logger,
		trie:    newOIDTrie(),
		symbols: make(map[string]string, len(builtin)),
		cache:   cache,
	}
	if t.logger == nil {
		t.logger = logging.NewComponentLogger("mib", "translator")
	}

	for oid, name := range builtin {
		t.trie.insert(oid, name)
		t.symbols[name] = oid
	}

	if cfg.Directory != "" {
		if err := t.LoadDir(cfg.Directory); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Translate returns the symbolic name of oid. When only an ancestor is
// known, the remaining arcs are appended as an instance suffix.
func (t *Translator) Translate(oid string) (string, bool) {
	key := normalize.TrimOID(oid)
	if hit, ok := t.cache.Get(key); ok {
		return hit.name, hit.ok
	}

	t.mu.RLock()
	name, rest, ok := t.trie.longestPrefix(key)
	t.mu.RUnlock()

	if ok && len(rest) > 0 {
		name = name + "." + formatArcs(rest)
	}
	t.cache.Add(key, lookup{name: name, ok: ok})
	return name, ok
}

// Lookup returns the numeric OID of a symbol.
func (t *Translator) Lookup(name string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	oid, ok := t.symbols[name]
	return oid, ok
}

// LoadDir parses every MIB module under dir. Unreadable files are logged and
// skipped; only a missing directory is an error.
func (t *Translator) LoadDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("MIB directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("MIB directory %s: not a directory", dir)
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isMIBFile(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan MIB directory %s: %w", dir, err)
	}
	sort.Strings(files)

	var (
		defs   []definition
		loaded int
	)
	for _, path := range files {
		fileDefs, err := parseFile(path)
		if err != nil {
			t.logger.Warn("skipping MIB file", "path", path, "error", err)
			continue
		}
		defs = append(defs, fileDefs...)
		loaded++
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	resolved, orphans := resolve(t.symbols, defs)
	for name, oid := range resolved {
		if t.trie.insert(oid, name) {
			t.symbols[name] = oid
		}
	}

	t.stats.LoadedFiles += loaded
	t.stats.Unresolved += len(orphans)
	t.cache.Purge()

	t.logger.Info("MIB modules loaded", "directory", dir, "files", loaded, "symbols", len(resolved), "unresolved", len(orphans))
	return nil
}

// Stats returns a snapshot of loader statistics.
func (t *Translator) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.stats
	s.Symbols = t.trie.size
	s.CacheLen = t.cache.Len()
	return s
}
