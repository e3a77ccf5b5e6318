// Package cache keeps emitted outputs keyed by the digest of the declaration
// records and the configuration that produced them.
//
// Lookups go through an in-memory LRU first and then, when a directory is
// configured, through msgpack files on disk.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/vmihailenco/msgpack/v5"

	"ffigen/internal/diag"
	"ffigen/internal/emit"
	"ffigen/internal/version"
)

// Current schema version - increment when Payload format changes
const schemaVersion uint16 = 1

// DefaultEntries is the in-memory capacity used when none is given.
const DefaultEntries = 256

// Digest identifies one cached unit.
type Digest [sha256.Size]byte

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// Key digests the raw declaration records together with the configuration
// fingerprint and the generator build, so an upgraded ffigen never serves
// output rendered by an older one.
func Key(input []byte, fingerprint string) Digest {
	info := version.Get()
	h := sha256.New()
	fmt.Fprintf(h, "ffigen-cache/%d\n", schemaVersion)
	fmt.Fprintf(h, "generator=%s+%s\n", info.Version, info.GitCommit)
	fmt.Fprintf(h, "%d:%s\n", len(fingerprint), fingerprint)
	h.Write(input)
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// Entry is what a cache hit restores.
type Entry struct {
	Output *emit.Output
	Diags  []diag.Diagnostic
}

// Payload is the on-disk form of an Entry. Item kinds are stored as
// numbers so that decoding does not depend on text marshalers.
type Payload struct {
	Schema     uint16
	Target     string
	LinkPrefix string
	Links      []emit.Link
	Items      []ItemPayload
	Diags      []diag.Diagnostic
}

// ItemPayload mirrors emit.Item.
type ItemPayload struct {
	Kind    uint8
	Name    string
	CName   string
	Renamed bool
	Loc     string
	Size    uint64
	Align   uint64
	Repr    string
	Type    string
	Derives []string
	Fields  []emit.Field
	Extern  bool
	Text    string
}

// Cache is safe for concurrent use.
type Cache struct {
	mu  sync.RWMutex
	dir string
	mem *lru.Cache[Digest, *Entry]
}

// New creates a cache holding up to entries outputs in memory. dir may be
// empty for a memory-only cache.
func New(entries int, dir string) (*Cache, error) {
	if entries <= 0 {
		entries = DefaultEntries
	}
	mem, err := lru.New[Digest, *Entry](entries)
	if err != nil {
		return nil, err
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("cache dir: %w", err)
		}
	}
	return &Cache{dir: dir, mem: mem}, nil
}

// DefaultDir returns $XDG_CACHE_HOME/ffigen or ~/.cache/ffigen.
func DefaultDir() (string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".cache")
	}
	return filepath.Join(base, "ffigen"), nil
}

// Dir is the disk location, or "" for a memory-only cache.
func (c *Cache) Dir() string {
	if c == nil {
		return ""
	}
	return c.dir
}

// Len reports the number of entries held in memory.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.mem.Len()
}

func (c *Cache) pathFor(key Digest) string {
	return filepath.Join(c.dir, "units", key.String()+".mp")
}

// Get returns the entry for key. A nil cache always misses.
func (c *Cache) Get(key Digest) (*Entry, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	if e, ok := c.mem.Get(key); ok {
		return e, true, nil
	}
	if c.dir == "" {
		return nil, false, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	f, err := os.Open(c.pathFor(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer f.Close()

	var p Payload
	if err := msgpack.NewDecoder(f).Decode(&p); err != nil {
		return nil, false, fmt.Errorf("cache entry %s: %w", key, err)
	}
	if p.Schema != schemaVersion {
		return nil, false, nil
	}
	e := fromPayload(&p)
	c.mem.Add(key, e)
	return e, true, nil
}

// Put stores an entry in memory and, when configured, on disk.
func (c *Cache) Put(key Digest, e *Entry) error {
	if c == nil || e == nil || e.Output == nil {
		return nil
	}
	c.mem.Add(key, e)
	if c.dir == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(p), "tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if err := msgpack.NewEncoder(f).Encode(toPayload(e)); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	// Atomic replace
	return os.Rename(tmp, p)
}

// Purge drops every entry, in memory and on disk.
func (c *Cache) Purge() error {
	if c == nil {
		return nil
	}
	c.mem.Purge()
	if c.dir == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return os.RemoveAll(filepath.Join(c.dir, "units"))
}

func toPayload(e *Entry) *Payload {
	out := e.Output
	p := &Payload{
		Schema:     schemaVersion,
		Target:     out.Target,
		LinkPrefix: out.LinkPrefix,
		Links:      out.Links,
		Items:      make([]ItemPayload, len(out.Items)),
		Diags:      e.Diags,
	}
	for i, it := range out.Items {
		p.Items[i] = ItemPayload{
			Kind: uint8(it.Kind), Name: it.Name, CName: it.CName, Renamed: it.Renamed,
			Loc: it.Loc, Size: it.Size, Align: it.Align, Repr: it.Repr, Type: it.Type,
			Derives: it.Derives, Fields: it.Fields, Extern: it.Extern, Text: it.Text,
		}
	}
	return p
}

func fromPayload(p *Payload) *Entry {
	out := &emit.Output{
		Target:     p.Target,
		LinkPrefix: p.LinkPrefix,
		Links:      p.Links,
		Items:      make([]emit.Item, len(p.Items)),
	}
	for i, it := range p.Items {
		out.Items[i] = emit.Item{
			Kind: emit.ItemKind(it.Kind), Name: it.Name, CName: it.CName, Renamed: it.Renamed,
			Loc: it.Loc, Size: it.Size, Align: it.Align, Repr: it.Repr, Type: it.Type,
			Derives: it.Derives, Fields: it.Fields, Extern: it.Extern, Text: it.Text,
		}
	}
	return &Entry{Output: out, Diags: p.Diags}
}
