package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"ffigen/internal/target"
	"ffigen/internal/types"
)

// FileName is the configuration file looked up by Find.
const FileName = "ffigen.toml"

type fileConfig struct {
	UnknownTypes      string       `toml:"unknown_types"`
	EnumEmission      string       `toml:"enum_emission"`
	EnumRepr          string       `toml:"enum_repr"`
	EnumReprOverride  string       `toml:"enum_repr_override"`
	DeriveDebug       string       `toml:"derive_debug"`
	DeriveArrayLimit  int64        `toml:"derive_array_limit"`
	Builtins          bool         `toml:"builtins"`
	Match             []string     `toml:"match"`
	LinkPrefix        string       `toml:"link_prefix"`
	MaxRenameAttempts int          `toml:"max_rename_attempts"`
	Emit              emitSection  `toml:"emit"`
	Filter            filterConfig `toml:"filter"`
	Target            targetConfig `toml:"target"`
	Link              []linkConfig `toml:"link"`
}

type emitSection struct {
	Functions   bool `toml:"functions"`
	Enums       bool `toml:"enums"`
	Globals     bool `toml:"globals"`
	Types       bool `toml:"types"`
	LayoutTests bool `toml:"layout_tests"`
}

type filterConfig struct {
	Allow []string `toml:"allow"`
	Deny  []string `toml:"deny"`
}

type targetConfig struct {
	Preset          string                `toml:"preset"`
	PointerSize     int64                 `toml:"pointer_size"`
	PointerAlign    int64                 `toml:"pointer_align"`
	CharSigned      bool                  `toml:"char_signed"`
	BitfieldOrder   string                `toml:"bitfield_order"`
	BitfieldUnit    string                `toml:"bitfield_unit"`
	BitfieldPacking string                `toml:"bitfield_packing"`
	Prims           map[string]primConfig `toml:"prims"`
}

type primConfig struct {
	Size  int64 `toml:"size"`
	Align int64 `toml:"align"`
}

type linkConfig struct {
	Name string `toml:"name"`
	Kind string `toml:"kind"`
}

// Find walks from startDir towards the filesystem root looking for
// ffigen.toml.
func Find(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// Load reads path and applies every key it defines on top of Default().
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	cfg, err := Parse(string(data))
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes TOML text into a Config.
func Parse(text string) (Config, error) {
	var fc fileConfig
	meta, err := toml.Decode(text, &fc)
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse TOML: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return Config{}, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	cfg := Default()
	if err := apply(&cfg, &fc, meta); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func apply(cfg *Config, fc *fileConfig, meta toml.MetaData) error {
	var err error
	if meta.IsDefined("unknown_types") {
		if cfg.UnknownTypes, err = ParseUnknownTypePolicy(fc.UnknownTypes); err != nil {
			return err
		}
	}
	if meta.IsDefined("enum_emission") {
		if cfg.EnumEmission, err = ParseEnumEmission(fc.EnumEmission); err != nil {
			return err
		}
	}
	if meta.IsDefined("enum_repr") {
		if cfg.EnumRepr, err = ParseEnumRepr(fc.EnumRepr); err != nil {
			return err
		}
	}
	if meta.IsDefined("enum_repr_override") {
		if cfg.EnumReprOverride, err = ParseEnumOverride(fc.EnumReprOverride); err != nil {
			return err
		}
	}
	if meta.IsDefined("derive_debug") {
		if cfg.DeriveDebug, err = ParseDeriveDebug(fc.DeriveDebug); err != nil {
			return err
		}
	}
	if meta.IsDefined("derive_array_limit") {
		if fc.DeriveArrayLimit < 0 {
			return fmt.Errorf("derive_array_limit must not be negative, got %d", fc.DeriveArrayLimit)
		}
		cfg.DeriveArrayLimit = uint64(fc.DeriveArrayLimit)
	}
	if meta.IsDefined("builtins") {
		cfg.Builtins = fc.Builtins
	}
	if meta.IsDefined("match") {
		cfg.Match = append([]string(nil), fc.Match...)
	}
	if meta.IsDefined("link_prefix") {
		cfg.LinkPrefix = fc.LinkPrefix
	}
	if meta.IsDefined("max_rename_attempts") {
		cfg.MaxRenameAttempts = fc.MaxRenameAttempts
	}
	applyEmit(&cfg.Emit, &fc.Emit, meta)

	if meta.IsDefined("filter") {
		filter, err := NewFilter(fc.Filter.Allow, fc.Filter.Deny)
		if err != nil {
			return err
		}
		cfg.Filter = filter
	}
	if meta.IsDefined("target") {
		tgt, err := applyTarget(cfg.Target, &fc.Target, meta)
		if err != nil {
			return err
		}
		cfg.Target = tgt
	}
	for i, l := range fc.Link {
		kind, err := ParseLinkKind(l.Kind)
		if err != nil {
			return fmt.Errorf("link[%d]: %w", i, err)
		}
		cfg.Links = append(cfg.Links, Link{Name: l.Name, Kind: kind})
	}
	return nil
}

func applyEmit(e *Emit, fe *emitSection, meta toml.MetaData) {
	if meta.IsDefined("emit", "functions") {
		e.Functions = fe.Functions
	}
	if meta.IsDefined("emit", "enums") {
		e.Enums = fe.Enums
	}
	if meta.IsDefined("emit", "globals") {
		e.Globals = fe.Globals
	}
	if meta.IsDefined("emit", "types") {
		e.Types = fe.Types
	}
	if meta.IsDefined("emit", "layout_tests") {
		e.LayoutTests = fe.LayoutTests
	}
}

func applyTarget(base target.Target, tc *targetConfig, meta toml.MetaData) (target.Target, error) {
	tgt := base
	if meta.IsDefined("target", "preset") {
		preset, err := target.Lookup(tc.Preset)
		if err != nil {
			return target.Target{}, fmt.Errorf("target.preset: %w", err)
		}
		tgt = preset
	}
	if meta.IsDefined("target", "pointer_size") {
		if tc.PointerSize <= 0 {
			return target.Target{}, fmt.Errorf("target.pointer_size must be positive")
		}
		tgt.PtrSize = uint64(tc.PointerSize)
		if !meta.IsDefined("target", "pointer_align") {
			tgt.PtrAlign = tgt.PtrSize
		}
	}
	if meta.IsDefined("target", "pointer_align") {
		if tc.PointerAlign <= 0 {
			return target.Target{}, fmt.Errorf("target.pointer_align must be positive")
		}
		tgt.PtrAlign = uint64(tc.PointerAlign)
	}
	if meta.IsDefined("target", "char_signed") {
		tgt.CharSigned = tc.CharSigned
	}
	if meta.IsDefined("target", "bitfield_order") {
		order, err := target.ParseBitfieldOrder(tc.BitfieldOrder)
		if err != nil {
			return target.Target{}, fmt.Errorf("target.bitfield_order: %w", err)
		}
		tgt.BitfieldOrder = order
	}
	if meta.IsDefined("target", "bitfield_unit") {
		unit, err := target.ParseUnitSelection(tc.BitfieldUnit)
		if err != nil {
			return target.Target{}, fmt.Errorf("target.bitfield_unit: %w", err)
		}
		tgt.BitfieldUnit = unit
	}
	if meta.IsDefined("target", "bitfield_packing") {
		packing, err := target.ParseBitfieldPacking(tc.BitfieldPacking)
		if err != nil {
			return target.Target{}, fmt.Errorf("target.bitfield_packing: %w", err)
		}
		tgt.BitfieldPacking = packing
	}
	names := make([]string, 0, len(tc.Prims))
	for name := range tc.Prims {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		pc := tc.Prims[name]
		prim, ok := types.ParsePrim(name)
		if !ok || prim == types.PrimVoid {
			return target.Target{}, fmt.Errorf("target.prims: unknown primitive %q", name)
		}
		if pc.Size <= 0 || pc.Align <= 0 {
			return target.Target{}, fmt.Errorf("target.prims.%s: size and align must be positive", name)
		}
		tgt = tgt.WithPrim(prim, target.PrimLayout{Size: uint64(pc.Size), Align: uint64(pc.Align)})
	}
	return tgt, nil
}
