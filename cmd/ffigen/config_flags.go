package main

import (
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"ffigen/internal/config"
	"ffigen/internal/target"
)

// addPolicyFlags registers the flags that mirror ffigen.toml keys.
func addPolicyFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Bool("allow-unknown-types", false, "treat unresolved type names as opaque handles")
	f.Bool("no-rust-enums", false, "emit enums as integer constants")
	f.Bool("no-derive-debug", false, "never derive Debug")
	f.String("override-enum-type", "", "force every enum repr (uchar|schar|ushort|sshort|uint|sint|ulong|slong|ulonglong|slonglong)")
	f.StringArray("match", nil, "only emit declarations from source files containing this substring")
	f.StringArray("allow", nil, "allow-list type name pattern (regexp)")
	f.StringArray("deny", nil, "deny-list type name pattern (regexp)")
	f.String("target", "", "target triple preset")
	f.Bool("builtins", false, "emit builtin declarations")
	f.Bool("no-functions", false, "do not emit functions")
	f.Bool("no-enums", false, "do not emit enums")
	f.Bool("no-globals", false, "do not emit globals")
	f.Bool("no-types", false, "do not emit records and typedefs")
	f.Bool("no-layout-tests", false, "do not emit layout assertions")
	f.StringArrayP("link", "l", nil, "link a dynamic library")
	f.StringArray("static-link", nil, "link a static library")
	f.StringArray("framework-link", nil, "link a framework")
	f.String("link-prefix", "", "prefix added to every link_name")
}

// loadConfig resolves the configuration file, applies the policy flags the
// user set on top and validates the result.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Root().PersistentFlags().GetString("config")
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to get config flag: %w", err)
	}
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return config.Config{}, fmt.Errorf("failed to get working directory: %w", err)
		}
		found, ok, err := config.Find(wd)
		if err != nil {
			return config.Config{}, err
		}
		if ok {
			path = found
		}
	}

	cfg := config.Default()
	if path != "" {
		cfg, err = config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
	}
	if err := applyPolicyFlags(cmd, &cfg); err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyPolicyFlags overrides cfg with every policy flag that was set.
// Filters and link lists extend the file values.
func applyPolicyFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()

	setBool := func(name string, apply func()) error {
		if !f.Changed(name) {
			return nil
		}
		v, err := f.GetBool(name)
		if err != nil {
			return fmt.Errorf("failed to get %s flag: %w", name, err)
		}
		if v {
			apply()
		}
		return nil
	}

	toggles := []struct {
		name  string
		apply func()
	}{
		{"allow-unknown-types", func() { cfg.UnknownTypes = config.UnknownAllowOpaque }},
		{"no-rust-enums", func() { cfg.EnumEmission = config.EnumConstants }},
		{"no-derive-debug", func() { cfg.DeriveDebug = config.DebugNever }},
		{"builtins", func() { cfg.Builtins = true }},
		{"no-functions", func() { cfg.Emit.Functions = false }},
		{"no-enums", func() { cfg.Emit.Enums = false }},
		{"no-globals", func() { cfg.Emit.Globals = false }},
		{"no-types", func() { cfg.Emit.Types = false }},
		{"no-layout-tests", func() { cfg.Emit.LayoutTests = false }},
	}
	for _, t := range toggles {
		if err := setBool(t.name, t.apply); err != nil {
			return err
		}
	}

	if f.Changed("override-enum-type") {
		s, err := f.GetString("override-enum-type")
		if err != nil {
			return fmt.Errorf("failed to get override-enum-type flag: %w", err)
		}
		p, err := config.ParseEnumOverride(s)
		if err != nil {
			return err
		}
		cfg.EnumReprOverride = p
	}

	if f.Changed("target") {
		triple, err := f.GetString("target")
		if err != nil {
			return fmt.Errorf("failed to get target flag: %w", err)
		}
		t, err := target.Lookup(triple)
		if err != nil {
			return err
		}
		cfg.Target = t
	}

	if f.Changed("match") {
		m, err := f.GetStringArray("match")
		if err != nil {
			return fmt.Errorf("failed to get match flag: %w", err)
		}
		cfg.Match = append(cfg.Match, m...)
	}

	if f.Changed("allow") || f.Changed("deny") {
		allow, err := f.GetStringArray("allow")
		if err != nil {
			return fmt.Errorf("failed to get allow flag: %w", err)
		}
		deny, err := f.GetStringArray("deny")
		if err != nil {
			return fmt.Errorf("failed to get deny flag: %w", err)
		}
		filter, err := config.NewFilter(
			slices.Concat(cfg.Filter.AllowPatterns(), allow),
			slices.Concat(cfg.Filter.DenyPatterns(), deny),
		)
		if err != nil {
			return err
		}
		cfg.Filter = filter
	}

	links := []struct {
		flag string
		kind config.LinkKind
	}{
		{"link", config.LinkDynamic},
		{"static-link", config.LinkStatic},
		{"framework-link", config.LinkFramework},
	}
	for _, l := range links {
		if !f.Changed(l.flag) {
			continue
		}
		names, err := f.GetStringArray(l.flag)
		if err != nil {
			return fmt.Errorf("failed to get %s flag: %w", l.flag, err)
		}
		for _, name := range names {
			cfg.Links = append(cfg.Links, config.Link{Name: name, Kind: l.kind})
		}
	}

	if f.Changed("link-prefix") {
		prefix, err := f.GetString("link-prefix")
		if err != nil {
			return fmt.Errorf("failed to get link-prefix flag: %w", err)
		}
		cfg.LinkPrefix = prefix
	}
	return nil
}
