package config

import (
	"fmt"
	"regexp"
)

// Filter restricts which named graph nodes reach the emitter. Patterns are
// regular expressions anchored to the whole name.
type Filter struct {
	allow    []*regexp.Regexp
	deny     []*regexp.Regexp
	allowSrc []string
	denySrc  []string
}

// NewFilter compiles allow and deny patterns.
func NewFilter(allow, deny []string) (Filter, error) {
	var f Filter
	for _, p := range allow {
		re, err := compileAnchored(p)
		if err != nil {
			return Filter{}, fmt.Errorf("filter.allow: %w", err)
		}
		f.allow = append(f.allow, re)
		f.allowSrc = append(f.allowSrc, p)
	}
	for _, p := range deny {
		re, err := compileAnchored(p)
		if err != nil {
			return Filter{}, fmt.Errorf("filter.deny: %w", err)
		}
		f.deny = append(f.deny, re)
		f.denySrc = append(f.denySrc, p)
	}
	return f, nil
}

func compileAnchored(p string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("^(?:" + p + ")$")
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
	}
	return re, nil
}

// HasAllow reports whether an allow list is active.
func (f Filter) HasAllow() bool { return len(f.allow) > 0 }

// Allowed reports whether name is an emission root. Without an allow list
// every name is a root.
func (f Filter) Allowed(name string) bool {
	if len(f.allow) == 0 {
		return true
	}
	for _, re := range f.allow {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// Denied reports whether name must not be emitted with its body.
func (f Filter) Denied(name string) bool {
	for _, re := range f.deny {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// AllowPatterns returns the source patterns of the allow list.
func (f Filter) AllowPatterns() []string { return f.allowSrc }

// DenyPatterns returns the source patterns of the deny list.
func (f Filter) DenyPatterns() []string { return f.denySrc }
