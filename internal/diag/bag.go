package diag

import (
	"cmp"
	"slices"

	"fortio.org/safecast"
)

// Bag collects the diagnostics of one unit up to a limit.
type Bag struct {
	items   []Diagnostic
	limit   int
	dropped int
}

// NewBag keeps at most limit diagnostics. A non-positive or oversized limit
// is clamped to 65535.
func NewBag(limit int) *Bag {
	capped, err := safecast.Conv[uint16](limit)
	if err != nil || capped == 0 {
		capped = ^uint16(0)
	}
	return &Bag{limit: int(capped)}
}

// Add keeps d and reports true, or counts it as dropped once the bag is full.
func (b *Bag) Add(d Diagnostic) bool {
	if len(b.items) >= b.limit {
		b.dropped++
		return false
	}
	b.items = append(b.items, d)
	return true
}

// Dropped counts diagnostics rejected by the limit.
func (b *Bag) Dropped() int { return b.dropped }

func (b *Bag) Len() int { return len(b.items) }

// Items returns the backing slice; callers must not modify it.
func (b *Bag) Items() []Diagnostic { return b.items }

// Count returns how many kept diagnostics are at least as serious as sev.
func (b *Bag) Count(sev Severity) int {
	n := 0
	for _, d := range b.items {
		if d.Severity.AtLeast(sev) {
			n++
		}
	}
	return n
}

func (b *Bag) HasErrors() bool {
	return slices.ContainsFunc(b.items, func(d Diagnostic) bool { return d.Severity.AtLeast(SevError) })
}

func (b *Bag) HasWarnings() bool {
	return slices.ContainsFunc(b.items, func(d Diagnostic) bool { return d.Severity.AtLeast(SevWarning) })
}

// Sort orders by location, then most serious first, then code.
func (b *Bag) Sort() {
	slices.SortStableFunc(b.items, func(x, y Diagnostic) int {
		return cmp.Or(
			cmp.Compare(x.Loc.File, y.Loc.File),
			cmp.Compare(x.Loc.Line, y.Loc.Line),
			cmp.Compare(x.Loc.Col, y.Loc.Col),
			cmp.Compare(y.Severity, x.Severity),
			cmp.Compare(x.Code, y.Code),
		)
	})
}

// Dedup removes later copies of a diagnostic, keeping the first.
func (b *Bag) Dedup() {
	seen := make(map[identity]struct{}, len(b.items))
	b.items = slices.DeleteFunc(b.items, func(d Diagnostic) bool {
		id := identityOf(d)
		if _, dup := seen[id]; dup {
			return true
		}
		seen[id] = struct{}{}
		return false
	})
}
