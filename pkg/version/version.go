// Package version implements VersionStamp, a vector clock over per-source
// integer components used to order and compare settings documents without a
// global clock.
package version

import "sort"

// Stamp is a sparse vector clock: a map from source ID to a monotonically
// increasing component value contributed by that source. A component absent
// from the map is treated as zero.
type Stamp struct {
	components map[string]uint32
}

// New builds a Stamp from an explicit component map. The caller's map is
// copied; mutating it afterwards does not affect the returned Stamp.
func New(components map[string]uint32) Stamp {
	if len(components) == 0 {
		return Stamp{}
	}
	cp := make(map[string]uint32, len(components))
	for k, v := range components {
		if v != 0 {
			cp[k] = v
		}
	}
	return Stamp{components: cp}
}

// Empty returns the zero stamp: before every non-empty stamp, and equal
// (and therefore, per IsConcurrent, concurrent) only to another empty stamp.
func Empty() Stamp { return Stamp{} }

// Component returns the value contributed by sourceID, or 0 if absent.
func (s Stamp) Component(sourceID string) uint32 {
	return s.components[sourceID]
}

// IsEmpty reports whether every component is zero.
func (s Stamp) IsEmpty() bool { return len(s.components) == 0 }

// WithComponent returns a copy of s with sourceID's component set to value.
// A value of 0 removes the component.
func (s Stamp) WithComponent(sourceID string, value uint32) Stamp {
	cp := make(map[string]uint32, len(s.components)+1)
	for k, v := range s.components {
		cp[k] = v
	}
	if value == 0 {
		delete(cp, sourceID)
	} else {
		cp[sourceID] = value
	}
	return New(cp)
}

// compare walks both component maps in merged sorted key order, classifying
// the relationship as before/equal/after/concurrent by tracking whether any
// component of a is strictly less than the corresponding component of b,
// and whether any is strictly greater.
type relation int

const (
	relEqual relation = iota
	relBefore
	relAfter
	relConcurrent
)

func compare(a, b Stamp) relation {
	keys := make(map[string]struct{}, len(a.components)+len(b.components))
	for k := range a.components {
		keys[k] = struct{}{}
	}
	for k := range b.components {
		keys[k] = struct{}{}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	var lessSeen, greaterSeen bool
	for _, k := range sorted {
		av, bv := a.components[k], b.components[k]
		switch {
		case av < bv:
			lessSeen = true
		case av > bv:
			greaterSeen = true
		}
	}
	switch {
	case lessSeen && greaterSeen:
		return relConcurrent
	case lessSeen:
		return relBefore
	case greaterSeen:
		return relAfter
	default:
		return relEqual
	}
}

// IsBefore reports whether every component of s is less than or equal to
// the corresponding component of other, with at least one strictly less
// (i.e. s happened-before other in the vector clock partial order).
func (s Stamp) IsBefore(other Stamp) bool {
	return compare(s, other) == relBefore
}

// IsAfter reports whether other.IsBefore(s).
func (s Stamp) IsAfter(other Stamp) bool {
	return compare(s, other) == relAfter
}

// IsConcurrent reports whether neither stamp happened-before the other,
// which includes the case where the two stamps are equal: exactly one of
// IsBefore(other), IsAfter(other), IsConcurrent(other) holds for every pair
// of stamps.
func (s Stamp) IsConcurrent(other Stamp) bool {
	r := compare(s, other)
	return r != relBefore && r != relAfter
}

// Equal reports whether s and other have identical non-zero components.
func (s Stamp) Equal(other Stamp) bool {
	return compare(s, other) == relEqual
}

// Merge returns the componentwise maximum of s and other, the least upper
// bound used when a document's effective stamp must dominate several
// contributing stamps.
func (s Stamp) Merge(other Stamp) Stamp {
	cp := make(map[string]uint32, len(s.components)+len(other.components))
	for k, v := range s.components {
		cp[k] = v
	}
	for k, v := range other.components {
		if v > cp[k] {
			cp[k] = v
		}
	}
	return New(cp)
}

// Components returns a defensive copy of the underlying component map,
// primarily for serialization.
func (s Stamp) Components() map[string]uint32 {
	cp := make(map[string]uint32, len(s.components))
	for k, v := range s.components {
		cp[k] = v
	}
	return cp
}
