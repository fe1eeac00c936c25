// Package document implements SettingsDocument: an immutable bundle of
// key/value assignments and subtree deletions stamped with a version.Stamp,
// the unit of data the settings map merges and the manager ingests.
package document

import (
	"errors"
	"sort"

	"github.com/cuemby/fides/pkg/key"
	"github.com/cuemby/fides/pkg/version"
)

// ErrOverlappingDeletion is returned by New when a deletion's subtree
// contains one of the document's own assigned keys or another deletion,
// which would make the document internally inconsistent about whether a
// key under that subtree is present or removed.
var ErrOverlappingDeletion = errors.New("document: deletion overlaps an assignment or another deletion in the same document")

// Document is an immutable value: a document never changes after
// construction. The manager is the only package permitted to call SetOwner;
// every other consumer treats ownership as read-only bookkeeping.
type Document struct {
	values       map[string][]byte
	sortedValues []string
	deletions    map[string]struct{}
	sortedDels   []string
	stamp        version.Stamp

	owner   Owner
	hasOwner bool
}

// Owner identifies which source contributed a document and which blob
// backs it, set once by the manager after a document is accepted into the
// settings map. It plays the role the original implementation assigns to a
// document's source_id_/handle_ fields, normally private to the manager;
// Go has no friend classes, so the fields are instead reachable only
// through the explicit SetOwner/Owner accessors below, which the manager
// package alone calls.
type Owner struct {
	SourceID string
	BlobID   uint32
}

// New builds a Document from explicit assignments and deletions. Deletion
// keys must be pairwise non-overlapping and must not contain any assigned
// key's path, since a document cannot simultaneously assign and delete
// overlapping state.
func New(values map[string][]byte, deletions []key.Key, stamp version.Stamp) (*Document, error) {
	d := &Document{
		values:    make(map[string][]byte, len(values)),
		deletions: make(map[string]struct{}, len(deletions)),
		stamp:     stamp,
	}
	for k, v := range values {
		if !key.IsValidKey(k) {
			return nil, errors.New("document: invalid value key " + k)
		}
		cp := make([]byte, len(v))
		copy(cp, v)
		d.values[k] = cp
		d.sortedValues = append(d.sortedValues, k)
	}
	sort.Strings(d.sortedValues)

	for _, delKey := range deletions {
		s := delKey.String()
		if _, dup := d.deletions[s]; dup {
			continue
		}
		d.deletions[s] = struct{}{}
		d.sortedDels = append(d.sortedDels, s)
	}
	sort.Strings(d.sortedDels)

	if err := d.checkInternalConsistency(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Document) checkInternalConsistency() error {
	for _, delStr := range d.sortedDels {
		delK := key.MustNew(delStr)
		if lo, hi := key.Range(delK, d.sortedValues); hi > lo {
			return ErrOverlappingDeletion
		}
		for _, other := range d.sortedDels {
			if other == delStr {
				continue
			}
			otherK := key.MustNew(other)
			if delK.IsPrefixOf(otherK) || otherK.IsPrefixOf(delK) {
				return ErrOverlappingDeletion
			}
		}
	}
	return nil
}

// GetValue returns the value assigned to k by this document, if any.
func (d *Document) GetValue(k key.Key) ([]byte, bool) {
	v, ok := d.values[k.String()]
	if !ok {
		return nil, false
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true
}

// GetKeys returns every assigned key within the subtree rooted at prefix,
// in ascending order.
func (d *Document) GetKeys(prefix key.Key) []key.Key {
	lo, hi := key.Range(prefix, d.sortedValues)
	out := make([]key.Key, 0, hi-lo)
	for _, s := range d.sortedValues[lo:hi] {
		out = append(out, key.MustNew(s))
	}
	return out
}

// GetDeletions returns every deletion root this document carries, in
// ascending order. Each deletion marks its entire subtree as removed as of
// this document's version stamp.
func (d *Document) GetDeletions() []key.Key {
	out := make([]key.Key, 0, len(d.sortedDels))
	for _, s := range d.sortedDels {
		out = append(out, key.MustNew(s))
	}
	return out
}

// GetVersionStamp returns the document's version stamp.
func (d *Document) GetVersionStamp() version.Stamp { return d.stamp }

// HasKeysOrDeletions reports whether this document assigns any key in, or
// declares any deletion overlapping, the subtree rooted at prefix.
func (d *Document) HasKeysOrDeletions(prefix key.Key) bool {
	if key.HasAny(prefix, d.sortedValues) {
		return true
	}
	for _, s := range d.sortedDels {
		delK := key.MustNew(s)
		if delK.IsPrefixOf(prefix) || prefix.IsPrefixOf(delK) {
			return true
		}
	}
	return false
}

// SetOwner records which source and blob this document was loaded from.
// Called exactly once, by the manager, immediately after a document is
// accepted into the settings map.
func (d *Document) SetOwner(o Owner) {
	d.owner = o
	d.hasOwner = true
}

// Owner returns the document's recorded owner, if SetOwner has been called.
func (d *Document) Owner() (Owner, bool) { return d.owner, d.hasOwner }

// HasOverlap reports whether a and b could not both apply cleanly: either
// they assign or delete a common key, or one's deletion subtree overlaps
// the other's keys or deletions. Two documents with stamps related by
// IsBefore/IsAfter never need this check since one strictly supersedes the
// other in the settings map merge; HasOverlap is only meaningful between
// concurrent documents from the same source.
func HasOverlap(a, b *Document) bool {
	if setsIntersect(a.sortedValues, b.sortedValues) {
		return true
	}
	if setsIntersect(a.sortedDels, b.sortedDels) {
		return true
	}
	for _, s := range a.sortedDels {
		if b.HasKeysOrDeletions(key.MustNew(s)) {
			return true
		}
	}
	for _, s := range b.sortedDels {
		if a.HasKeysOrDeletions(key.MustNew(s)) {
			return true
		}
	}
	return false
}

func setsIntersect(a, b []string) bool {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			return true
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return false
}
