// Package settingsmap implements SettingsMap, the structure that merges an
// ordered collection of settings documents into a single coherent
// key/value namespace, handling supersession, subtree deletion, and
// "shine-through" of earlier documents when a later one is removed.
package settingsmap

import (
	"errors"
	"sort"

	"github.com/cuemby/fides/pkg/document"
	"github.com/cuemby/fides/pkg/key"
	"github.com/cuemby/fides/pkg/version"
)

// ErrConcurrentOverlap is returned by InsertDocument when the new document
// is concurrent with (neither before nor after) an existing document and
// the two overlap in the keys or deletions they touch. Such documents have
// no well-defined merge order and the caller must reject one of them.
var ErrConcurrentOverlap = errors.New("settingsmap: concurrent overlapping documents")

// ErrReentrant is returned when a SettingsMap method is invoked from within
// another call already in progress on the same instance. The map has a
// single-threaded, non-reentrant execution model: it is never safe to call
// back into it from inside GetValue/InsertDocument/RemoveDocument.
var ErrReentrant = errors.New("settingsmap: reentrant call")

type entry struct {
	doc  *document.Document
	refs int
}

// Map merges documents into a single coherent namespace.
type Map struct {
	documents   []*entry
	docToEntry  map[*document.Document]*entry
	values      map[string]*entry
	deletions   map[string]*entry
	sortedVals  []string
	sortedDels  []string
	unreferenced []*document.Document

	inCall bool
}

// New returns an empty Map.
func New() *Map {
	return &Map{
		docToEntry: make(map[*document.Document]*entry),
		values:     make(map[string]*entry),
		deletions:  make(map[string]*entry),
	}
}

func (m *Map) enter() error {
	if m.inCall {
		return ErrReentrant
	}
	m.inCall = true
	return nil
}

func (m *Map) leave() { m.inCall = false }

// GetValue returns the current merged value of k, if any document
// contributes one.
func (m *Map) GetValue(k key.Key) ([]byte, bool) {
	e, ok := m.values[k.String()]
	if !ok {
		return nil, false
	}
	return e.doc.GetValue(k)
}

// GetKeys returns every key currently present in the subtree rooted at
// prefix, in ascending order.
func (m *Map) GetKeys(prefix key.Key) []key.Key {
	lo, hi := key.Range(prefix, m.sortedVals)
	out := make([]key.Key, 0, hi-lo)
	for _, s := range m.sortedVals[lo:hi] {
		out = append(out, key.MustNew(s))
	}
	return out
}

func ancestors(k key.Key) []key.Key {
	out := []key.Key{k}
	for !k.IsRootKey() {
		k = k.GetParent()
		out = append(out, k)
	}
	return out
}

// hasDominatingDeletion reports whether some deletion recorded at k or any
// ancestor of k has a version stamp that is not strictly before stamp —
// i.e. it is concurrent with, equal to, or after stamp, and therefore wins
// or ties against a document carrying stamp.
func (m *Map) hasDominatingDeletion(k key.Key, stamp version.Stamp) bool {
	for _, anc := range ancestors(k) {
		if e, ok := m.deletions[anc.String()]; ok {
			if !e.doc.GetVersionStamp().IsBefore(stamp) {
				return true
			}
		}
	}
	return false
}

func (m *Map) hasDominatingValue(k key.Key, stamp version.Stamp) bool {
	if e, ok := m.values[k.String()]; ok {
		return !e.doc.GetVersionStamp().IsBefore(stamp)
	}
	return false
}

func insertSorted(sorted []string, s string) []string {
	i := sort.SearchStrings(sorted, s)
	if i < len(sorted) && sorted[i] == s {
		return sorted
	}
	sorted = append(sorted, "")
	copy(sorted[i+1:], sorted[i:])
	sorted[i] = s
	return sorted
}

func removeSorted(sorted []string, s string) []string {
	i := sort.SearchStrings(sorted, s)
	if i < len(sorted) && sorted[i] == s {
		sorted = append(sorted[:i], sorted[i+1:]...)
	}
	return sorted
}

func (m *Map) release(e *entry) {
	e.refs--
	if e.refs == 0 {
		m.unreferenced = append(m.unreferenced, e.doc)
	}
}

func (m *Map) setValueOwner(k key.Key, e *entry) {
	ks := k.String()
	if old, ok := m.values[ks]; ok {
		m.release(old)
	} else {
		m.sortedVals = insertSorted(m.sortedVals, ks)
	}
	m.values[ks] = e
	e.refs++
}

func (m *Map) setDeletionOwner(k key.Key, e *entry) {
	ks := k.String()
	if old, ok := m.deletions[ks]; ok {
		m.release(old)
	} else {
		m.sortedDels = insertSorted(m.sortedDels, ks)
	}
	m.deletions[ks] = e
	e.refs++
}

// deleteSubtree erases every value and deletion in the subtree rooted at
// root whose owning document's stamp is strictly before stamp, returning
// the set of keys and deletion roots that were erased.
func (m *Map) deleteSubtree(root key.Key, stamp version.Stamp) []key.Key {
	var changed []key.Key

	lo, hi := key.Range(root, m.sortedVals)
	victims := append([]string(nil), m.sortedVals[lo:hi]...)
	for _, s := range victims {
		e := m.values[s]
		if !e.doc.GetVersionStamp().IsBefore(stamp) {
			continue
		}
		delete(m.values, s)
		m.sortedVals = removeSorted(m.sortedVals, s)
		m.release(e)
		changed = append(changed, key.MustNew(s))
	}

	lo, hi = key.Range(root, m.sortedDels)
	victims = append([]string(nil), m.sortedDels[lo:hi]...)
	for _, s := range victims {
		e := m.deletions[s]
		if !e.doc.GetVersionStamp().IsBefore(stamp) {
			continue
		}
		delete(m.deletions, s)
		m.sortedDels = removeSorted(m.sortedDels, s)
		m.release(e)
		changed = append(changed, key.MustNew(s))
	}
	return changed
}

// applySubset applies the portion of e's document that falls within prefix,
// processing deletions before values so that a deletion and a value from
// the same document never race for the same slot.
func (m *Map) applySubset(e *entry, prefix key.Key) []key.Key {
	var changed []key.Key
	doc := e.doc
	stamp := doc.GetVersionStamp()

	for _, delKey := range doc.GetDeletions() {
		if !prefix.IsPrefixOf(delKey) && !delKey.IsPrefixOf(prefix) {
			continue
		}
		root := delKey
		if !prefix.IsPrefixOf(delKey) {
			root = prefix
		}
		if m.hasDominatingDeletion(root, stamp) {
			continue
		}
		changed = append(changed, m.deleteSubtree(root, stamp)...)
		if prefix.IsPrefixOf(delKey) {
			m.setDeletionOwner(delKey, e)
			changed = append(changed, delKey)
		}
	}

	for _, k := range doc.GetKeys(prefix) {
		if m.hasDominatingDeletion(k, stamp) {
			continue
		}
		if m.hasDominatingValue(k, stamp) {
			continue
		}
		m.setValueOwner(k, e)
		changed = append(changed, k)
	}
	return changed
}

func insertIndex(documents []*entry, stamp version.Stamp) int {
	// Keep the list such that for any two entries at positions i < j,
	// it is not the case that documents[j] is before documents[i]; concurrent
	// and equal stamps are inserted at the end of their run, preserving
	// arrival order.
	i := len(documents)
	for i > 0 && stamp.IsBefore(documents[i-1].doc.GetVersionStamp()) {
		i--
	}
	return i
}

// InsertDocument adds doc to the map. It is rejected with
// ErrConcurrentOverlap if doc is concurrent with, and overlaps, any
// document already present — such documents have no defined merge order.
// Otherwise doc's subset is applied over the whole namespace and it is
// spliced into the sorted document list only if it ends up owning at least
// one value or deletion slot; an empty document, or one entirely shadowed
// by what is already present, contributes nothing and is reported by
// TakeUnreferenced instead. The set of keys whose merged value changed as a
// result is returned.
func (m *Map) InsertDocument(doc *document.Document) ([]key.Key, error) {
	if err := m.enter(); err != nil {
		return nil, err
	}
	defer m.leave()

	stamp := doc.GetVersionStamp()
	for _, e := range m.documents {
		if stamp.IsConcurrent(e.doc.GetVersionStamp()) && document.HasOverlap(doc, e.doc) {
			return nil, ErrConcurrentOverlap
		}
	}

	e := &entry{doc: doc}
	changed := m.applySubset(e, key.Root())

	// A document that ends up owning no value or deletion slot is not added
	// to the active document list at all: it has nothing to shine through
	// later and is reported as unreferenced immediately, the same as if it
	// had been removed right after insertion.
	if e.refs == 0 {
		m.unreferenced = append(m.unreferenced, doc)
		return changed, nil
	}

	idx := insertIndex(m.documents, stamp)
	m.documents = append(m.documents, nil)
	copy(m.documents[idx+1:], m.documents[idx:])
	m.documents[idx] = e
	m.docToEntry[doc] = e

	return changed, nil
}

// RemoveDocument removes doc from the map, restores any earlier documents'
// contributions that doc had been shadowing ("shine-through"), and returns
// the keys whose merged value changed. It is a no-op returning nil, nil if
// doc is not present.
func (m *Map) RemoveDocument(doc *document.Document) ([]key.Key, error) {
	if err := m.enter(); err != nil {
		return nil, err
	}
	defer m.leave()

	e, ok := m.docToEntry[doc]
	if !ok {
		return nil, nil
	}

	var changed []key.Key
	var restorePrefixes []key.Key

	for _, s := range append([]string(nil), m.sortedVals...) {
		if m.values[s] == e {
			k := key.MustNew(s)
			delete(m.values, s)
			m.sortedVals = removeSorted(m.sortedVals, s)
			m.release(e)
			changed = append(changed, k)
			restorePrefixes = append(restorePrefixes, k)
		}
	}
	for _, s := range append([]string(nil), m.sortedDels...) {
		if m.deletions[s] == e {
			k := key.MustNew(s)
			delete(m.deletions, s)
			m.sortedDels = removeSorted(m.sortedDels, s)
			m.release(e)
			changed = append(changed, k)
			restorePrefixes = append(restorePrefixes, k)
		}
	}

	idx := -1
	for i, other := range m.documents {
		if other == e {
			idx = i
			break
		}
	}
	if idx >= 0 {
		m.documents = append(m.documents[:idx], m.documents[idx+1:]...)
	}
	delete(m.docToEntry, doc)

	for _, prefix := range restorePrefixes {
		for _, other := range m.documents {
			changed = append(changed, m.applySubset(other, prefix)...)
		}
	}

	return dedupeKeys(changed), nil
}

func dedupeKeys(keys []key.Key) []key.Key {
	seen := make(map[string]struct{}, len(keys))
	out := make([]key.Key, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k.String()]; ok {
			continue
		}
		seen[k.String()] = struct{}{}
		out = append(out, k)
	}
	return out
}

// TakeUnreferenced drains and returns the documents that have become
// unreferenced (held by no map slot) since the last call. A removed or
// never-listed document is also absent from the document list; a document
// whose last slot was taken over by a later one stays in that list. The
// manager uses this to know which blobs to purge from the blob store.
func (m *Map) TakeUnreferenced() []*document.Document {
	out := m.unreferenced
	m.unreferenced = nil
	return out
}

// Documents returns the documents currently tracked by the map, in merge
// order (oldest-superseding-order first).
func (m *Map) Documents() []*document.Document {
	out := make([]*document.Document, 0, len(m.documents))
	for _, e := range m.documents {
		out = append(out, e.doc)
	}
	return out
}

// Clear removes every document from the map.
func (m *Map) Clear() {
	m.documents = nil
	m.docToEntry = make(map[*document.Document]*entry)
	m.values = make(map[string]*entry)
	m.deletions = make(map[string]*entry)
	m.sortedVals = nil
	m.sortedDels = nil
	m.unreferenced = nil
}
