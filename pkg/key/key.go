// Package key implements the dotted hierarchical key namespace used to
// address values and subtrees within a settings store.
//
// A Key is a sequence of one or more components joined by '.', for example
// "org.chromium.settings.sources.cros_install_attributes.status". The empty
// key is the root of the namespace and is a prefix of every key.
package key

import (
	"errors"
	"strings"
)

// Separator joins adjacent key components.
const Separator = "."

// ErrInvalidKey is returned when a string does not satisfy the key grammar:
// one or more non-empty components, each drawn from [A-Za-z0-9_], joined by
// Separator. Dash is not a valid component character: it sorts before '.'
// (0x2D < 0x2E), which would put a sibling like "a-b" inside the subtree
// range of "a".
var ErrInvalidKey = errors.New("key: invalid key string")

// Key is an immutable dotted path into the settings namespace. The zero
// value is the root key.
type Key struct {
	s string
}

// New validates s and returns the corresponding Key. The empty string is the
// valid root key.
func New(s string) (Key, error) {
	if !IsValidKey(s) {
		return Key{}, ErrInvalidKey
	}
	return Key{s: s}, nil
}

// MustNew is like New but panics on an invalid key. Intended for package
// initialization of literal keys.
func MustNew(s string) Key {
	k, err := New(s)
	if err != nil {
		panic(err)
	}
	return k
}

// Root returns the root key (the empty key, a prefix of all keys).
func Root() Key { return Key{} }

// IsValidKey reports whether s is a well-formed key string: the empty
// string, or a sequence of non-empty components consisting solely of
// letters, digits and '_', joined by '.', with no leading, trailing or
// doubled separators. Dash is explicitly forbidden.
func IsValidKey(s string) bool {
	if s == "" {
		return true
	}
	if strings.HasPrefix(s, Separator) || strings.HasSuffix(s, Separator) {
		return false
	}
	for _, part := range strings.Split(s, Separator) {
		if part == "" {
			return false
		}
		for _, r := range part {
			if !isComponentRune(r) {
				return false
			}
		}
	}
	return true
}

func isComponentRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '_':
		return true
	default:
		return false
	}
}

// String returns the dotted string representation.
func (k Key) String() string { return k.s }

// IsRootKey reports whether k is the empty root key.
func (k Key) IsRootKey() bool { return k.s == "" }

// components splits the key into its dot-separated parts; the root key has
// zero components.
func (k Key) components() []string {
	if k.s == "" {
		return nil
	}
	return strings.Split(k.s, Separator)
}

// GetParent returns the key with its final component removed. Calling
// GetParent on the root key returns the root key.
func (k Key) GetParent() Key {
	idx := strings.LastIndex(k.s, Separator)
	if idx < 0 {
		return Root()
	}
	return Key{s: k.s[:idx]}
}

// Append returns a new key with component appended as a final path segment.
// component must not itself contain a separator.
func (k Key) Append(component string) (Key, error) {
	if component == "" {
		return Key{}, ErrInvalidKey
	}
	for _, r := range component {
		if !isComponentRune(r) {
			return Key{}, ErrInvalidKey
		}
	}
	if k.IsRootKey() {
		return Key{s: component}, nil
	}
	return Key{s: k.s + Separator + component}, nil
}

// Extend returns k with suffix's components appended after k's own.
// Extending by the root key returns k unchanged.
func (k Key) Extend(suffix Key) Key {
	if suffix.IsRootKey() {
		return k
	}
	if k.IsRootKey() {
		return suffix
	}
	return Key{s: k.s + Separator + suffix.s}
}

// Split returns the first component of k and the remaining key (the suffix
// after that component). Split on the root key returns ("", Root()).
func (k Key) Split() (string, Key) {
	if k.IsRootKey() {
		return "", Root()
	}
	idx := strings.Index(k.s, Separator)
	if idx < 0 {
		return k.s, Root()
	}
	return k.s[:idx], Key{s: k.s[idx+1:]}
}

// IsPrefixOf reports whether k is a prefix of other in the hierarchical
// sense: either k equals other, or other begins with k followed by a
// separator. The root key is a prefix of every key.
func (k Key) IsPrefixOf(other Key) bool {
	if k.IsRootKey() {
		return true
	}
	if k.s == other.s {
		return true
	}
	return strings.HasPrefix(other.s, k.s+Separator)
}

// CommonPrefix returns the longest key that is a prefix of both k and other.
func (k Key) CommonPrefix(other Key) Key {
	a, b := k.components(), other.components()
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	if i == 0 {
		return Root()
	}
	return Key{s: strings.Join(a[:i], Separator)}
}

// Suffix returns the portion of k strictly after prefix. prefix must be a
// prefix of k (per IsPrefixOf); if prefix equals k, the result is the root
// key. Suffix panics if prefix is not a prefix of k: callers are expected to
// have checked IsPrefixOf first, mirroring the narrow contract of the
// collaborating range-scan helpers.
func (k Key) Suffix(prefix Key) Key {
	if !prefix.IsPrefixOf(k) {
		panic("key: Suffix called with a non-prefix")
	}
	if prefix.IsRootKey() {
		return k
	}
	if prefix.s == k.s {
		return Root()
	}
	return Key{s: k.s[len(prefix.s)+1:]}
}

// PrefixUpperBound returns an exclusive upper bound for the half-open range
// of keys that are in the subtree rooted at k (i.e. k itself and every key
// for which k.IsPrefixOf returns true). Because '/' (0x2F) sorts
// immediately after '.' (0x2E) and cannot appear in a valid component, the
// half-open range [k+".", k+"/") contains exactly k's strict descendants,
// and since k itself sorts before "k." the range [k, k+"/") contains the
// whole subtree rooted at k.
//
// For the root key, PrefixUpperBound returns a key that is greater than any
// valid key, so that range scans over the whole namespace terminate
// correctly; since '/' cannot occur in a valid key, the root's own bound
// would collide with actual upper-bound values for single-component keys,
// so the root key is special-cased to a sentinel guaranteed to sort after
// every valid key string.
func (k Key) PrefixUpperBound() string {
	if k.IsRootKey() {
		return "\xff"
	}
	return k.s + "/"
}

// LowerBound returns the inclusive lower bound string for the subtree
// rooted at k, suitable for use with an ordered map's range-scan API
// alongside PrefixUpperBound.
func (k Key) LowerBound() string {
	return k.s
}

// Equal reports whether k and other denote the same key.
func (k Key) Equal(other Key) bool { return k.s == other.s }

// Less provides a total order over keys consistent with lexicographic
// ordering of their string form, matching the ordering used by the
// underlying sorted maps.
func (k Key) Less(other Key) bool { return k.s < other.s }
