package key

import "sort"

// Range returns the half-open index range [lo, hi) of sorted — a slice of
// key strings sorted in ascending lexicographic order — that fall within
// the subtree rooted at prefix. For the root key this is the entire slice;
// otherwise it is computed as lower_bound(prefix) .. lower_bound(prefix's
// exclusive upper bound), mirroring the range-scan idiom used throughout
// the settings map and document implementations.
func Range(prefix Key, sorted []string) (lo, hi int) {
	if prefix.IsRootKey() {
		return 0, len(sorted)
	}
	lo = sort.SearchStrings(sorted, prefix.LowerBound())
	hi = sort.SearchStrings(sorted, prefix.PrefixUpperBound())
	return lo, hi
}

// LowerBound returns the index of the first element of sorted that is >= s.
func LowerBound(sorted []string, s string) int {
	return sort.SearchStrings(sorted, s)
}

// HasAny reports whether the subtree rooted at prefix contains any element
// of sorted.
func HasAny(prefix Key, sorted []string) bool {
	lo, hi := Range(prefix, sorted)
	return lo < hi
}
