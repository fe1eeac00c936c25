package version_test

import (
	"testing"

	"github.com/cuemby/fides/pkg/version"
	"github.com/stretchr/testify/assert"
)

func TestEmptyIsBeforeNonEmpty(t *testing.T) {
	empty := version.Empty()
	nonEmpty := version.New(map[string]uint32{"a": 1})
	assert.True(t, empty.IsBefore(nonEmpty))
	assert.True(t, nonEmpty.IsAfter(empty))
	assert.False(t, empty.IsConcurrent(nonEmpty))
}

func TestEmptyEqualsEmpty(t *testing.T) {
	assert.True(t, version.Empty().Equal(version.Empty()))
	assert.False(t, version.Empty().IsBefore(version.Empty()))
}

func TestEqualStampsAreConcurrent(t *testing.T) {
	a := version.New(map[string]uint32{"a": 1, "b": 2})
	b := version.New(map[string]uint32{"a": 1, "b": 2})
	assert.True(t, a.Equal(b))
	assert.True(t, a.IsConcurrent(b))
	assert.True(t, version.Empty().IsConcurrent(version.Empty()))
}

func TestExactlyOneRelationHolds(t *testing.T) {
	pairs := []struct{ a, b version.Stamp }{
		{version.Empty(), version.Empty()},
		{version.Empty(), version.New(map[string]uint32{"a": 1})},
		{version.New(map[string]uint32{"a": 1, "b": 2}), version.New(map[string]uint32{"a": 2, "b": 3})},
		{version.New(map[string]uint32{"a": 2, "b": 1}), version.New(map[string]uint32{"a": 1, "b": 2})},
		{version.New(map[string]uint32{"a": 1}), version.New(map[string]uint32{"b": 1})},
	}
	for _, p := range pairs {
		count := 0
		if p.a.IsBefore(p.b) {
			count++
		}
		if p.a.IsAfter(p.b) {
			count++
		}
		if p.a.IsConcurrent(p.b) {
			count++
		}
		assert.Equal(t, 1, count)
	}
}

func TestStrictDominance(t *testing.T) {
	a := version.New(map[string]uint32{"a": 1, "b": 2})
	b := version.New(map[string]uint32{"a": 2, "b": 3})
	assert.True(t, a.IsBefore(b))
	assert.True(t, b.IsAfter(a))
}

func TestConcurrent(t *testing.T) {
	a := version.New(map[string]uint32{"a": 2, "b": 1})
	b := version.New(map[string]uint32{"a": 1, "b": 2})
	assert.True(t, a.IsConcurrent(b))
	assert.True(t, b.IsConcurrent(a))
	assert.False(t, a.IsBefore(b))
	assert.False(t, a.IsAfter(b))
}

func TestDisjointComponentsConcurrent(t *testing.T) {
	a := version.New(map[string]uint32{"a": 1})
	b := version.New(map[string]uint32{"b": 1})
	assert.True(t, a.IsConcurrent(b))
}

func TestMerge(t *testing.T) {
	a := version.New(map[string]uint32{"a": 3, "b": 1})
	b := version.New(map[string]uint32{"a": 1, "b": 5, "c": 2})
	merged := a.Merge(b)
	assert.Equal(t, uint32(3), merged.Component("a"))
	assert.Equal(t, uint32(5), merged.Component("b"))
	assert.Equal(t, uint32(2), merged.Component("c"))
	assert.True(t, a.IsBefore(merged) || a.Equal(merged))
	assert.True(t, b.IsBefore(merged) || b.Equal(merged))
}

func TestWithComponentZeroRemoves(t *testing.T) {
	a := version.New(map[string]uint32{"a": 1})
	b := a.WithComponent("a", 0)
	assert.True(t, b.IsEmpty())
}
