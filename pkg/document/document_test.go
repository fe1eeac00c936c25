package document_test

import (
	"testing"

	"github.com/cuemby/fides/pkg/document"
	"github.com/cuemby/fides/pkg/key"
	"github.com/cuemby/fides/pkg/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsOverlappingDeletionAndValue(t *testing.T) {
	_, err := document.New(
		map[string][]byte{"a.b.c": []byte("1")},
		[]key.Key{key.MustNew("a.b")},
		version.Empty(),
	)
	assert.ErrorIs(t, err, document.ErrOverlappingDeletion)
}

func TestGetValueAndKeys(t *testing.T) {
	doc, err := document.New(
		map[string][]byte{"a.b": []byte("1"), "a.c": []byte("2"), "x.y": []byte("3")},
		nil,
		version.New(map[string]uint32{"s1": 1}),
	)
	require.NoError(t, err)

	v, ok := doc.GetValue(key.MustNew("a.b"))
	require.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	_, ok = doc.GetValue(key.MustNew("a.z"))
	assert.False(t, ok)

	keys := doc.GetKeys(key.MustNew("a"))
	require.Len(t, keys, 2)
	assert.Equal(t, "a.b", keys[0].String())
	assert.Equal(t, "a.c", keys[1].String())

	all := doc.GetKeys(key.Root())
	assert.Len(t, all, 3)
}

func TestHasKeysOrDeletions(t *testing.T) {
	doc, err := document.New(nil, []key.Key{key.MustNew("a.b")}, version.Empty())
	require.NoError(t, err)

	assert.True(t, doc.HasKeysOrDeletions(key.MustNew("a")))
	assert.True(t, doc.HasKeysOrDeletions(key.MustNew("a.b.c")))
	assert.False(t, doc.HasKeysOrDeletions(key.MustNew("z")))
}

func TestOwner(t *testing.T) {
	doc, err := document.New(map[string][]byte{"a": []byte("1")}, nil, version.Empty())
	require.NoError(t, err)

	_, ok := doc.Owner()
	assert.False(t, ok)

	doc.SetOwner(document.Owner{SourceID: "src1", BlobID: 7})
	owner, ok := doc.Owner()
	require.True(t, ok)
	assert.Equal(t, "src1", owner.SourceID)
	assert.Equal(t, uint32(7), owner.BlobID)
}

func TestHasOverlapValues(t *testing.T) {
	a, err := document.New(map[string][]byte{"a.b": []byte("1")}, nil, version.Empty())
	require.NoError(t, err)
	b, err := document.New(map[string][]byte{"a.b": []byte("2")}, nil, version.Empty())
	require.NoError(t, err)
	assert.True(t, document.HasOverlap(a, b))
}

func TestHasOverlapDeletionCoversOtherValue(t *testing.T) {
	a, err := document.New(nil, []key.Key{key.MustNew("a")}, version.Empty())
	require.NoError(t, err)
	b, err := document.New(map[string][]byte{"a.b": []byte("1")}, nil, version.Empty())
	require.NoError(t, err)
	assert.True(t, document.HasOverlap(a, b))
	assert.True(t, document.HasOverlap(b, a))
}

func TestNoOverlapDisjoint(t *testing.T) {
	a, err := document.New(map[string][]byte{"a.b": []byte("1")}, nil, version.Empty())
	require.NoError(t, err)
	b, err := document.New(map[string][]byte{"x.y": []byte("2")}, nil, version.Empty())
	require.NoError(t, err)
	assert.False(t, document.HasOverlap(a, b))
}
