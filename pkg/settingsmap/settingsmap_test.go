package settingsmap_test

import (
	"testing"

	"github.com/cuemby/fides/pkg/document"
	"github.com/cuemby/fides/pkg/key"
	"github.com/cuemby/fides/pkg/settingsmap"
	"github.com/cuemby/fides/pkg/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDoc(t *testing.T, values map[string][]byte, deletions []key.Key, stamp version.Stamp) *document.Document {
	t.Helper()
	d, err := document.New(values, deletions, stamp)
	require.NoError(t, err)
	return d
}

func TestInsertSingleDocument(t *testing.T) {
	m := settingsmap.New()
	doc := mustDoc(t, map[string][]byte{"a.b": []byte("1")}, nil, version.New(map[string]uint32{"s1": 1}))

	changed, err := m.InsertDocument(doc)
	require.NoError(t, err)
	assert.Len(t, changed, 1)

	v, ok := m.GetValue(key.MustNew("a.b"))
	require.True(t, ok)
	assert.Equal(t, []byte("1"), v)
}

func TestLaterDocumentSupersedesEarlier(t *testing.T) {
	m := settingsmap.New()
	older := mustDoc(t, map[string][]byte{"a.b": []byte("old")}, nil, version.New(map[string]uint32{"s1": 1}))
	newer := mustDoc(t, map[string][]byte{"a.b": []byte("new")}, nil, version.New(map[string]uint32{"s1": 2}))

	_, err := m.InsertDocument(older)
	require.NoError(t, err)
	_, err = m.InsertDocument(newer)
	require.NoError(t, err)

	v, ok := m.GetValue(key.MustNew("a.b"))
	require.True(t, ok)
	assert.Equal(t, []byte("new"), v)
}

func TestLaterDocumentSupersedesEarlierMarksUnreferenced(t *testing.T) {
	m := settingsmap.New()
	older := mustDoc(t, map[string][]byte{"a.b": []byte("old")}, nil, version.New(map[string]uint32{"s1": 1}))
	newer := mustDoc(t, map[string][]byte{"a.b": []byte("new")}, nil, version.New(map[string]uint32{"s1": 2}))

	_, err := m.InsertDocument(older)
	require.NoError(t, err)
	assert.Empty(t, m.TakeUnreferenced())

	_, err = m.InsertDocument(newer)
	require.NoError(t, err)

	unref := m.TakeUnreferenced()
	require.Len(t, unref, 1)
	assert.Same(t, older, unref[0])
}

func TestEmptyDocumentImmediatelyUnreferenced(t *testing.T) {
	m := settingsmap.New()
	empty := mustDoc(t, nil, nil, version.New(map[string]uint32{"s1": 1}))

	changed, err := m.InsertDocument(empty)
	require.NoError(t, err)
	assert.Empty(t, changed)

	unref := m.TakeUnreferenced()
	require.Len(t, unref, 1)
	assert.Same(t, empty, unref[0])
	assert.Empty(t, m.Documents())
}

func TestUpdateThenDeleteMarksAllSupersededDocumentsUnreferenced(t *testing.T) {
	m := settingsmap.New()
	v1 := mustDoc(t, map[string][]byte{"a.b": []byte("v1")}, nil, version.New(map[string]uint32{"s1": 1}))
	v2 := mustDoc(t, map[string][]byte{"a.b": []byte("v2")}, nil, version.New(map[string]uint32{"s1": 2}))
	v3 := mustDoc(t, nil, []key.Key{key.MustNew("a")}, version.New(map[string]uint32{"s1": 3}))

	_, err := m.InsertDocument(v1)
	require.NoError(t, err)
	_, err = m.InsertDocument(v2)
	require.NoError(t, err)
	unrefAfterV2 := m.TakeUnreferenced()
	require.Len(t, unrefAfterV2, 1)
	assert.Same(t, v1, unrefAfterV2[0])

	_, err = m.InsertDocument(v3)
	require.NoError(t, err)

	unrefAfterV3 := m.TakeUnreferenced()
	require.Len(t, unrefAfterV3, 1)
	assert.Same(t, v2, unrefAfterV3[0])

	_, ok := m.GetValue(key.MustNew("a.b"))
	assert.False(t, ok)
}

func TestConcurrentOverlapRejected(t *testing.T) {
	m := settingsmap.New()
	a := mustDoc(t, map[string][]byte{"a.b": []byte("1")}, nil, version.New(map[string]uint32{"s1": 1}))
	b := mustDoc(t, map[string][]byte{"a.b": []byte("2")}, nil, version.New(map[string]uint32{"s2": 1}))

	_, err := m.InsertDocument(a)
	require.NoError(t, err)
	_, err = m.InsertDocument(b)
	assert.ErrorIs(t, err, settingsmap.ErrConcurrentOverlap)
}

func TestConcurrentNonOverlappingAccepted(t *testing.T) {
	m := settingsmap.New()
	a := mustDoc(t, map[string][]byte{"a.b": []byte("1")}, nil, version.New(map[string]uint32{"s1": 1}))
	b := mustDoc(t, map[string][]byte{"x.y": []byte("2")}, nil, version.New(map[string]uint32{"s2": 1}))

	_, err := m.InsertDocument(a)
	require.NoError(t, err)
	_, err = m.InsertDocument(b)
	require.NoError(t, err)

	va, _ := m.GetValue(key.MustNew("a.b"))
	vb, _ := m.GetValue(key.MustNew("x.y"))
	assert.Equal(t, []byte("1"), va)
	assert.Equal(t, []byte("2"), vb)
}

func TestDeletionRemovesEarlierValue(t *testing.T) {
	m := settingsmap.New()
	older := mustDoc(t, map[string][]byte{"a.b": []byte("1")}, nil, version.New(map[string]uint32{"s1": 1}))
	deletion := mustDoc(t, nil, []key.Key{key.MustNew("a")}, version.New(map[string]uint32{"s1": 2}))

	_, err := m.InsertDocument(older)
	require.NoError(t, err)
	_, err = m.InsertDocument(deletion)
	require.NoError(t, err)

	_, ok := m.GetValue(key.MustNew("a.b"))
	assert.False(t, ok)
}

func TestShineThroughOnRemoval(t *testing.T) {
	m := settingsmap.New()
	older := mustDoc(t, map[string][]byte{"a.b": []byte("old")}, nil, version.New(map[string]uint32{"s1": 1}))
	newer := mustDoc(t, map[string][]byte{"a.b": []byte("new")}, nil, version.New(map[string]uint32{"s1": 2}))

	_, err := m.InsertDocument(older)
	require.NoError(t, err)
	_, err = m.InsertDocument(newer)
	require.NoError(t, err)

	changed, err := m.RemoveDocument(newer)
	require.NoError(t, err)
	assert.NotEmpty(t, changed)

	v, ok := m.GetValue(key.MustNew("a.b"))
	require.True(t, ok)
	assert.Equal(t, []byte("old"), v)
}

func TestRemoveDocumentMarksUnreferenced(t *testing.T) {
	m := settingsmap.New()
	doc := mustDoc(t, map[string][]byte{"a.b": []byte("1")}, nil, version.New(map[string]uint32{"s1": 1}))

	_, err := m.InsertDocument(doc)
	require.NoError(t, err)
	assert.Empty(t, m.TakeUnreferenced())

	_, err = m.RemoveDocument(doc)
	require.NoError(t, err)

	unref := m.TakeUnreferenced()
	require.Len(t, unref, 1)
	assert.Same(t, doc, unref[0])
}

func TestGetKeysSubtree(t *testing.T) {
	m := settingsmap.New()
	doc := mustDoc(t, map[string][]byte{"a.b": []byte("1"), "a.c": []byte("2"), "x": []byte("3")}, nil, version.New(map[string]uint32{"s1": 1}))
	_, err := m.InsertDocument(doc)
	require.NoError(t, err)

	keys := m.GetKeys(key.MustNew("a"))
	assert.Len(t, keys, 2)
}
