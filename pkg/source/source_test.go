package source_test

import (
	"sort"
	"testing"

	"github.com/cuemby/fides/pkg/document"
	"github.com/cuemby/fides/pkg/key"
	"github.com/cuemby/fides/pkg/source"
	"github.com/cuemby/fides/pkg/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeView struct {
	values map[string][]byte
}

func (f *fakeView) GetValue(k key.Key) ([]byte, bool) {
	v, ok := f.values[k.String()]
	return v, ok
}

func (f *fakeView) GetKeys(prefix key.Key) []key.Key {
	var out []key.Key
	for k := range f.values {
		kk := key.MustNew(k)
		if prefix.IsPrefixOf(kk) {
			out = append(out, kk)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func TestUpdateNoStatusMeansNoConfig(t *testing.T) {
	s := source.New("src1")
	view := &fakeView{values: map[string][]byte{}}
	assert.False(t, s.Update(view))
	assert.Equal(t, source.StatusInvalid, s.Status)
}

func TestUpdateReadsStatusAndAccess(t *testing.T) {
	s := source.New("src1")
	view := &fakeView{values: map[string][]byte{
		"org.chromium.settings.sources.src1.status":    []byte("active"),
		"org.chromium.settings.sources.src1.type":      []byte("cert"),
		"org.chromium.settings.sources.src1.access.0":  []byte("app.settings"),
	}}
	require.True(t, s.Update(view))
	assert.Equal(t, source.StatusActive, s.Status)
	assert.Equal(t, "cert", s.Type)
}

func TestCheckAccessDeniesWithoutRule(t *testing.T) {
	s := source.New("src1")
	view := &fakeView{values: map[string][]byte{
		"org.chromium.settings.sources.src1.status": []byte("active"),
	}}
	require.True(t, s.Update(view))

	doc, err := document.New(map[string][]byte{"app.settings.x": []byte("1")}, nil, version.Empty())
	require.NoError(t, err)

	assert.Error(t, s.CheckAccess(doc, source.StatusActive))
}

func TestCheckAccessGrantsWithinRule(t *testing.T) {
	s := source.New("src1")
	view := &fakeView{values: map[string][]byte{
		"org.chromium.settings.sources.src1.status":   []byte("active"),
		"org.chromium.settings.sources.src1.access.0": []byte("app.settings"),
	}}
	require.True(t, s.Update(view))

	doc, err := document.New(map[string][]byte{"app.settings.x": []byte("1")}, nil, version.Empty())
	require.NoError(t, err)

	assert.NoError(t, s.CheckAccess(doc, source.StatusActive))
}

func TestCheckAccessRejectsBelowMinimumStatus(t *testing.T) {
	s := source.New("src1")
	view := &fakeView{values: map[string][]byte{
		"org.chromium.settings.sources.src1.status":   []byte("withdrawn"),
		"org.chromium.settings.sources.src1.access.0": []byte("app.settings"),
	}}
	require.True(t, s.Update(view))

	doc, err := document.New(map[string][]byte{"app.settings.x": []byte("1")}, nil, version.Empty())
	require.NoError(t, err)

	assert.Error(t, s.CheckAccess(doc, source.StatusActive))
	assert.NoError(t, s.CheckAccess(doc, source.StatusWithdrawn))
}

func TestCheckAccessRejectsForeignTrustConfigWrite(t *testing.T) {
	s := source.New("src1")
	view := &fakeView{values: map[string][]byte{
		"org.chromium.settings.sources.src1.status": []byte("active"),
	}}
	require.True(t, s.Update(view))

	doc, err := document.New(map[string][]byte{
		"org.chromium.settings.sources.src2.status": []byte("active"),
	}, nil, version.Empty())
	require.NoError(t, err)

	assert.Error(t, s.CheckAccess(doc, source.StatusActive))
}
