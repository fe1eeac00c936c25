package bootstrap_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/fides/pkg/bootstrap"
	"github.com/cuemby/fides/pkg/key"
)

func writeManifest(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadFileAndToDocument(t *testing.T) {
	path := writeManifest(t, `
version:
  src1: 3
values:
  app.theme: dark
deletions:
  - app.legacy
`)

	m, err := bootstrap.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), m.Version["src1"])

	doc, err := m.ToDocument()
	require.NoError(t, err)

	v, ok := doc.GetValue(key.MustNew("app.theme"))
	require.True(t, ok)
	assert.Equal(t, []byte("dark"), v)
	assert.True(t, doc.HasKeysOrDeletions(key.MustNew("app.legacy")))
}

func TestLoadTrustedDocumentRejectsVersionStamp(t *testing.T) {
	path := writeManifest(t, `
version:
  src1: 1
values:
  app.theme: dark
`)

	_, err := bootstrap.LoadTrustedDocument(path)
	assert.Error(t, err)
}

func TestLoadTrustedDocumentAcceptsUnstamped(t *testing.T) {
	path := writeManifest(t, `
values:
  org.chromium.settings.sources.src1.status: active
`)

	doc, err := bootstrap.LoadTrustedDocument(path)
	require.NoError(t, err)
	assert.True(t, doc.GetVersionStamp().IsEmpty())
}

func TestLoadFileInvalidDeletionKey(t *testing.T) {
	path := writeManifest(t, `
deletions:
  - "bad..key"
`)

	m, err := bootstrap.LoadFile(path)
	require.NoError(t, err)
	_, err = m.ToDocument()
	assert.Error(t, err)
}
