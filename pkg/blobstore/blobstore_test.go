package blobstore_test

import (
	"testing"

	"github.com/cuemby/fides/pkg/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreLoadRoundTrip(t *testing.T) {
	store, err := blobstore.Open(t.TempDir())
	require.NoError(t, err)

	h, err := store.Store("src1", []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, uint32(0), h.BlobID)

	data, err := store.Load(h)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
}

func TestStoreRejectsInvalidSourceID(t *testing.T) {
	store, err := blobstore.Open(t.TempDir())
	require.NoError(t, err)

	_, err = store.Store("bad id!", []byte("x"))
	assert.ErrorIs(t, err, blobstore.ErrInvalidSourceID)
}

func TestStoreRejectsOversizedBlob(t *testing.T) {
	store, err := blobstore.Open(t.TempDir())
	require.NoError(t, err)

	_, err = store.Store("src1", make([]byte, blobstore.MaxBlobBytes+1))
	assert.ErrorIs(t, err, blobstore.ErrBlobTooLarge)
}

func TestListReturnsAscendingOrder(t *testing.T) {
	store, err := blobstore.Open(t.TempDir())
	require.NoError(t, err)

	var handles []blobstore.Handle
	for i := 0; i < 3; i++ {
		h, err := store.Store("src1", []byte("x"))
		require.NoError(t, err)
		handles = append(handles, h)
	}

	listed, err := store.List("src1")
	require.NoError(t, err)
	require.Len(t, listed, 3)
	for i, h := range listed {
		assert.Equal(t, handles[i].BlobID, h.BlobID)
	}
}

func TestPurgeRemovesBlob(t *testing.T) {
	store, err := blobstore.Open(t.TempDir())
	require.NoError(t, err)

	h, err := store.Store("src1", []byte("x"))
	require.NoError(t, err)

	require.NoError(t, store.Purge(h))
	_, err = store.Load(h)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestLoadMissingHandle(t *testing.T) {
	store, err := blobstore.Open(t.TempDir())
	require.NoError(t, err)

	_, err = store.Load(blobstore.Handle{SourceID: "src1", BlobID: 7})
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}
