// Package nvram abstracts reads from the hardware NVRAM spaces that back
// sources such as install-attributes. In production this would be backed
// by the platform's TPM/NVRAM driver; BoltSimulator provides an
// embedded-database-backed stand-in for development and tests.
package nvram

import (
	"encoding/binary"
	"errors"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// ErrSpaceNotFound is returned when no data has been written for a space
// index.
var ErrSpaceNotFound = errors.New("nvram: space not found")

// Reader reads a fixed hardware NVRAM space by numeric index.
type Reader interface {
	ReadSpace(index uint32) ([]byte, error)
}

var nvramBucket = []byte("nvram_spaces")

// BoltSimulator backs NVRAM spaces with a bbolt database, so that
// install-attributes-like sources can be exercised in development without
// real hardware. Writes go through WriteSpace; reads are served from the
// same database.
type BoltSimulator struct {
	db *bolt.DB
}

// OpenBoltSimulator opens (creating if needed) a bbolt database at path to
// serve as the simulated NVRAM backing store.
func OpenBoltSimulator(path string) (*BoltSimulator, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(nvramBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltSimulator{db: db}, nil
}

// Close releases the underlying database handle.
func (b *BoltSimulator) Close() error { return b.db.Close() }

func spaceKey(index uint32) []byte {
	key := make([]byte, 4)
	binary.BigEndian.PutUint32(key, index)
	return key
}

// ReadSpace returns the raw bytes last written for index.
func (b *BoltSimulator) ReadSpace(index uint32) ([]byte, error) {
	var data []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(nvramBucket)
		v := bucket.Get(spaceKey(index))
		if v == nil {
			return ErrSpaceNotFound
		}
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("nvram: reading space %d: %w", index, err)
	}
	return data, nil
}

// WriteSpace seeds or overwrites the simulated contents of an NVRAM space,
// for use by tests and development setups.
func (b *BoltSimulator) WriteSpace(index uint32, data []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(nvramBucket)
		return bucket.Put(spaceKey(index), data)
	})
}
