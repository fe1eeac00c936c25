package container

import (
	"bytes"
	"fmt"

	"github.com/cuemby/fides/pkg/key"
)

// ParseInstallAttributesContainer wraps a raw NVRAM read as a Container.
// The format tag is ignored entirely for this source: authenticity comes
// from the fact that the bytes were read from the hardware NVRAM space at
// all, not from any signature carried inside them, so there is nothing to
// validate at parse time.
func ParseInstallAttributesContainer(raw []byte) (Container, error) {
	return Container{Payload: raw}, nil
}

// DecodeInstallAttributesPayload decodes the flat attribute list format
// used by the install-attributes NVRAM space: a 4-byte length-prefixed
// sequence of NUL-terminated "name=value" records.
//
// The length prefix is stored in inverse host byte order: this decoder
// accumulates the four bytes as little-endian and then applies an
// ntohl-equivalent swap to recover the true length, a quirk of the
// original hardware layout carried forward unchanged. Deletions and the
// version stamp are always empty: the attribute list has no notion of
// either, and an empty version stamp ensures documents from this source
// can never supersede values contributed by any other source, only be
// shadowed by them. This is a recorded, intentional limitation, not a gap
// to be filled in later.
func DecodeInstallAttributesPayload(raw []byte) (DecodedDocument, error) {
	d := DecodedDocument{Values: map[string][]byte{}, Version: map[string]uint32{}}
	if len(raw) < 4 {
		return d, fmt.Errorf("%w: install-attributes payload shorter than length header", ErrMalformed)
	}

	var littleEndian uint32
	for i := 0; i < 4; i++ {
		littleEndian |= uint32(raw[i]) << (8 * uint(i))
	}
	length := swapByteOrder(littleEndian)

	body := raw[4:]
	if uint64(length) > uint64(len(body)) {
		return d, fmt.Errorf("%w: install-attributes length header exceeds payload", ErrMalformed)
	}
	body = body[:length]

	for _, record := range bytes.Split(body, []byte{0}) {
		if len(record) == 0 {
			continue
		}
		idx := bytes.IndexByte(record, '=')
		if idx < 0 {
			continue
		}
		name := string(record[:idx])
		value := append([]byte(nil), record[idx+1:]...)

		sanitized, err := sanitizeAttributeKey(name)
		if err != nil {
			continue
		}
		d.Values[sanitized] = value
	}
	return d, nil
}

// swapByteOrder reverses the byte order of a 32-bit value, the
// ntohl-equivalent swap the NVRAM size field quirk requires.
func swapByteOrder(v uint32) uint32 {
	return (v>>24)&0xff | (v>>8)&0xff00 | (v<<8)&0xff0000 | (v<<24)&0xff000000
}

// sanitizeAttributeKey re-validates an attribute name as a settings Key,
// rejecting any record whose name is not itself a well-formed dotted key.
func sanitizeAttributeKey(name string) (string, error) {
	k, err := key.New(name)
	if err != nil {
		return "", err
	}
	return k.String(), nil
}
