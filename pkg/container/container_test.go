package container_test

import (
	"testing"

	"github.com/cuemby/fides/pkg/container"
	"github.com/cuemby/fides/pkg/delegate"
	"github.com/cuemby/fides/pkg/key"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeContainerRoundTrip(t *testing.T) {
	c := container.Container{
		Components: []delegate.VersionComponent{
			{SourceID: "src1", Value: 3, Signature: []byte("sig1")},
		},
		Signature: []byte("container-sig"),
		Payload:   []byte("payload-bytes"),
	}
	raw := container.EncodeContainer(c)

	decoded, err := container.DecodeContainer(raw)
	require.NoError(t, err)
	assert.Equal(t, c.Signature, decoded.Signature)
	assert.Equal(t, c.Payload, decoded.Payload)
	require.Len(t, decoded.Components, 1)
	assert.Equal(t, "src1", decoded.Components[0].SourceID)
	assert.Equal(t, uint32(3), decoded.Components[0].Value)
	assert.Equal(t, []byte("sig1"), decoded.Components[0].Signature)
}

func TestEncodeDecodeDocumentPayloadRoundTrip(t *testing.T) {
	d := container.DecodedDocument{
		Values:    map[string][]byte{"a.b": []byte("1")},
		Deletions: []key.Key{key.MustNew("x.y")},
		Version:   map[string]uint32{"src1": 5},
	}
	raw := container.EncodeDocumentPayload(d)

	decoded, err := container.DecodeDocumentPayload(raw)
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), decoded.Values["a.b"])
	require.Len(t, decoded.Deletions, 1)
	assert.Equal(t, "x.y", decoded.Deletions[0].String())
	assert.Equal(t, uint32(5), decoded.Version["src1"])
}

func TestDecodeDocumentPayloadRejectsInvalidKey(t *testing.T) {
	raw := container.EncodeDocumentPayload(container.DecodedDocument{
		Deletions: []key.Key{},
	})
	// Hand-craft a malformed deletion key by encoding raw bytes the
	// document payload codec would never produce itself.
	_, err := container.DecodeDocumentPayload(append(raw, 0x12, 0x03, '.', '.', '.'))
	assert.ErrorIs(t, err, container.ErrMalformed)
}

func TestRegistryParsesFidesContainer(t *testing.T) {
	r := container.NewRegistry()
	raw := container.EncodeContainer(container.Container{Payload: []byte("x")})
	c, err, ok := r.Parse("fides-container", raw)
	require.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), c.Payload)
}

func TestRegistryUnknownFormat(t *testing.T) {
	r := container.NewRegistry()
	_, _, ok := r.Parse("no-such-format", nil)
	assert.False(t, ok)
}

func TestInstallAttributesPayloadDecode(t *testing.T) {
	body := []byte("device.serial=ABC123\x00device.flag=1\x00")
	length := uint32(len(body))
	// Apply the inverse-byte-order quirk: store the swapped value so the
	// decoder's accumulate-then-swap recovers the true length.
	swapped := (length>>24)&0xff | (length>>8)&0xff00 | (length<<8)&0xff0000 | (length<<24)&0xff000000
	header := []byte{byte(swapped), byte(swapped >> 8), byte(swapped >> 16), byte(swapped >> 24)}
	raw := append(header, body...)

	decoded, err := container.DecodeInstallAttributesPayload(raw)
	require.NoError(t, err)
	assert.Equal(t, []byte("ABC123"), decoded.Values["device.serial"])
	assert.Equal(t, []byte("1"), decoded.Values["device.flag"])
	assert.Empty(t, decoded.Deletions)
	assert.Empty(t, decoded.Version)
}
