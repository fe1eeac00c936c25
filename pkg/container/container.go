// Package container implements the wire format for settings blobs: a
// signed container carrying zero or more signed version components and an
// opaque payload, plus the payload codec that turns that opaque byte
// string into assignments, deletions and a version stamp.
//
// The wire schema (hand-encoded with protowire, no generated code):
//
//	ContainerProto   { 1: repeated VersionComponent components; 2: bytes signature; 3: bytes payload }
//	VersionComponent { 1: string source_id; 2: uint32 value; 3: bytes signature }
//	DocumentProto    { 1: repeated Assignment assignments; 2: repeated string deletions; 3: map<string,uint32> version }
//	Assignment       { 1: string key; 2: bytes value }
package container

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/cuemby/fides/pkg/delegate"
	"github.com/cuemby/fides/pkg/key"
)

// ErrMalformed is returned when a blob does not parse as a well-formed
// container or payload for its declared format.
var ErrMalformed = errors.New("container: malformed blob")

const (
	fieldComponents = 1
	fieldSignature  = 2
	fieldPayload    = 3

	vcFieldSourceID  = 1
	vcFieldValue     = 2
	vcFieldSignature = 3

	docFieldAssignments = 1
	docFieldDeletions   = 2
	docFieldVersion     = 3

	asgFieldKey   = 1
	asgFieldValue = 2

	verEntryFieldKey   = 1
	verEntryFieldValue = 2
)

// Container is a parsed, not-yet-validated settings blob.
type Container struct {
	Components []delegate.VersionComponent
	Signature  []byte
	Payload    []byte
}

// DecodedDocument is the result of decoding a container's payload.
type DecodedDocument struct {
	Values    map[string][]byte
	Deletions []key.Key
	Version   map[string]uint32
}

// EncodeContainer serializes c using the wire schema above. Used by
// authoring tools (fidesctl apply and sign) to produce blobs
// the manager can later parse with DecodeContainer.
func EncodeContainer(c Container) []byte {
	var b []byte
	for _, vc := range c.Components {
		b = protowire.AppendTag(b, fieldComponents, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeVersionComponent(vc))
	}
	if len(c.Signature) > 0 {
		b = protowire.AppendTag(b, fieldSignature, protowire.BytesType)
		b = protowire.AppendBytes(b, c.Signature)
	}
	b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, c.Payload)
	return b
}

func encodeVersionComponent(vc delegate.VersionComponent) []byte {
	var b []byte
	b = protowire.AppendTag(b, vcFieldSourceID, protowire.BytesType)
	b = protowire.AppendString(b, vc.SourceID)
	b = protowire.AppendTag(b, vcFieldValue, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(vc.Value))
	if len(vc.Signature) > 0 {
		b = protowire.AppendTag(b, vcFieldSignature, protowire.BytesType)
		b = protowire.AppendBytes(b, vc.Signature)
	}
	return b
}

func decodeVersionComponent(data []byte) (delegate.VersionComponent, error) {
	var vc delegate.VersionComponent
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return vc, ErrMalformed
		}
		data = data[n:]
		switch num {
		case vcFieldSourceID:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return vc, ErrMalformed
			}
			vc.SourceID = string(v)
			data = data[n:]
		case vcFieldValue:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return vc, ErrMalformed
			}
			vc.Value = uint32(v)
			data = data[n:]
		case vcFieldSignature:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return vc, ErrMalformed
			}
			vc.Signature = append([]byte(nil), v...)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return vc, ErrMalformed
			}
			data = data[n:]
		}
	}
	return vc, nil
}

// DecodeContainer parses raw into a Container.
func DecodeContainer(raw []byte) (Container, error) {
	var c Container
	data := raw
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return c, ErrMalformed
		}
		data = data[n:]
		switch num {
		case fieldComponents:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return c, ErrMalformed
			}
			vc, err := decodeVersionComponent(v)
			if err != nil {
				return c, err
			}
			c.Components = append(c.Components, vc)
			data = data[n:]
		case fieldSignature:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return c, ErrMalformed
			}
			c.Signature = append([]byte(nil), v...)
			data = data[n:]
		case fieldPayload:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return c, ErrMalformed
			}
			c.Payload = append([]byte(nil), v...)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return c, ErrMalformed
			}
			data = data[n:]
		}
	}
	return c, nil
}

// EncodeDocumentPayload serializes a decoded document body using the
// DocumentProto schema.
func EncodeDocumentPayload(d DecodedDocument) []byte {
	var b []byte
	for k, v := range d.Values {
		var a []byte
		a = protowire.AppendTag(a, asgFieldKey, protowire.BytesType)
		a = protowire.AppendString(a, k)
		a = protowire.AppendTag(a, asgFieldValue, protowire.BytesType)
		a = protowire.AppendBytes(a, v)
		b = protowire.AppendTag(b, docFieldAssignments, protowire.BytesType)
		b = protowire.AppendBytes(b, a)
	}
	for _, dk := range d.Deletions {
		b = protowire.AppendTag(b, docFieldDeletions, protowire.BytesType)
		b = protowire.AppendString(b, dk.String())
	}
	for k, v := range d.Version {
		var e []byte
		e = protowire.AppendTag(e, verEntryFieldKey, protowire.BytesType)
		e = protowire.AppendString(e, k)
		e = protowire.AppendTag(e, verEntryFieldValue, protowire.VarintType)
		e = protowire.AppendVarint(e, uint64(v))
		b = protowire.AppendTag(b, docFieldVersion, protowire.BytesType)
		b = protowire.AppendBytes(b, e)
	}
	return b
}

// DecodeDocumentPayload parses raw (a container's Payload) into its
// assignments, deletions and per-source version components. This is the
// generic DocumentProto codec used by every format except
// cros-install-attributes, which decodes its payload directly (see
// install_attributes.go) without going through this schema at all.
func DecodeDocumentPayload(raw []byte) (DecodedDocument, error) {
	d := DecodedDocument{Values: map[string][]byte{}, Version: map[string]uint32{}}
	data := raw
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return d, ErrMalformed
		}
		data = data[n:]
		switch num {
		case docFieldAssignments:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return d, ErrMalformed
			}
			k, val, err := decodeAssignment(v)
			if err != nil {
				return d, err
			}
			d.Values[k] = val
			data = data[n:]
		case docFieldDeletions:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return d, ErrMalformed
			}
			k, err := key.New(string(v))
			if err != nil {
				return d, fmt.Errorf("%w: invalid deletion key: %v", ErrMalformed, err)
			}
			d.Deletions = append(d.Deletions, k)
			data = data[n:]
		case docFieldVersion:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return d, ErrMalformed
			}
			sourceID, value, err := decodeVersionEntry(v)
			if err != nil {
				return d, err
			}
			d.Version[sourceID] = value
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return d, ErrMalformed
			}
			data = data[n:]
		}
	}
	return d, nil
}

func decodeAssignment(data []byte) (string, []byte, error) {
	var k string
	var v []byte
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return "", nil, ErrMalformed
		}
		data = data[n:]
		switch num {
		case asgFieldKey:
			val, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return "", nil, ErrMalformed
			}
			k = string(val)
			data = data[n:]
		case asgFieldValue:
			val, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return "", nil, ErrMalformed
			}
			v = append([]byte(nil), val...)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return "", nil, ErrMalformed
			}
			data = data[n:]
		}
	}
	if !key.IsValidKey(k) {
		return "", nil, fmt.Errorf("%w: invalid assignment key %q", ErrMalformed, k)
	}
	return k, v, nil
}

func decodeVersionEntry(data []byte) (string, uint32, error) {
	var k string
	var v uint32
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return "", 0, ErrMalformed
		}
		data = data[n:]
		switch num {
		case verEntryFieldKey:
			val, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return "", 0, ErrMalformed
			}
			k = string(val)
			data = data[n:]
		case verEntryFieldValue:
			val, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return "", 0, ErrMalformed
			}
			v = uint32(val)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return "", 0, ErrMalformed
			}
			data = data[n:]
		}
	}
	return k, v, nil
}

// Parser turns a raw blob into a Container. Registered per format tag.
type Parser func(raw []byte) (Container, error)

// PayloadDecoder turns a container's opaque Payload into assignments,
// deletions and version components. Different formats use different
// payload schemas (see install_attributes.go), so the decoder travels
// alongside the parser under the same format tag rather than being fixed
// globally.
type PayloadDecoder func(payload []byte) (DecodedDocument, error)

type format struct {
	parse  Parser
	decode PayloadDecoder
}

// Registry dispatches a format tag string to a registered Parser and
// PayloadDecoder pair.
type Registry struct {
	formats map[string]format
}

// NewRegistry returns a Registry pre-populated with the standard
// "fides-container" wire format (also registered under the empty format
// tag, which the manager uses for sources that configure no blob_format)
// and the "cros-install-attributes" format.
func NewRegistry() *Registry {
	r := &Registry{formats: make(map[string]format)}
	r.Register("fides-container", func(raw []byte) (Container, error) {
		return DecodeContainer(raw)
	}, DecodeDocumentPayload)
	r.Register("", func(raw []byte) (Container, error) {
		return DecodeContainer(raw)
	}, DecodeDocumentPayload)
	r.Register("cros-install-attributes", ParseInstallAttributesContainer, DecodeInstallAttributesPayload)
	return r
}

// Register installs parser and decoder under formatTag.
func (r *Registry) Register(formatTag string, parser Parser, decoder PayloadDecoder) {
	r.formats[formatTag] = format{parse: parser, decode: decoder}
}

// Parse dispatches raw to the parser registered for formatTag. It returns
// ok=false if formatTag has no registered parser at all (as opposed to a
// registered parser failing on malformed data, which returns a non-nil
// error).
func (r *Registry) Parse(formatTag string, raw []byte) (c Container, err error, ok bool) {
	f, present := r.formats[formatTag]
	if !present {
		return Container{}, nil, false
	}
	c, err = f.parse(raw)
	return c, err, true
}

// DecodePayload dispatches to the PayloadDecoder registered for formatTag.
func (r *Registry) DecodePayload(formatTag string, payload []byte) (DecodedDocument, error, bool) {
	f, present := r.formats[formatTag]
	if !present {
		return DecodedDocument{}, nil, false
	}
	d, err := f.decode(payload)
	return d, err, true
}
