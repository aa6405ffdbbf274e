package objectproxy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	values := []ResourceValue{
		{ID: 0, Type: TypeString, String: "Open Mobile Alliance"},
		{ID: 1, Type: TypeInteger, Integer: 42},
		{ID: 2, Type: TypeFloat, Float: 3.25},
		{ID: 3, Type: TypeBoolean, Boolean: true},
		{ID: 4, Type: TypeOpaque, Opaque: []byte{0x01, 0x02, 0xff}},
		{ID: 5, Type: TypeTime, Integer: 1609459200},
		{ID: 6, Type: TypeObjectLink, Link: ObjectLink{ObjectID: 3, InstanceID: 7}},
	}

	encoded := Encode(values)
	require.Len(t, encoded, Size(values))

	decoded, err := Decode(encoded, len(values))
	require.NoError(t, err)
	require.Equal(t, values, decoded)
}

func TestEncodeDecodeMultipleResource(t *testing.T) {
	values := []ResourceValue{
		{
			ID:   10,
			Type: TypeMultipleResource,
			Children: []ResourceValue{
				{ID: 0, Type: TypeInteger, Integer: 1},
				{ID: 1, Type: TypeInteger, Integer: 2},
			},
		},
	}

	encoded := Encode(values)
	require.Len(t, encoded, Size(values))

	decoded, err := Decode(encoded, 1)
	require.NoError(t, err)
	require.Equal(t, values, decoded)
}

func TestDecodeTruncatedHeader(t *testing.T) {
	_, err := Decode([]byte{0x00, 0x00, byte(TypeInteger)}, 1)
	require.Error(t, err)
	es, ok := err.(errStatus)
	require.True(t, ok)
	require.Equal(t, StatusInternalServerError, es.Status)
}

func TestDecodeTruncatedPayload(t *testing.T) {
	// header claims a 10-byte payload but none follows.
	data := []byte{0x00, 0x00, byte(TypeString), 0x0a, 0x00}
	_, err := Decode(data, 1)
	require.Error(t, err)
}

func TestDecodeUnknownType(t *testing.T) {
	data := []byte{0x00, 0x00, 0x7f, 0x00, 0x00}
	_, err := Decode(data, 1)
	require.Error(t, err)
}

func TestDecodeMalformedBoolean(t *testing.T) {
	data := []byte{0x00, 0x00, byte(TypeBoolean), 0x02, 0x00, 0x01, 0x01}
	_, err := Decode(data, 1)
	require.Error(t, err)
}

func TestFloatPayloadUsesFixedNotation(t *testing.T) {
	// Grounded on object_generic.c's lwm2m_write_payload, which formats
	// floats with "%f", not the TLV codec's "%g".
	values := []ResourceValue{{ID: 0, Type: TypeFloat, Float: 1.5}}
	encoded := Encode(values)
	body := string(encoded[resourceHeaderLen:])
	require.Contains(t, body, ".")
	require.NotContains(t, body, "e+")
}
