package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTLVMarshalUnmarshalRoundTrip(t *testing.T) {
	tlv := &TLV{IdentifierType: IdentifierResource, ID: 300, Value: []byte("hello world")}
	tlv.Length = uint32(len(tlv.Value))

	encoded := tlv.Marshal()
	require.Len(t, encoded, tlv.TotalLength())

	var decoded TLV
	n := decoded.Unmarshal(encoded)
	require.Equal(t, len(encoded), n)
	require.Equal(t, tlv.ID, decoded.ID)
	require.Equal(t, tlv.Value, decoded.Value)
}

func TestTLVUnmarshalTruncated(t *testing.T) {
	var tlv TLV
	require.Equal(t, -1, tlv.Unmarshal([]byte{0xC0}))
}

func TestValueToStringInteger(t *testing.T) {
	require.Equal(t, "42", ValueToString([]byte{42}, DataTypeInteger))
	require.Equal(t, "-1", ValueToString([]byte{0xFF}, DataTypeInteger))
}

func TestStringToValueObjlnk(t *testing.T) {
	buf := StringToValue("3:7", DataTypeObjlnk)
	require.Equal(t, "3:7", ValueToString(buf, DataTypeObjlnk))
}

func TestObjectDefinitionLookup(t *testing.T) {
	registry := Registry{
		{ID: 1, Name: "Server", Resources: []*ResourceDefinition{
			{ID: 1, Name: "Lifetime", Readable: true, Writable: true, Type: DataTypeInteger},
		}},
	}
	require.NotNil(t, registry.FindObject(1))
	require.Nil(t, registry.FindObject(99))
	res := registry.FindResource(1, 1)
	require.NotNil(t, res)
	require.True(t, res.Writable)
}
