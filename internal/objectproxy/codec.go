package objectproxy

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

// Per-resource wire layout, all multi-byte integers little-endian:
//
//	2 bytes  ResourceId
//	1 byte   ResourceType tag
//	2 bytes  payload length L
//	L bytes  payload (type-dependent)
//
// Grounded on original_source/src/client/object_generic.c's
// lwm2m_get_payload_size/lwm2m_write_payload/lwm2m_data_cp.

const resourceHeaderLen = 5

// Size returns the exact number of bytes Encode(values) will produce. It
// must never diverge from the length Encode actually writes.
func Size(values []ResourceValue) int {
	total := 0
	for _, v := range values {
		total += resourceHeaderLen + payloadSize(v)
	}
	return total
}

func payloadSize(v ResourceValue) int {
	switch v.Type {
	case TypeString:
		return len(v.String)
	case TypeOpaque:
		return len(v.Opaque)
	case TypeInteger, TypeTime:
		return len(strconv.FormatInt(v.Integer, 10))
	case TypeFloat:
		return len(fmt.Sprintf("%f", v.Float))
	case TypeBoolean:
		return 1
	case TypeObjectLink:
		return 4
	case TypeMultipleResource:
		return 2 + Size(v.Children)
	default:
		return 0
	}
}

// Encode serialises values in order, returning exactly Size(values) bytes.
func Encode(values []ResourceValue) []byte {
	buf := make([]byte, Size(values))
	n := writeValues(buf, values)
	return buf[:n]
}

func writeValues(buf []byte, values []ResourceValue) int {
	i := 0
	for _, v := range values {
		binary.LittleEndian.PutUint16(buf[i:], v.ID)
		i += 2
		buf[i] = byte(v.Type)
		i++
		lengthPos := i
		i += 2

		var payloadLen int
		switch v.Type {
		case TypeString:
			payloadLen = copy(buf[i:], v.String)
		case TypeOpaque:
			payloadLen = copy(buf[i:], v.Opaque)
		case TypeInteger, TypeTime:
			payloadLen = copy(buf[i:], strconv.FormatInt(v.Integer, 10))
		case TypeFloat:
			payloadLen = copy(buf[i:], fmt.Sprintf("%f", v.Float))
		case TypeBoolean:
			if v.Boolean {
				buf[i] = 1
			} else {
				buf[i] = 0
			}
			payloadLen = 1
		case TypeObjectLink:
			binary.LittleEndian.PutUint16(buf[i:], v.Link.ObjectID)
			binary.LittleEndian.PutUint16(buf[i+2:], v.Link.InstanceID)
			payloadLen = 4
		case TypeMultipleResource:
			binary.LittleEndian.PutUint16(buf[i:], uint16(len(v.Children)))
			childLen := writeValues(buf[i+2:], v.Children)
			payloadLen = 2 + childLen
		}

		binary.LittleEndian.PutUint16(buf[lengthPos:], uint16(payloadLen))
		i += payloadLen
	}
	return i
}

// Decode parses count ResourceValues out of data. It returns a 500-class
// error (errStatus, below) if data is truncated or carries an unknown
// type tag.
func Decode(data []byte, count int) ([]ResourceValue, error) {
	values, _, err := decodeN(data, count)
	return values, err
}

func decodeN(data []byte, count int) ([]ResourceValue, int, error) {
	values := make([]ResourceValue, 0, count)
	i := 0
	for n := 0; n < count; n++ {
		if len(data)-i < resourceHeaderLen {
			return nil, i, errStatus{StatusInternalServerError, "truncated resource header"}
		}
		id := binary.LittleEndian.Uint16(data[i:])
		typ := ResourceType(data[i+2])
		length := int(binary.LittleEndian.Uint16(data[i+3:]))
		i += resourceHeaderLen
		if len(data)-i < length {
			return nil, i, errStatus{StatusInternalServerError, "truncated resource payload"}
		}
		payload := data[i : i+length]

		value := ResourceValue{ID: id, Type: typ}
		switch typ {
		case TypeString:
			value.String = string(payload)
		case TypeOpaque:
			value.Opaque = append([]byte(nil), payload...)
		case TypeInteger, TypeTime:
			num, err := strconv.ParseInt(string(payload), 10, 64)
			if err != nil {
				return nil, i, errStatus{StatusInternalServerError, "malformed integer payload"}
			}
			value.Integer = num
		case TypeFloat:
			num, err := strconv.ParseFloat(string(payload), 64)
			if err != nil {
				return nil, i, errStatus{StatusInternalServerError, "malformed float payload"}
			}
			value.Float = num
		case TypeBoolean:
			if length != 1 {
				return nil, i, errStatus{StatusInternalServerError, "malformed boolean payload"}
			}
			value.Boolean = payload[0] == 0x01
		case TypeObjectLink:
			if length != 4 {
				return nil, i, errStatus{StatusInternalServerError, "malformed object link payload"}
			}
			value.Link = ObjectLink{
				ObjectID:   binary.LittleEndian.Uint16(payload[0:2]),
				InstanceID: binary.LittleEndian.Uint16(payload[2:4]),
			}
		case TypeMultipleResource:
			if length < 2 {
				return nil, i, errStatus{StatusInternalServerError, "malformed multiple resource payload"}
			}
			childCount := int(binary.LittleEndian.Uint16(payload[0:2]))
			children, consumed, err := decodeN(payload[2:], childCount)
			if err != nil {
				return nil, i, err
			}
			if consumed != length-2 {
				return nil, i, errStatus{StatusInternalServerError, "multiple resource payload length mismatch"}
			}
			value.Children = children
		default:
			return nil, i, errStatus{StatusInternalServerError, fmt.Sprintf("unknown resource type %d", typ)}
		}

		i += length
		values = append(values, value)
	}
	return values, i, nil
}

// errStatus pairs a CoAP status with a diagnostic message; framing/codec
// failures use it so callers can both map to a status and log the original
// detail even when a 500 is downgraded to a 400 at the boundary.
type errStatus struct {
	Status  Status
	Message string
}

func (e errStatus) Error() string {
	return fmt.Sprintf("status %d: %s", e.Status, e.Message)
}
