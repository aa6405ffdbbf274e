package model

import (
	"encoding/base64"
	"encoding/binary"
	"math"
	"strconv"
	"strings"
)

// IdentifierType is the TLV "Type of Identifier" field.
// OMA-TS-LightweightM2M-V1_0_2-20180209-A §6.4.3.
type IdentifierType byte

const (
	IdentifierObjectInstance  IdentifierType = 0
	IdentifierResourceInstance IdentifierType = 1
	IdentifierMultipleResource IdentifierType = 2
	IdentifierResource        IdentifierType = 3
)

// TLV is one Type-Length-Value record, optionally nesting further TLVs for
// multiple-resource values.
type TLV struct {
	IdentifierType IdentifierType
	ID             uint16
	Length         uint32
	Value          []byte
	Contents       []*TLV
}

// Marshal serialises the TLV, including the variable-width id and length
// encodings of §6.4.3.
func (t *TLV) Marshal() []byte {
	head := make([]byte, 1)
	head[0] = byte(t.IdentifierType) << 6

	if t.ID <= 0xFF {
		head = append(head, byte(t.ID))
	} else {
		head[0] += 1 << 5
		head = append(head, byte(t.ID>>8), byte(t.ID&0xFF))
	}

	switch {
	case t.Length <= 0x07:
		head[0] += byte(t.Length)
	case t.Length <= 0xFF:
		head[0] += 1 << 3
		head = append(head, byte(t.Length))
	case t.Length <= 0xFFFF:
		head[0] += 2 << 3
		head = append(head, byte(t.Length>>8), byte(t.Length&0xFF))
	default:
		head[0] += 3 << 3
		head = append(head, byte(t.Length>>16), byte((t.Length>>8)&0xFF), byte(t.Length&0xFF))
	}

	return append(head, t.Value...)
}

// Unmarshal parses a TLV record from the front of raw, returning the number
// of bytes consumed, or -1 if raw is too short to hold a complete record.
func (t *TLV) Unmarshal(raw []byte) int {
	length := len(raw)
	i := 0
	if length < i+1 {
		return -1
	}
	t.IdentifierType = IdentifierType((raw[0] >> 6) & 0x03)
	i++

	if (raw[0]>>5)&0x01 == 0 {
		if length < i+1 {
			return -1
		}
		t.ID = uint16(raw[1])
		i++
	} else {
		if length < i+2 {
			return -1
		}
		t.ID = binary.BigEndian.Uint16(raw[1:3])
		i += 2
	}

	switch (raw[0] >> 3) & 0x03 {
	case 0:
		t.Length = uint32(raw[0] & 0x07)
	case 1:
		if length < i+1 {
			return -1
		}
		t.Length = uint32(raw[i])
		i++
	case 2:
		if length < i+2 {
			return -1
		}
		t.Length = uint32(binary.BigEndian.Uint16(raw[i : i+2]))
		i += 2
	case 3:
		if length < i+3 {
			return -1
		}
		t.Length = binary.BigEndian.Uint32(append([]byte{0}, raw[i:i+3]...))
		i += 3
	}

	if length < i+int(t.Length) {
		return -1
	}
	t.Value = make([]byte, t.Length)
	copy(t.Value, raw[i:i+int(t.Length)])
	i += int(t.Length)
	return i
}

// TotalLength returns the number of bytes Marshal would produce.
func (t *TLV) TotalLength() int {
	n := 1
	if t.ID <= 0xFF {
		n++
	} else {
		n += 2
	}
	switch {
	case t.Length <= 0x07:
	case t.Length <= 0xFF:
		n++
	case t.Length <= 0xFFFF:
		n += 2
	default:
		n += 3
	}
	return n + len(t.Value)
}

// ValueToString renders a TLV payload as the string representation LWM2M
// resources use on the wire (decimal for integers, base64 for opaque,
// "objectId:instanceId" for object links).
func ValueToString(buf []byte, dataType DataType) string {
	switch dataType {
	case DataTypeInteger, DataTypeTime:
		switch len(buf) {
		case 1:
			return strconv.Itoa(int(int8(buf[0])))
		case 2:
			return strconv.FormatInt(int64(int16(binary.BigEndian.Uint16(buf[0:2]))), 10)
		case 4:
			return strconv.FormatInt(int64(int32(binary.BigEndian.Uint32(buf[0:4]))), 10)
		case 8:
			return strconv.FormatInt(int64(binary.BigEndian.Uint64(buf[0:8])), 10)
		}
		return ""
	case DataTypeFloat:
		switch len(buf) {
		case 4:
			return strconv.FormatFloat(float64(math.Float32frombits(binary.BigEndian.Uint32(buf))), 'g', 6, 32)
		case 8:
			return strconv.FormatFloat(math.Float64frombits(binary.BigEndian.Uint64(buf)), 'g', 6, 64)
		}
		return ""
	case DataTypeBoolean:
		if len(buf) > 0 && buf[0] == 1 {
			return "true"
		}
		return "false"
	case DataTypeOpaque:
		return base64.StdEncoding.EncodeToString(buf)
	case DataTypeObjlnk:
		if len(buf) < 4 {
			return ""
		}
		objID := int16(binary.BigEndian.Uint16(buf[0:2]))
		instID := int16(binary.BigEndian.Uint16(buf[2:4]))
		return strconv.Itoa(int(objID)) + ":" + strconv.Itoa(int(instID))
	default:
		return string(buf)
	}
}

// StringToValue is the inverse of ValueToString.
func StringToValue(str string, dataType DataType) []byte {
	switch dataType {
	case DataTypeInteger, DataTypeTime:
		num, _ := strconv.ParseInt(str, 10, 64)
		switch {
		case num < (1<<7) && num >= -(1<<7):
			return []byte{byte(num)}
		case num < (1<<15) && num >= -(1<<15):
			buf := make([]byte, 2)
			binary.BigEndian.PutUint16(buf, uint16(num))
			return buf
		case num < (1<<31) && num >= -(1<<31):
			buf := make([]byte, 4)
			binary.BigEndian.PutUint32(buf, uint32(num))
			return buf
		default:
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, uint64(num))
			return buf
		}
	case DataTypeFloat:
		num, _ := strconv.ParseFloat(str, 64)
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, math.Float64bits(num))
		return buf
	case DataTypeBoolean:
		if str == "true" {
			return []byte{1}
		}
		return []byte{0}
	case DataTypeOpaque:
		decoded, err := base64.StdEncoding.DecodeString(str)
		if err != nil {
			return []byte{}
		}
		return decoded
	case DataTypeObjlnk:
		parts := strings.SplitN(str, ":", 2)
		if len(parts) != 2 {
			return make([]byte, 4)
		}
		objID, _ := strconv.ParseInt(parts[0], 10, 16)
		instID, _ := strconv.ParseInt(parts[1], 10, 16)
		buf := make([]byte, 4)
		binary.BigEndian.PutUint16(buf[0:2], uint16(objID))
		binary.BigEndian.PutUint16(buf[2:4], uint16(instID))
		return buf
	default:
		return []byte(str)
	}
}
