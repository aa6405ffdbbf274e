// Package objectproxy is the generic LWM2M object proxy: it turns typed
// resource operations into binary frames, exchanges them synchronously with
// an external controller over stdio, and maps the outcome back to a CoAP
// status code.
//
// Grounded on _examples/1stship-inventoryd/lwm2m_resource.go (resource/type
// model) and original_source/src/client/object_generic.c (wire format and
// request/response shape).
package objectproxy

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// ResourceType tags the payload carried by a ResourceValue.
//
// OMA-TS-LightweightM2M-V1_0_2-20180209-A Appendix C. Data Types.
type ResourceType byte

const (
	TypeString           ResourceType = 0
	TypeInteger          ResourceType = 1
	TypeFloat            ResourceType = 2
	TypeBoolean          ResourceType = 3
	TypeOpaque           ResourceType = 4
	TypeTime             ResourceType = 5 // wire-compatible with TypeInteger
	TypeObjectLink       ResourceType = 6
	TypeMultipleResource ResourceType = 7
)

func (t ResourceType) String() string {
	switch t {
	case TypeString:
		return "String"
	case TypeInteger:
		return "Integer"
	case TypeFloat:
		return "Float"
	case TypeBoolean:
		return "Boolean"
	case TypeOpaque:
		return "Opaque"
	case TypeTime:
		return "Time"
	case TypeObjectLink:
		return "ObjectLink"
	case TypeMultipleResource:
		return "MultipleResource"
	default:
		return fmt.Sprintf("ResourceType(%d)", byte(t))
	}
}

// ObjectLink is the payload of a TypeObjectLink resource.
type ObjectLink struct {
	ObjectID   uint16
	InstanceID uint16
}

// ResourceValue is one (ResourceId, ResourceType, payload) triple. Exactly
// one payload field is meaningful, selected by Type; MultipleResource
// recurses through Children.
type ResourceValue struct {
	ID       uint16
	Type     ResourceType
	String   string
	Opaque   []byte
	Integer  int64
	Float    float64
	Boolean  bool
	Link     ObjectLink
	Children []ResourceValue
}

// direction byte values distinguishing a request frame from a reply frame.
const (
	directionRequest  byte = 0x01
	directionResponse byte = 0x02
)

// commands accepted by the stdio protocol.
const (
	CmdRead    = "read"
	CmdWrite   = "write"
	CmdExecute = "execute"
	CmdDiscover = "discover"
	CmdCreate  = "create"
	CmdDelete  = "delete"
)

// CoAP status codes this subsystem produces or forwards verbatim. Numeric
// values follow RFC 7252 §12.1.2.
type Status byte

const (
	StatusContent            Status = 69  // 2.05
	StatusCreated             Status = 65  // 2.01
	StatusDeleted             Status = 66  // 2.02
	StatusChanged             Status = 68  // 2.04
	StatusBadRequest          Status = 128 // 4.00
	StatusNotFound            Status = 132 // 4.04
	StatusMethodNotAllowed    Status = 133 // 4.05
	StatusInternalServerError Status = 160 // 5.00
	StatusNotImplemented      Status = 161 // 5.01
)

// ProxyContext is the per-object scratch state: it exists for the lifetime
// of the owning Proxy, but ResponseBuffer only ever holds data between a
// request being sent and its reply being parsed.
type ProxyContext struct {
	ObjectID       uint16
	ResponseBuffer []byte
	ResponseLength int
}

// reset clears the ephemeral response buffer. Called on every return path
// out of a Proxy operation: the response buffer's lifetime is strictly
// shorter than the call that produced it.
func (c *ProxyContext) reset() {
	c.ResponseBuffer = nil
	c.ResponseLength = 0
}

// StringValue renders v in the plain-text form used wherever a resource
// value needs to be compared, logged, or stored as text: decimal for
// numbers, "true"/"false" for booleans, base64 for opaque bytes, and
// "objectId:instanceId" for links.
func (v ResourceValue) StringValue() string {
	switch v.Type {
	case TypeString:
		return v.String
	case TypeInteger, TypeTime:
		return strconv.FormatInt(v.Integer, 10)
	case TypeFloat:
		return strconv.FormatFloat(v.Float, 'f', -1, 64)
	case TypeBoolean:
		if v.Boolean {
			return "true"
		}
		return "false"
	case TypeObjectLink:
		return strconv.Itoa(int(v.Link.ObjectID)) + ":" + strconv.Itoa(int(v.Link.InstanceID))
	case TypeOpaque:
		return base64.StdEncoding.EncodeToString(v.Opaque)
	default:
		return ""
	}
}

// ParseResourceValue builds a ResourceValue of type t from its plain-text
// form, the inverse of StringValue.
func ParseResourceValue(id uint16, t ResourceType, str string) ResourceValue {
	v := ResourceValue{ID: id, Type: t}
	switch t {
	case TypeString:
		v.String = str
	case TypeInteger, TypeTime:
		v.Integer, _ = strconv.ParseInt(str, 10, 64)
	case TypeFloat:
		v.Float, _ = strconv.ParseFloat(str, 64)
	case TypeBoolean:
		v.Boolean = str == "true"
	case TypeObjectLink:
		parts := strings.SplitN(str, ":", 2)
		if len(parts) == 2 {
			objID, _ := strconv.ParseInt(parts[0], 10, 32)
			instID, _ := strconv.ParseInt(parts[1], 10, 32)
			v.Link = ObjectLink{ObjectID: uint16(objID), InstanceID: uint16(instID)}
		}
	case TypeOpaque:
		v.Opaque, _ = base64.StdEncoding.DecodeString(str)
	}
	return v
}
