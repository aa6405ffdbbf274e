package objectproxy

import (
	"encoding/binary"
)

// requestHeaderLen and replyHeaderLen are the fixed header sizes of the
// controller wire frame.
const (
	requestHeaderLen = 8
	replyHeaderLen   = 9
)

// BuildReadRequest builds a request frame asking for resourceIDs (empty
// means "all resources"). Grounded on object_generic.c's prv_generic_read.
func BuildReadRequest(messageID byte, objectID, instanceID uint16, resourceIDs []uint16) []byte {
	body := make([]byte, len(resourceIDs)*2)
	for i, id := range resourceIDs {
		binary.LittleEndian.PutUint16(body[i*2:], id)
	}
	return buildRequest(messageID, objectID, instanceID, uint16(len(resourceIDs)), body)
}

// BuildWriteRequest builds a request frame carrying values, used for both
// write and create; the body is the codec's serialisation of the
// ResourceValues.
func BuildWriteRequest(messageID byte, objectID, instanceID uint16, values []ResourceValue) []byte {
	return buildRequest(messageID, objectID, instanceID, uint16(len(values)), Encode(values))
}

func buildRequest(messageID byte, objectID, instanceID, resourceCount uint16, body []byte) []byte {
	frame := make([]byte, requestHeaderLen+len(body))
	frame[0] = directionRequest
	frame[1] = messageID
	binary.LittleEndian.PutUint16(frame[2:], objectID)
	binary.LittleEndian.PutUint16(frame[4:], instanceID)
	binary.LittleEndian.PutUint16(frame[6:], resourceCount)
	copy(frame[requestHeaderLen:], body)
	return frame
}

// ReplyHeader is the parsed fixed portion of a reply frame.
type ReplyHeader struct {
	MessageID     byte
	Status        Status
	ObjectID      uint16
	InstanceID    uint16
	ResourceCount uint16
}

// AcceptReply validates a reply frame's header against the messageId of the
// request it answers and returns the parsed header plus the body slice that
// follows it. A direction or messageId mismatch is an internal 500 (the
// controller's reply broke the protocol) surfaced to read/write callers as a
// 400 by resolveStatus, which also logs the true status before downgrading
// it.
func AcceptReply(reply []byte, expectedMessageID byte) (ReplyHeader, []byte, error) {
	if len(reply) < replyHeaderLen {
		return ReplyHeader{}, nil, errStatus{StatusBadRequest, "reply shorter than header"}
	}
	if reply[0] != directionResponse {
		return ReplyHeader{}, nil, errStatus{StatusInternalServerError, "reply has wrong direction byte"}
	}
	if reply[1] != expectedMessageID {
		return ReplyHeader{}, nil, errStatus{StatusInternalServerError, "reply messageId does not match request"}
	}
	header := ReplyHeader{
		MessageID:     reply[1],
		Status:        Status(reply[2]),
		ObjectID:      binary.LittleEndian.Uint16(reply[3:5]),
		InstanceID:    binary.LittleEndian.Uint16(reply[5:7]),
		ResourceCount: binary.LittleEndian.Uint16(reply[7:9]),
	}
	return header, reply[replyHeaderLen:], nil
}
