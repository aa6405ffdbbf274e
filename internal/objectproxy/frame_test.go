package objectproxy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildReadRequestHeader(t *testing.T) {
	frame := BuildReadRequest(0x01, 3, 0, []uint16{0, 1})
	require.Len(t, frame, requestHeaderLen+4)
	require.Equal(t, directionRequest, frame[0])
	require.Equal(t, byte(0x01), frame[1])
	require.Equal(t, []byte{3, 0}, frame[2:4])
	require.Equal(t, []byte{0, 0}, frame[4:6])
	require.Equal(t, []byte{2, 0}, frame[6:8])
}

func TestBuildReadRequestAllResources(t *testing.T) {
	frame := BuildReadRequest(0x01, 3, 0, nil)
	require.Len(t, frame, requestHeaderLen)
	require.Equal(t, []byte{0, 0}, frame[6:8])
}

func TestBuildWriteRequestBody(t *testing.T) {
	values := []ResourceValue{{ID: 1, Type: TypeInteger, Integer: 5}}
	frame := BuildWriteRequest(0x01, 3, 0, values)
	require.Equal(t, Encode(values), frame[requestHeaderLen:])
	require.Equal(t, []byte{1, 0}, frame[6:8])
}

func TestAcceptReplyHappyPath(t *testing.T) {
	reply := []byte{directionResponse, 0x01, byte(StatusContent), 3, 0, 0, 0, 1, 0}
	header, body, err := AcceptReply(reply, 0x01)
	require.NoError(t, err)
	require.Equal(t, StatusContent, header.Status)
	require.Equal(t, uint16(3), header.ObjectID)
	require.Equal(t, uint16(1), header.ResourceCount)
	require.Empty(t, body)
}

func TestAcceptReplyWrongMessageID(t *testing.T) {
	reply := []byte{directionResponse, 0x02, byte(StatusContent), 3, 0, 0, 0, 0, 0}
	_, _, err := AcceptReply(reply, 0x01)
	require.Error(t, err)
	es := err.(errStatus)
	require.Equal(t, StatusInternalServerError, es.Status)
}

func TestAcceptReplyWrongDirection(t *testing.T) {
	reply := []byte{directionRequest, 0x01, byte(StatusContent), 3, 0, 0, 0, 0, 0}
	_, _, err := AcceptReply(reply, 0x01)
	require.Error(t, err)
	es := err.(errStatus)
	require.Equal(t, StatusInternalServerError, es.Status)
}

func TestAcceptReplyTooShort(t *testing.T) {
	_, _, err := AcceptReply([]byte{0x02, 0x01}, 0x01)
	require.Error(t, err)
}
