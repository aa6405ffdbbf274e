package objectproxy

import (
	"bytes"
	"encoding/base64"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestProxy(replyLine string) (*Proxy, *bytes.Buffer) {
	in := bytes.NewBufferString(replyLine)
	out := &bytes.Buffer{}
	ch := NewStdioChannel(in, out)
	return NewProxy(11, ch), out
}

// S1 — read a single integer.
func TestScenarioReadSingleInteger(t *testing.T) {
	reply := []byte{directionResponse, 0x01, byte(StatusContent), 0x0B, 0x00, 0x00, 0x00, 0x01, 0x00}
	reply = append(reply, encodeIntegerResource(5, "42")...)
	line := "/resp:read:" + base64.StdEncoding.EncodeToString(reply) + "\r\n"

	p, _ := newTestProxy(line)
	values, status := p.Read(0, []uint16{5})
	require.Equal(t, StatusContent, status)
	require.Len(t, values, 1)
	require.Equal(t, uint16(5), values[0].ID)
	require.Equal(t, TypeInteger, values[0].Type)
	require.Equal(t, int64(42), values[0].Integer)
}

// S2 — read all resources.
func TestScenarioReadAllResources(t *testing.T) {
	body := Encode([]ResourceValue{
		{ID: 0, Type: TypeString, String: "abc"},
		{ID: 1, Type: TypeBoolean, Boolean: true},
	})
	reply := []byte{directionResponse, 0x01, byte(StatusContent), 0x0B, 0x00, 0x00, 0x00, 0x02, 0x00}
	reply = append(reply, body...)
	line := "/resp:read:" + base64.StdEncoding.EncodeToString(reply) + "\r\n"

	p, _ := newTestProxy(line)
	values, status := p.Read(0, nil)
	require.Equal(t, StatusContent, status)
	require.Len(t, values, 2)
	require.Equal(t, "abc", values[0].String)
	require.Equal(t, true, values[1].Boolean)
}

// S3 — write an ObjectLink.
func TestScenarioWriteObjectLink(t *testing.T) {
	reply := []byte{directionResponse, 0x01, byte(StatusChanged), 0x0B, 0x00, 0x00, 0x00, 0x00, 0x00}
	line := "/resp:write:" + base64.StdEncoding.EncodeToString(reply) + "\r\n"

	p, out := newTestProxy(line)
	status := p.Write(0, []ResourceValue{
		{ID: 10, Type: TypeObjectLink, Link: ObjectLink{ObjectID: 3, InstanceID: 7}},
	})
	require.Equal(t, StatusChanged, status)

	sent := out.String()
	require.Contains(t, sent, "/write:")
	prefix := "/write:"
	encodedFrame := sent[len(prefix) : len(sent)-2]
	frame, err := base64.StdEncoding.DecodeString(encodedFrame)
	require.NoError(t, err)
	require.Equal(t,
		[]byte{0x0A, 0x00, 0x06, 0x04, 0x00, 0x03, 0x00, 0x07, 0x00},
		frame[requestHeaderLen:])
}

// S4 — timeout.
func TestScenarioReadTimesOut(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	out := &bytes.Buffer{}
	ch := NewStdioChannel(r, out)
	p := NewProxy(11, ch)

	_, status := p.Read(0, []uint16{5})
	require.Equal(t, StatusNotImplemented, status)
}

// S5 — prefix mismatch surfaces as 400, true 500 only in logs.
func TestScenarioPrefixMismatchSurfacesBadRequest(t *testing.T) {
	line := "/resp:write:AAA=\r\n"
	p, _ := newTestProxy(line)

	_, status := p.Read(0, []uint16{5})
	require.Equal(t, StatusBadRequest, status)
}

// S6 — nested multiple resource round-trips.
func TestScenarioNestedMultipleResource(t *testing.T) {
	body := Encode([]ResourceValue{
		{
			ID:   20,
			Type: TypeMultipleResource,
			Children: []ResourceValue{
				{ID: 0, Type: TypeInteger, Integer: 1},
				{ID: 1, Type: TypeInteger, Integer: 2},
			},
		},
	})
	reply := []byte{directionResponse, 0x01, byte(StatusContent), 0x0B, 0x00, 0x00, 0x00, 0x01, 0x00}
	reply = append(reply, body...)
	line := "/resp:read:" + base64.StdEncoding.EncodeToString(reply) + "\r\n"

	p, _ := newTestProxy(line)
	values, status := p.Read(0, []uint16{20})
	require.Equal(t, StatusContent, status)
	require.Len(t, values, 1)
	require.Equal(t, TypeMultipleResource, values[0].Type)
	require.Len(t, values[0].Children, 2)
	require.Equal(t, Encode(values), body)
}

func TestReadRejectsOversizeCountWithoutIO(t *testing.T) {
	p, out := newTestProxy("")
	ids := make([]uint16, maxReadCount+1)
	_, status := p.Read(0, ids)
	require.Equal(t, StatusBadRequest, status)
	require.Empty(t, out.String(), "must not perform I/O for an out-of-contract count")
}

func TestResponseBufferResetAfterEveryReturn(t *testing.T) {
	reply := []byte{directionResponse, 0x01, byte(StatusContent), 0x0B, 0x00, 0x00, 0x00, 0x00, 0x00}
	line := "/resp:read:" + base64.StdEncoding.EncodeToString(reply) + "\r\n"

	p, _ := newTestProxy(line)
	_, _ = p.Read(0, nil)
	require.Nil(t, p.ctx.ResponseBuffer)
	require.Zero(t, p.ctx.ResponseLength)
}

func TestUnimplementedOperationsReturn501(t *testing.T) {
	p, _ := newTestProxy("")
	require.Equal(t, StatusNotImplemented, p.Execute(0, 1, nil))
	_, status := p.Discover(0)
	require.Equal(t, StatusNotImplemented, status)
	require.Equal(t, StatusNotImplemented, p.Create(0, nil))
	require.Equal(t, StatusNotImplemented, p.Delete(0))
}

func encodeIntegerResource(id uint16, digits string) []byte {
	buf := make([]byte, resourceHeaderLen+len(digits))
	buf[0] = byte(id)
	buf[1] = byte(id >> 8)
	buf[2] = byte(TypeInteger)
	buf[3] = byte(len(digits))
	buf[4] = byte(len(digits) >> 8)
	copy(buf[resourceHeaderLen:], digits)
	return buf
}
