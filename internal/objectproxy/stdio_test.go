package objectproxy

import (
	"bytes"
	"encoding/base64"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStdioChannelExchangeHappyPath(t *testing.T) {
	reply := []byte{0xAA, 0xBB}
	encoded := base64.StdEncoding.EncodeToString(reply)
	in := bytes.NewBufferString("/resp:read:" + encoded + "\r\n")
	out := &bytes.Buffer{}

	ch := NewStdioChannel(in, out)
	got, err := ch.Exchange(CmdRead, []byte{0x01})
	require.NoError(t, err)
	require.Equal(t, reply, got)
	require.Contains(t, out.String(), "/read:")
}

func TestStdioChannelSkipsStateChangedLines(t *testing.T) {
	reply := []byte{0x01}
	encoded := base64.StdEncoding.EncodeToString(reply)
	in := bytes.NewBufferString("/stateChanged:3:0\r\n/resp:write:" + encoded + "\r\n")
	out := &bytes.Buffer{}

	ch := NewStdioChannel(in, out)
	got, err := ch.Exchange(CmdWrite, []byte{0x01})
	require.NoError(t, err)
	require.Equal(t, reply, got)
}

func TestStdioChannelPrefixMismatch(t *testing.T) {
	in := bytes.NewBufferString("/resp:write:AAAA\r\n")
	out := &bytes.Buffer{}

	ch := NewStdioChannel(in, out)
	_, err := ch.Exchange(CmdRead, []byte{0x01})
	require.Error(t, err)
	es := err.(errStatus)
	require.Equal(t, StatusInternalServerError, es.Status)
}

func TestStdioChannelEmptyPayloadIsInternalError(t *testing.T) {
	in := bytes.NewBufferString("/resp:read:\r\n")
	out := &bytes.Buffer{}

	ch := NewStdioChannel(in, out)
	_, err := ch.Exchange(CmdRead, []byte{0x01})
	require.Error(t, err)
	es := err.(errStatus)
	require.Equal(t, StatusInternalServerError, es.Status)
}

func TestStdioChannelTimesOut(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	out := &bytes.Buffer{}

	ch := NewStdioChannel(r, out)
	start := time.Now()
	_, err := ch.Exchange(CmdRead, []byte{0x01})
	require.Error(t, err)
	es := err.(errStatus)
	require.Equal(t, StatusNotImplemented, es.Status)
	require.GreaterOrEqual(t, time.Since(start), receiveTimeout)
}

func TestStdioChannelClosedStdinDuringAwait(t *testing.T) {
	in := bytes.NewBufferString("")
	out := &bytes.Buffer{}

	ch := NewStdioChannel(in, out)
	_, err := ch.Exchange(CmdRead, []byte{0x01})
	require.Error(t, err)
	es := err.(errStatus)
	require.Equal(t, StatusNotImplemented, es.Status)
}
