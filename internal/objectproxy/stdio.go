package objectproxy

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/CANDY-LINE/lwm2m-objectproxy/internal/metrics"
)

// receiveTimeout is the bounded wait for a reply.
const receiveTimeout = 1500 * time.Millisecond

// maxLineLength bounds a single stdio line: a partial or oversize line is a
// protocol error.
const maxLineLength = 65535

// stateChangedPrefix is the one other line shape the controller may
// interleave with replies on stdin; StdioChannel skips it rather than
// treating it as a framing error.
const stateChangedPrefix = "/stateChanged:"

// StdioChannel is the synchronous, line-oriented transport to the external
// controller process: it writes "/<cmd>:<base64(body)>\r\n" to stdout and
// waits for a single "/resp:<cmd>:<base64>\r\n" line on stdin, enforcing a
// bounded timeout and a single-outstanding-request discipline.
//
// Grounded on original_source/src/client/object_generic.c's
// request_command/find_base64_from_response, translated from select()/
// FD_SET on STDIN_FILENO into a background line reader feeding a channel.
type StdioChannel struct {
	out io.Writer
	mu  sync.Mutex

	lines  chan string
	closed chan struct{}
	log    *logrus.Entry
}

// NewStdioChannel starts the background line reader over in and returns a
// channel that writes requests to out. Typically in/out are os.Stdin and
// os.Stdout.
func NewStdioChannel(in io.Reader, out io.Writer) *StdioChannel {
	c := &StdioChannel{
		out:    out,
		lines:  make(chan string, 16),
		closed: make(chan struct{}),
		log:    logrus.WithField("component", "stdio"),
	}
	go c.readLines(in)
	return c
}

func (c *StdioChannel) readLines(in io.Reader) {
	defer close(c.lines)
	reader := bufio.NewReaderSize(in, maxLineLength+1)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			c.lines <- strings.TrimRight(line, "\r\n")
		}
		if err != nil {
			return
		}
	}
}

// Exchange sends cmd/frame and blocks for the matching "/resp:cmd:" reply,
// returning the decoded body or a status-carrying error. Exactly one
// Exchange runs at a time; a second caller blocks until the first returns.
func (c *StdioChannel) Exchange(cmd string, frame []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	defer func() { metrics.StdioRoundTrip.Observe(time.Since(start).Seconds()) }()

	if err := c.send(cmd, frame); err != nil {
		return nil, err
	}
	return c.receive(cmd)
}

func (c *StdioChannel) send(cmd string, frame []byte) error {
	encoded := base64.StdEncoding.EncodeToString(frame)
	if len(frame) > 0 && encoded == "" {
		return errStatus{StatusBadRequest, "base64 encode produced no output"}
	}
	_, err := fmt.Fprintf(c.out, "/%s:%s\r\n", cmd, encoded)
	if err != nil {
		return errStatus{StatusBadRequest, "failed to write request line: " + err.Error()}
	}
	if f, ok := c.out.(flusher); ok {
		_ = f.Flush()
	}
	return nil
}

// flusher is implemented by *bufio.Writer; stdout itself needs no flush.
type flusher interface {
	Flush() error
}

func (c *StdioChannel) receive(cmd string) ([]byte, error) {
	deadline := time.NewTimer(receiveTimeout)
	defer deadline.Stop()

	wantPrefix := "/resp:" + cmd + ":"
	for {
		select {
		case line, ok := <-c.lines:
			if !ok {
				return nil, errStatus{StatusNotImplemented, "stdin closed while awaiting reply"}
			}
			if len(line) > maxLineLength {
				return nil, errStatus{StatusInternalServerError, "reply line exceeded maximum length"}
			}
			if strings.HasPrefix(line, stateChangedPrefix) {
				c.log.WithField("line", line).Debug("ignoring interleaved state-change notification")
				continue
			}
			if !strings.HasPrefix(line, wantPrefix) {
				c.log.WithFields(logrus.Fields{"cmd": cmd, "line": line}).
					Warn("reply prefix mismatch, internal status 500")
				return nil, errStatus{StatusInternalServerError, "unexpected reply prefix: " + line}
			}
			payload := line[len(wantPrefix):]
			decoded, err := base64.StdEncoding.DecodeString(payload)
			if err != nil || len(decoded) == 0 {
				c.log.WithFields(logrus.Fields{"cmd": cmd, "line": line}).
					Warn("empty or undecodable reply payload, internal status 500")
				return nil, errStatus{StatusInternalServerError, "empty or undecodable reply payload"}
			}
			return decoded, nil
		case <-deadline.C:
			c.log.WithField("cmd", cmd).Warn("reply timed out after 1.5s")
			return nil, errStatus{StatusNotImplemented, "timed out waiting for reply"}
		}
	}
}
