package coap

import (
	"crypto/rand"
	"math/big"
	"net"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

var (
	messagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lwm2mclient_coap_messages_sent_total",
		Help: "CoAP messages written to the transport, by type.",
	}, []string{"type"})
	messagesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lwm2mclient_coap_messages_received_total",
		Help: "CoAP messages read from the transport, by type.",
	}, []string{"type"})
)

func init() {
	prometheus.MustRegister(messagesSent, messagesReceived)
}

// Conn wraps a net.Conn (plain UDP or a DTLS-secured session, see
// internal/dtls) with CoAP message-ID tracking and a background reader that
// dispatches acknowledgements to the goroutine awaiting them.
//
// Grounded on _examples/1stship-inventoryd/coap.go's Coap struct.
type Conn struct {
	transport net.Conn
	recv      func(*Message)
	log       *logrus.Entry

	mu            sync.Mutex
	nextMessageID uint16
	inFlight      map[uint16]chan struct{}

	stop chan struct{}
}

// New starts the background reader over transport. recv is invoked for
// every parsed inbound message, on the reader goroutine.
func New(transport net.Conn, recv func(*Message)) *Conn {
	id, err := rand.Int(rand.Reader, big.NewInt(65536))
	var start uint16
	if err == nil {
		start = uint16(id.Int64())
	}
	c := &Conn{
		transport:     transport,
		recv:          recv,
		log:           logrus.WithField("component", "coap"),
		nextMessageID: start,
		inFlight:      make(map[uint16]chan struct{}),
		stop:          make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Close stops the reader goroutine and closes the underlying transport.
func (c *Conn) Close() error {
	close(c.stop)
	return c.transport.Close()
}

func (c *Conn) readLoop() {
	buf := make([]byte, 1500)
	for {
		read := make(chan int, 1)
		go func() {
			n, err := c.transport.Read(buf)
			if err != nil {
				close(read)
				return
			}
			read <- n
		}()

		var n int
		var ok bool
		select {
		case <-c.stop:
			return
		case n, ok = <-read:
			if !ok {
				return
			}
		}

		raw := make([]byte, n)
		copy(raw, buf[:n])
		msg, parsed := Parse(raw)
		if !parsed {
			c.log.Debug("dropping unparseable CoAP datagram")
			continue
		}
		messagesReceived.WithLabelValues(typeLabel(msg.Type)).Inc()
		c.recv(msg)

		if msg.Type == TypeAcknowledgement {
			c.mu.Lock()
			if ackCh, ok := c.inFlight[msg.MessageID]; ok {
				close(ackCh)
				delete(c.inFlight, msg.MessageID)
			}
			c.mu.Unlock()
		}
	}
}

// SendRequest writes a confirmable request and returns its message id plus a
// channel that closes once the matching acknowledgement arrives.
func (c *Conn) SendRequest(code Code, options []Option, payload []byte) (uint16, <-chan struct{}) {
	token := make([]byte, defaultTokenLength)
	_, _ = rand.Read(token)

	c.mu.Lock()
	id := c.nextMessageID
	c.nextMessageID++
	ackCh := make(chan struct{})
	c.inFlight[id] = ackCh
	c.mu.Unlock()

	msg := &Message{
		Version:     1,
		Type:        TypeConfirmable,
		Code:        code,
		MessageID:   id,
		Token:       token,
		TokenLength: defaultTokenLength,
		Options:     options,
		Payload:     payload,
	}
	messagesSent.WithLabelValues(typeLabel(TypeConfirmable)).Inc()
	_, _ = c.transport.Write(msg.Marshal())
	return id, ackCh
}

// SendResponse acknowledges request with code/options/payload.
func (c *Conn) SendResponse(request *Message, code Code, options []Option, payload []byte) {
	msg := &Message{
		Version:     1,
		Type:        TypeAcknowledgement,
		Code:        code,
		MessageID:   request.MessageID,
		Token:       request.Token,
		TokenLength: request.TokenLength,
		Options:     options,
		Payload:     payload,
	}
	messagesSent.WithLabelValues(typeLabel(TypeAcknowledgement)).Inc()
	_, _ = c.transport.Write(msg.Marshal())
}

// SendRelated writes a non-confirmable message carrying an existing token,
// used for LWM2M Notify: the observe/notify path reuses the Observe
// request's token (RFC 7641 §2).
func (c *Conn) SendRelated(code Code, token []byte, options []Option, payload []byte) uint16 {
	c.mu.Lock()
	id := c.nextMessageID
	c.nextMessageID++
	c.mu.Unlock()

	msg := &Message{
		Version:     1,
		Type:        TypeNonConfirmable,
		Code:        code,
		MessageID:   id,
		Token:       token,
		TokenLength: byte(len(token)),
		Options:     options,
		Payload:     payload,
	}
	messagesSent.WithLabelValues(typeLabel(TypeNonConfirmable)).Inc()
	_, _ = c.transport.Write(msg.Marshal())
	return id
}

func typeLabel(t Type) string {
	switch t {
	case TypeConfirmable:
		return "confirmable"
	case TypeNonConfirmable:
		return "non_confirmable"
	case TypeAcknowledgement:
		return "ack"
	case TypeReset:
		return "reset"
	default:
		return "unknown"
	}
}
