package lwm2m

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/CANDY-LINE/lwm2m-objectproxy/internal/coap"
	"github.com/CANDY-LINE/lwm2m-objectproxy/internal/model"
	"github.com/CANDY-LINE/lwm2m-objectproxy/internal/objectproxy"
)

const bootstrapTimeout = 30 * time.Second

// Bootstrap runs the client-initiated bootstrap sequence against
// bootstrapHost: BOOTSTRAP-REQUEST, then waits for the server to drive
// BOOTSTRAP WRITE/DELETE/FINISH against objects.
//
// Grounded on _examples/1stship-inventoryd/lwm2m_bootstrap.go.
type Bootstrap struct {
	endpointName string
	objects      Registry
	registry     model.Registry
	conn         *coap.Conn
	done         chan struct{}
	out          io.Writer
	log          *logrus.Entry
}

// NewBootstrap constructs a Bootstrap session that dispatches BOOTSTRAP
// WRITE/DELETE to objects.
func NewBootstrap(endpointName string, objects Registry, registry model.Registry) *Bootstrap {
	return &Bootstrap{
		endpointName: endpointName,
		objects:      objects,
		registry:     registry,
		done:         make(chan struct{}, 1),
		out:          os.Stdout,
		log:          logrus.WithField("component", "bootstrap"),
	}
}

// Run dials bootstrapHost over plain UDP (bootstrap itself carries no
// transport security in this client) and blocks until BOOTSTRAP-FINISH
// arrives or bootstrapTimeout elapses.
func (b *Bootstrap) Run(bootstrapHost string) error {
	emitStateChanged(b.out, b.log, "STATE_BOOTSTRAPPING")
	conn, err := net.Dial("udp", bootstrapHost)
	if err != nil {
		return errors.New("failed to dial bootstrap host: " + err.Error())
	}
	b.conn = coap.New(conn, b.receive)
	defer b.conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), bootstrapTimeout)
	defer cancel()

	if err := b.request(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return errors.New("bootstrap timed out")
	case <-b.done:
		b.log.Info("bootstrap finished")
		return nil
	}
}

func (b *Bootstrap) request(ctx context.Context) error {
	b.log.Info("requesting bootstrap")
	options := []coap.Option{
		{Number: coap.OptionURIPath, Value: []byte("bs")},
		{Number: coap.OptionURIQuery, Value: []byte("ep=" + b.endpointName)},
	}
	_, ack := b.conn.SendRequest(coap.CodePost, options, nil)
	select {
	case <-ctx.Done():
		return errors.New("bootstrap request timed out")
	case <-ack:
		return nil
	}
}

func (b *Bootstrap) receive(msg *coap.Message) {
	switch msg.Type {
	case coap.TypeAcknowledgement:
		if msg.Code == coap.CodeChanged {
			b.log.Debug("bootstrap request accepted")
		}
	case coap.TypeConfirmable:
		switch msg.Code {
		case coap.CodePut:
			_, objectID, instanceID, _, _ := extractResourceIDs(msg)
			b.write(objectID, instanceID, msg)
		case coap.CodePost:
			b.finish(msg)
		case coap.CodeDelete:
			b.delete(msg)
		}
	}
}

// write implements BOOTSTRAP WRITE (§5.2.7.4): the server supplies a whole
// instance's resources as one TLV-encoded payload.
func (b *Bootstrap) write(objectID, instanceID uint16, msg *coap.Message) {
	obj := b.objects.Find(objectID)
	if obj == nil {
		b.conn.SendResponse(msg, coap.CodeNotFound, nil, nil)
		return
	}
	if status := obj.Create(instanceID, nil); status != objectproxy.StatusCreated && status != objectproxy.StatusNotImplemented {
		b.conn.SendResponse(msg, coap.Code(status), nil, nil)
		return
	}

	values := make([]objectproxy.ResourceValue, 0)
	payload := msg.Payload
	parsed := 0
	for parsed < len(payload) {
		tlv := &model.TLV{}
		n := tlv.Unmarshal(payload[parsed:])
		if n == -1 {
			b.conn.SendResponse(msg, coap.CodeBadRequest, nil, nil)
			return
		}
		parsed += n

		dataType := model.DataTypeNone
		if def := b.registry.FindResource(objectID, tlv.ID); def != nil {
			dataType = def.Type
		}
		values = append(values, tlvToResourceValue(tlv, dataType))
	}

	status := obj.Write(instanceID, values)
	b.conn.SendResponse(msg, coap.Code(status), nil, nil)
}

// finish implements BOOTSTRAP-FINISH (§5.2.7.2): the handoff back to the
// client's own registration state machine, which starts its next Register
// from STATE_REGISTER_REQUIRED.
func (b *Bootstrap) finish(msg *coap.Message) {
	b.log.Info("bootstrap finish received")
	b.conn.SendResponse(msg, coap.CodeChanged, nil, nil)
	emitStateChanged(b.out, b.log, "STATE_REGISTER_REQUIRED")
	b.done <- struct{}{}
}

// delete implements BOOTSTRAP DELETE (§5.2.7.5). A full wipe (no Object ID)
// is narrowed to the Security and Server objects rather than every instance
// of every registered object.
func (b *Bootstrap) delete(msg *coap.Message) {
	for _, objectID := range []uint16{model.ObjectIDSecurity, model.ObjectIDServer} {
		if obj := b.objects.Find(objectID); obj != nil {
			instanceIDs, status := obj.ListInstanceIDs()
			if status != objectproxy.StatusContent {
				continue
			}
			for _, instanceID := range instanceIDs {
				obj.Delete(instanceID)
			}
		}
	}
	b.conn.SendResponse(msg, coap.CodeDeleted, nil, nil)
}
