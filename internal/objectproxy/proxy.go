package objectproxy

import (
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/CANDY-LINE/lwm2m-objectproxy/internal/metrics"
)

// maxReadCount bounds a single read request: more than 65,535 resources
// fails with 400 before any I/O.
const maxReadCount = 65535

// requestMessageID is fixed today; the frame format reserves the field for
// future growth, but only one request is ever outstanding, so there is no
// need to vary it yet.
const requestMessageID byte = 0x01

// Proxy is the generic object proxy: it owns one object's ProxyContext and
// channel, and implements the six LWM2M resource operations by
// orchestrating Frame → StdioChannel → Frame → Codec.
//
// Grounded on original_source/src/client/object_generic.c's
// prv_generic_read/prv_generic_write/get_object.
type Proxy struct {
	ctx *ProxyContext
	ch  *StdioChannel
	log *logrus.Entry
}

// NewProxy constructs a Proxy bound to objectID, sharing ch with every
// other Proxy on the same controller process: stdout/stdin are
// process-global, so only one request is ever in flight across all of them.
func NewProxy(objectID uint16, ch *StdioChannel) *Proxy {
	return &Proxy{
		ctx: &ProxyContext{ObjectID: objectID},
		ch:  ch,
		log: logrus.WithField("objectId", objectID),
	}
}

// ObjectID returns the LWM2M object id this proxy represents.
func (p *Proxy) ObjectID() uint16 { return p.ctx.ObjectID }

// ListInstanceIDs reports the instances this proxy exposes. The stdio wire
// format has no instance-enumeration command (object_generic.c's controller
// contract only ever addresses instance 0), so a generic proxy always
// answers with the single default instance.
func (p *Proxy) ListInstanceIDs() ([]uint16, Status) {
	return []uint16{0}, StatusContent
}

// Read implements the read callback. A nil or empty resourceIDs requests
// every resource on the instance; the reply's own resource count then
// governs how many values come back.
func (p *Proxy) Read(instanceID uint16, resourceIDs []uint16) ([]ResourceValue, Status) {
	defer p.ctx.reset()
	log := p.log.WithFields(logrus.Fields{"op": "read", "instanceId": instanceID})

	if len(resourceIDs) > maxReadCount {
		log.WithField("count", len(resourceIDs)).Warn("read count exceeds caller contract bound")
		p.recordRequest(CmdRead, StatusBadRequest)
		return nil, StatusBadRequest
	}

	frame := BuildReadRequest(requestMessageID, p.ctx.ObjectID, instanceID, resourceIDs)
	reply, err := p.ch.Exchange(CmdRead, frame)
	if err != nil {
		status := resolveStatus(log, err)
		p.recordRequest(CmdRead, status)
		return nil, status
	}
	p.ctx.ResponseBuffer = reply
	p.ctx.ResponseLength = len(reply)

	header, body, err := AcceptReply(reply, requestMessageID)
	if err != nil {
		status := resolveStatus(log, err)
		p.recordRequest(CmdRead, status)
		return nil, status
	}

	// The read-all resourceCount in the reply header is only meaningful
	// here, never for write/create replies.
	count := int(header.ResourceCount)
	if len(resourceIDs) != 0 {
		count = len(resourceIDs)
	}

	values, err := Decode(body, count)
	if err != nil {
		status := resolveStatus(log, err)
		p.recordRequest(CmdRead, status)
		return nil, status
	}
	p.recordRequest(CmdRead, header.Status)
	return values, header.Status
}

// Write implements the write callback.
func (p *Proxy) Write(instanceID uint16, values []ResourceValue) Status {
	defer p.ctx.reset()
	log := p.log.WithFields(logrus.Fields{"op": "write", "instanceId": instanceID})

	frame := BuildWriteRequest(requestMessageID, p.ctx.ObjectID, instanceID, values)
	reply, err := p.ch.Exchange(CmdWrite, frame)
	if err != nil {
		status := resolveStatus(log, err)
		p.recordRequest(CmdWrite, status)
		return status
	}
	p.ctx.ResponseBuffer = reply
	p.ctx.ResponseLength = len(reply)

	header, _, err := AcceptReply(reply, requestMessageID)
	if err != nil {
		status := resolveStatus(log, err)
		p.recordRequest(CmdWrite, status)
		return status
	}
	p.recordRequest(CmdWrite, header.Status)
	return header.Status
}

func (p *Proxy) recordRequest(cmd string, status Status) {
	metrics.ProxyRequests.WithLabelValues(strconv.Itoa(int(p.ctx.ObjectID)), cmd, strconv.Itoa(int(status))).Inc()
}

// Execute, Discover, Create, and Delete are reserved stubs: object_generic.c's
// prv_generic_execute/discover/create/delete never defined a wire format for
// them, so a generic proxy declines rather than inventing an unreviewed
// protocol.
func (p *Proxy) Execute(instanceID, resourceID uint16, payload []byte) Status {
	p.log.WithFields(logrus.Fields{"op": "execute", "instanceId": instanceID, "resourceId": resourceID}).
		Debug("execute has no defined wire format, returning 501")
	return StatusNotImplemented
}

func (p *Proxy) Discover(instanceID uint16) ([]uint16, Status) {
	p.log.WithFields(logrus.Fields{"op": "discover", "instanceId": instanceID}).
		Debug("discover has no defined wire format, returning 501")
	return nil, StatusNotImplemented
}

func (p *Proxy) Create(instanceID uint16, values []ResourceValue) Status {
	p.log.WithFields(logrus.Fields{"op": "create", "instanceId": instanceID}).
		Debug("create has no defined wire format, returning 501")
	return StatusNotImplemented
}

func (p *Proxy) Delete(instanceID uint16) Status {
	p.log.WithFields(logrus.Fields{"op": "delete", "instanceId": instanceID}).
		Debug("delete has no defined wire format, returning 501")
	return StatusNotImplemented
}
