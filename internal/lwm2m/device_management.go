package lwm2m

import (
	"encoding/binary"
	"errors"
	"strconv"

	"github.com/CANDY-LINE/lwm2m-objectproxy/internal/coap"
	"github.com/CANDY-LINE/lwm2m-objectproxy/internal/fileobject"
	"github.com/CANDY-LINE/lwm2m-objectproxy/internal/metrics"
	"github.com/CANDY-LINE/lwm2m-objectproxy/internal/model"
	"github.com/CANDY-LINE/lwm2m-objectproxy/internal/objectproxy"
)

// ReceiveMessage is the Conn receive callback: it routes acknowledgements to
// Register/Update completion and confirmable requests to the Device
// Management handlers.
//
// Grounded on lwm2m.go's ReceiveMessage and lwm2m_device_management.go.
func (c *Client) ReceiveMessage(msg *coap.Message) {
	switch msg.Type {
	case coap.TypeAcknowledgement:
		switch msg.Code {
		case coap.CodeCreated:
			c.registerDone(msg)
		case coap.CodeChanged:
			c.log.Debug("update acknowledged")
		}
	case coap.TypeConfirmable:
		switch msg.Code {
		case coap.CodeGet:
			c.handleRead(msg)
		case coap.CodePut:
			c.handleWrite(msg)
		case coap.CodePost:
			c.handleExecute(msg)
		}
	case coap.TypeReset:
		c.deregisterObserve(msg.MessageID)
	}
}

func (c *Client) registerDone(msg *coap.Message) {
	pathIndex := 0
	for _, opt := range msg.Options {
		if opt.Number != coap.OptionLocationPath {
			continue
		}
		if pathIndex == 1 {
			c.location = string(opt.Value)
		}
		pathIndex++
	}
}

// HandleValueChanged is the entry point for a value change the host process
// observes outside of any CoAP request (e.g. a local sensor reading or
// button press): it writes value to the addressed resource as a single
// String-typed ResourceValue and, when the object declines the write with
// StatusMethodNotAllowed and it's the Device object, falls back to the
// device-specific change routine.
//
// Grounded on object_generic.c's handle_value_changed.
func (c *Client) HandleValueChanged(objectID, instanceID, resourceID uint16, value string) objectproxy.Status {
	obj := c.objects.Find(objectID)
	if obj == nil {
		c.log.WithField("objectId", objectID).Warn("value changed for unregistered object")
		return objectproxy.StatusNotFound
	}

	rv := objectproxy.ResourceValue{ID: resourceID, Type: objectproxy.TypeString, String: value}
	status := obj.Write(instanceID, []objectproxy.ResourceValue{rv})
	if status == objectproxy.StatusMethodNotAllowed && objectID == model.ObjectIDDevice {
		c.log.WithField("resourceId", resourceID).Debug("write not allowed, deferring to device change routine")
		status = fileobject.DeviceChange(rv)
	}

	if status != objectproxy.StatusChanged {
		c.log.WithFields(map[string]interface{}{
			"objectId": objectID, "instanceId": instanceID, "resourceId": resourceID, "status": status,
		}).Warn("failed to change value")
		return status
	}

	c.log.WithFields(map[string]interface{}{
		"objectId": objectID, "instanceId": instanceID, "resourceId": resourceID,
	}).Debug("value changed")
	c.observe()
	return status
}

func extractResourceIDs(msg *coap.Message) (count int, objectID, instanceID, resourceID uint16, err error) {
	ids := [3]uint16{}
	n := 0
	for _, opt := range msg.Options {
		if opt.Number != coap.OptionURIPath {
			continue
		}
		if n > 2 {
			return 0, 0, 0, 0, errors.New("too many path segments")
		}
		id, parseErr := strconv.Atoi(string(opt.Value))
		if parseErr != nil {
			return 0, 0, 0, 0, parseErr
		}
		ids[n] = uint16(id)
		n++
	}
	return n, ids[0], ids[1], ids[2], nil
}

func (c *Client) handleRead(msg *coap.Message) {
	n, objectID, instanceID, resourceID, err := extractResourceIDs(msg)
	if err != nil {
		return
	}
	switch n {
	case 2:
		c.readInstance(objectID, instanceID, msg)
	case 3:
		c.readResource(objectID, instanceID, resourceID, msg)
	}
}

func (c *Client) readInstance(objectID, instanceID uint16, msg *coap.Message) {
	obj := c.objects.Find(objectID)
	if obj == nil {
		c.log.WithField("objectId", objectID).Warn("read instance: object not found")
		c.conn.SendResponse(msg, coap.CodeNotFound, nil, nil)
		return
	}

	values, status := obj.Read(instanceID, nil)
	if status != objectproxy.StatusContent {
		c.conn.SendResponse(msg, coap.Code(status), nil, nil)
		return
	}

	payload := make([]byte, 0)
	for _, v := range values {
		payload = append(payload, resourceValueToTLV(v).Marshal()...)
	}

	isObserve := msg.IsObserve()
	options := []coap.Option{{Number: coap.OptionContentFormat, Value: contentFormatTLV()}}
	if isObserve {
		options = append(options, coap.Option{Number: coap.OptionObserve, Value: []byte{coap.ObserveRegister}})
		obs := &observedInstance{token: msg.Token, objectID: objectID, instanceID: instanceID}
		for _, v := range values {
			obs.resources = append(obs.resources, &observedResource{
				objectID: objectID, instanceID: instanceID, resourceID: v.ID,
				lastValue: v.StringValue(),
			})
		}
		c.observedInstances = append(c.observedInstances, obs)
		metrics.ObservedResources.Inc()
	}
	c.conn.SendResponse(msg, coap.CodeContent, options, payload)
}

func (c *Client) readResource(objectID, instanceID, resourceID uint16, msg *coap.Message) {
	obj := c.objects.Find(objectID)
	if obj == nil {
		c.conn.SendResponse(msg, coap.CodeNotFound, nil, nil)
		return
	}

	values, status := obj.Read(instanceID, []uint16{resourceID})
	if status != objectproxy.StatusContent || len(values) == 0 {
		c.conn.SendResponse(msg, coap.Code(status), nil, nil)
		return
	}

	payload := resourceValueToTLV(values[0]).Marshal()
	isObserve := msg.IsObserve()
	options := []coap.Option{{Number: coap.OptionContentFormat, Value: contentFormatTLV()}}
	if isObserve {
		options = append(options, coap.Option{Number: coap.OptionObserve, Value: []byte{coap.ObserveRegister}})
		c.observedResources = append(c.observedResources, &observedResource{
			token: msg.Token, objectID: objectID, instanceID: instanceID, resourceID: resourceID,
			lastValue: values[0].StringValue(),
		})
		metrics.ObservedResources.Inc()
	}
	c.conn.SendResponse(msg, coap.CodeContent, options, payload)
}

func (c *Client) handleWrite(msg *coap.Message) {
	n, objectID, instanceID, resourceID, err := extractResourceIDs(msg)
	if err != nil || n != 3 {
		return
	}

	obj := c.objects.Find(objectID)
	if obj == nil {
		c.conn.SendResponse(msg, coap.CodeNotFound, nil, nil)
		return
	}

	dataType := model.DataTypeNone
	if def := c.registry.FindResource(objectID, resourceID); def != nil {
		dataType = def.Type
	}
	tlv := &model.TLV{}
	if tlv.Unmarshal(msg.Payload) == -1 {
		c.conn.SendResponse(msg, coap.CodeBadRequest, nil, nil)
		return
	}
	value := tlvToResourceValue(tlv, dataType)

	status := obj.Write(instanceID, []objectproxy.ResourceValue{value})
	c.conn.SendResponse(msg, coap.Code(status), nil, nil)
}

func (c *Client) handleExecute(msg *coap.Message) {
	n, objectID, instanceID, resourceID, err := extractResourceIDs(msg)
	if err != nil || n != 3 {
		return
	}

	obj := c.objects.Find(objectID)
	if obj == nil {
		c.conn.SendResponse(msg, coap.CodeNotFound, nil, nil)
		return
	}

	status := obj.Execute(instanceID, resourceID, msg.Payload)
	c.conn.SendResponse(msg, coap.Code(status), nil, nil)
}

func contentFormatTLV() []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, coap.ContentFormatLwm2mTLV)
	return buf
}

func observeCountBytes(n uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, n)
	switch {
	case n <= 0xff:
		return buf[3:4]
	case n <= 0xffff:
		return buf[2:4]
	case n <= 0xffffff:
		return buf[1:4]
	default:
		return buf
	}
}

// observe checks every observed instance/resource for a value change and
// sends a Notify for anything that changed (§5.5.2).
func (c *Client) observe() {
	if c.conn == nil || !c.registered {
		return
	}
	for _, obs := range c.observedInstances {
		c.notifyInstance(obs)
	}
	for _, obs := range c.observedResources {
		c.notifyResource(obs)
	}
}

func (c *Client) notifyInstance(obs *observedInstance) {
	obj := c.objects.Find(obs.objectID)
	if obj == nil {
		return
	}
	payload := make([]byte, 0)
	changed := false
	for _, res := range obs.resources {
		values, status := obj.Read(obs.instanceID, []uint16{res.resourceID})
		if status != objectproxy.StatusContent || len(values) == 0 {
			continue
		}
		str := values[0].StringValue()
		if str == res.lastValue {
			continue
		}
		res.lastValue = str
		changed = true
		payload = append(payload, resourceValueToTLV(values[0]).Marshal()...)
	}
	if !changed {
		return
	}
	c.log.WithFields(map[string]interface{}{"objectId": obs.objectID, "instanceId": obs.instanceID}).Debug("notify")
	options := []coap.Option{
		{Number: coap.OptionContentFormat, Value: contentFormatTLV()},
		{Number: coap.OptionObserve, Value: observeCountBytes(obs.observeCount)},
	}
	obs.observeCount++
	obs.messageID = c.conn.SendRelated(coap.CodeContent, obs.token, options, payload)
}

func (c *Client) notifyResource(obs *observedResource) {
	obj := c.objects.Find(obs.objectID)
	if obj == nil {
		return
	}
	values, status := obj.Read(obs.instanceID, []uint16{obs.resourceID})
	if status != objectproxy.StatusContent || len(values) == 0 {
		return
	}
	str := values[0].StringValue()
	if str == obs.lastValue {
		return
	}
	obs.lastValue = str
	c.log.WithFields(map[string]interface{}{
		"objectId": obs.objectID, "instanceId": obs.instanceID, "resourceId": obs.resourceID,
	}).Debug("notify")
	payload := resourceValueToTLV(values[0]).Marshal()
	options := []coap.Option{
		{Number: coap.OptionContentFormat, Value: contentFormatTLV()},
		{Number: coap.OptionObserve, Value: observeCountBytes(obs.observeCount)},
	}
	obs.observeCount++
	obs.messageID = c.conn.SendRelated(coap.CodeContent, obs.token, options, payload)
}

// deregisterObserve removes the observed instance/resource that sent
// messageID, in response to a CoAP Reset (RFC 7641 §2).
func (c *Client) deregisterObserve(messageID uint16) {
	for i, obs := range c.observedInstances {
		if obs.messageID == messageID {
			c.observedInstances = append(c.observedInstances[:i], c.observedInstances[i+1:]...)
			metrics.ObservedResources.Dec()
			return
		}
	}
	for i, obs := range c.observedResources {
		if obs.messageID == messageID {
			c.observedResources = append(c.observedResources[:i], c.observedResources[i+1:]...)
			metrics.ObservedResources.Dec()
			return
		}
	}
}
