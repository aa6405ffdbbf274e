// Package lwm2m drives the client-side LWM2M state machine — Register,
// Update, Bootstrap, and the Device Management Read/Write/Execute/Observe
// interface — over a CoAP/DTLS connection, dispatching every resource
// operation to a per-object Object implementation.
//
// Grounded on _examples/1stship-inventoryd/lwm2m.go,
// lwm2m_register.go, lwm2m_bootstrap.go and lwm2m_device_management.go.
package lwm2m

import "github.com/CANDY-LINE/lwm2m-objectproxy/internal/objectproxy"

// Object is the per-object capability a Client dispatches resource
// operations to. It is shaped identically to *objectproxy.Proxy's method
// set, so a generic proxy object satisfies Object without any adapter;
// internal/fileobject.Object is the concrete, file-backed implementation
// used for the Security and Server objects a client needs before it can
// even reach a generic proxy controller.
//
// Each object owns its own operations rather than funnelling every object
// in the client through one shared handler, so adding an object type never
// touches the objects already registered.
type Object interface {
	ObjectID() uint16
	ListInstanceIDs() ([]uint16, objectproxy.Status)
	Read(instanceID uint16, resourceIDs []uint16) ([]objectproxy.ResourceValue, objectproxy.Status)
	Write(instanceID uint16, values []objectproxy.ResourceValue) objectproxy.Status
	Execute(instanceID, resourceID uint16, payload []byte) objectproxy.Status
	Discover(instanceID uint16) ([]uint16, objectproxy.Status)
	Create(instanceID uint16, values []objectproxy.ResourceValue) objectproxy.Status
	Delete(instanceID uint16) objectproxy.Status
}

// Registry maps object ids to the Object implementation that owns them.
type Registry map[uint16]Object

// Find returns the Object owning objectID, or nil.
func (r Registry) Find(objectID uint16) Object {
	return r[objectID]
}

// ObjectIDs returns every registered object id, unordered.
func (r Registry) ObjectIDs() []uint16 {
	ids := make([]uint16, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	return ids
}
