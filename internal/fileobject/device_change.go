package fileobject

import (
	"github.com/sirupsen/logrus"

	"github.com/CANDY-LINE/lwm2m-objectproxy/internal/objectproxy"
)

// DeviceChange is the fallback write path for a Device object resource whose
// ordinary Write declines with 405 Method Not Allowed: device-specific
// resources such as reboot or factory-reset triggers need handling no
// file-backed Object can provide on its own. This client carries no real
// device firmware integration, so the fallback stays a logged no-op rather
// than fabricating one.
//
// Grounded on original_source/src/client/object_generic.c's
// handle_value_changed, which calls device_change() for the same 405 case.
func DeviceChange(value objectproxy.ResourceValue) objectproxy.Status {
	logrus.WithField("resourceId", value.ID).
		Debug("device-specific change routine has no implementation, dropping value")
	return objectproxy.StatusNotImplemented
}
