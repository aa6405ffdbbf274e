// Package fileobject is a directory-backed Object implementation: every
// resource value is one file under <dir>/<objectId>/<instanceId>/<resourceId>.
// It exists to hold the Security and Server object instances a client needs
// before it has registered with any Device Management server and can reach
// a generic proxy controller — the chicken-and-egg resolved by keeping
// bootstrap credentials on disk.
//
// Grounded on _examples/1stship-inventoryd/inventoryd_handler_file.go's
// HandlerFile.
package fileobject

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/CANDY-LINE/lwm2m-objectproxy/internal/model"
	"github.com/CANDY-LINE/lwm2m-objectproxy/internal/objectproxy"
)

// Object satisfies lwm2m.Object's method shape by reading and writing one
// LWM2M object's resource values as files under a directory tree.
type Object struct {
	objectID uint16
	dir      string
	registry model.Registry
	log      *logrus.Entry
}

// New builds a file-backed Object for objectID rooted at dir, using registry
// to look up each resource's data type for string<->value conversion.
func New(objectID uint16, dir string, registry model.Registry) *Object {
	return &Object{
		objectID: objectID,
		dir:      dir,
		registry: registry,
		log:      logrus.WithFields(logrus.Fields{"component": "fileobject", "objectId": objectID}),
	}
}

func (o *Object) ObjectID() uint16 { return o.objectID }

func (o *Object) instancePath(instanceID uint16) string {
	return filepath.Join(o.dir, strconv.Itoa(int(o.objectID)), strconv.Itoa(int(instanceID)))
}

func (o *Object) resourcePath(instanceID, resourceID uint16) string {
	return filepath.Join(o.instancePath(instanceID), strconv.Itoa(int(resourceID)))
}

// ListInstanceIDs reports every numbered subdirectory of the object
// directory, sorted ascending.
func (o *Object) ListInstanceIDs() ([]uint16, objectproxy.Status) {
	objectPath := filepath.Join(o.dir, strconv.Itoa(int(o.objectID)))
	entries, err := os.ReadDir(objectPath)
	if err != nil {
		return nil, objectproxy.StatusNotFound
	}
	ids := make([]uint16, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if id, err := strconv.Atoi(e.Name()); err == nil {
			ids = append(ids, uint16(id))
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, objectproxy.StatusContent
}

// resourceIDs lists every file (not directory) directly under an instance
// directory.
func (o *Object) resourceIDs(instanceID uint16) ([]uint16, error) {
	entries, err := os.ReadDir(o.instancePath(instanceID))
	if err != nil {
		return nil, err
	}
	ids := make([]uint16, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, err := strconv.Atoi(e.Name()); err == nil {
			ids = append(ids, uint16(id))
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Read returns the requested resourceIDs, or every resource on the instance
// when resourceIDs is empty.
func (o *Object) Read(instanceID uint16, resourceIDs []uint16) ([]objectproxy.ResourceValue, objectproxy.Status) {
	ids := resourceIDs
	if len(ids) == 0 {
		var err error
		ids, err = o.resourceIDs(instanceID)
		if err != nil {
			return nil, objectproxy.StatusNotFound
		}
	}

	values := make([]objectproxy.ResourceValue, 0, len(ids))
	for _, id := range ids {
		buf, err := os.ReadFile(o.resourcePath(instanceID, id))
		if err != nil {
			o.log.WithFields(logrus.Fields{"instanceId": instanceID, "resourceId": id}).
				WithError(err).Debug("resource file missing")
			continue
		}
		dataType := model.DataTypeString
		if def := o.registry.FindResource(o.objectID, id); def != nil {
			dataType = def.Type
		}
		values = append(values, objectproxy.ParseResourceValue(id, objectproxy.ResourceType(dataType), string(buf)))
	}
	return values, objectproxy.StatusContent
}

// Write stores each value as its plain-text form at the resource's file
// path, creating the instance directory if it does not already exist.
func (o *Object) Write(instanceID uint16, values []objectproxy.ResourceValue) objectproxy.Status {
	if err := os.MkdirAll(o.instancePath(instanceID), 0o755); err != nil {
		return objectproxy.StatusInternalServerError
	}
	for _, v := range values {
		path := o.resourcePath(instanceID, v.ID)
		if err := os.WriteFile(path, []byte(v.StringValue()), 0o644); err != nil {
			o.log.WithFields(logrus.Fields{"instanceId": instanceID, "resourceId": v.ID}).
				WithError(err).Warn("failed to write resource file")
			return objectproxy.StatusInternalServerError
		}
	}
	return objectproxy.StatusChanged
}

// Execute is not meaningful for Security/Server resources: this object
// never backs anything with an executable resource, so it has no
// executable-script support.
func (o *Object) Execute(instanceID, resourceID uint16, payload []byte) objectproxy.Status {
	return objectproxy.StatusMethodNotAllowed
}

// Discover is unimplemented: no consumer of this client needs it yet.
func (o *Object) Discover(instanceID uint16) ([]uint16, objectproxy.Status) {
	return nil, objectproxy.StatusNotImplemented
}

// Create makes the instance directory, removing any non-directory file that
// occupies the same path first. With no values it returns StatusCreated;
// otherwise it writes values into the new instance and returns Write's
// status.
func (o *Object) Create(instanceID uint16, values []objectproxy.ResourceValue) objectproxy.Status {
	path := o.instancePath(instanceID)
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		if err := os.Remove(path); err != nil {
			return objectproxy.StatusMethodNotAllowed
		}
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return objectproxy.StatusMethodNotAllowed
	}
	if len(values) > 0 {
		return o.Write(instanceID, values)
	}
	return objectproxy.StatusCreated
}

// Delete removes an instance directory and everything under it.
func (o *Object) Delete(instanceID uint16) objectproxy.Status {
	if err := os.RemoveAll(o.instancePath(instanceID)); err != nil {
		return objectproxy.StatusMethodNotAllowed
	}
	return objectproxy.StatusDeleted
}
