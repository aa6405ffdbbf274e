package objectproxy

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Controller owns the stdio channel shared by every Proxy talking to one
// external controller process, since stdout/stdin are process-global
// resources that only one channel can own.
type Controller struct {
	ch      *StdioChannel
	proxies map[uint16]*Proxy
	log     *logrus.Entry
}

// NewController starts the background stdio reader over in/out and returns
// a Controller with no registered objects.
func NewController(in io.Reader, out io.Writer) *Controller {
	return &Controller{
		ch:      NewStdioChannel(in, out),
		proxies: make(map[uint16]*Proxy),
		log:     logrus.WithField("component", "objectproxy"),
	}
}

// Register creates and returns a Proxy for objectID, sharing this
// Controller's stdio channel. Registering the same objectID twice replaces
// the earlier Proxy.
func (c *Controller) Register(objectID uint16) *Proxy {
	p := NewProxy(objectID, c.ch)
	c.proxies[objectID] = p
	c.log.WithField("objectId", objectID).Debug("registered generic object proxy")
	return p
}

// Proxy returns the previously registered Proxy for objectID, or nil.
func (c *Controller) Proxy(objectID uint16) *Proxy {
	return c.proxies[objectID]
}

// Close releases the Controller. The stdio channel's background reader
// exits on its own once in is closed or exhausted; Close exists so callers
// have a single symmetric teardown point alongside NewController.
func (c *Controller) Close() error {
	c.log.Debug("closing object proxy controller")
	return nil
}
