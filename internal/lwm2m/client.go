package lwm2m

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/CANDY-LINE/lwm2m-objectproxy/internal/coap"
	"github.com/CANDY-LINE/lwm2m-objectproxy/internal/dtls"
	"github.com/CANDY-LINE/lwm2m-objectproxy/internal/model"
	"github.com/CANDY-LINE/lwm2m-objectproxy/internal/objectproxy"
)

// Timeouts and defaults from OMA-TS-LightweightM2M-V1_0_2-20180209-A §5.3.
const (
	registerTimeout  = 10 * time.Second
	updateTimeout    = 10 * time.Second
	defaultLifetime  = 60
	defaultServerURI = "coaps://localhost:5684"
	defaultShortID   = 123

	protocolVersion = "1.0"
	bindingModeU    = "U"
)

// Client is the registered-client state machine: it owns the DTLS/CoAP
// connection to one LWM2M server and dispatches Device Management
// operations to the Object registry.
//
// Grounded on _examples/1stship-inventoryd/lwm2m.go's Lwm2m struct.
type Client struct {
	endpointName string
	objects      Registry
	registry     model.Registry

	securityObjectID, securityInstanceID uint16
	serverObjectID, serverInstanceID     uint16

	conn       *coap.Conn
	location   string
	registered bool

	observedInstances []*observedInstance
	observedResources []*observedResource

	out io.Writer
	log *logrus.Entry
}

type observedInstance struct {
	token        []byte
	messageID    uint16
	observeCount uint32
	objectID     uint16
	instanceID   uint16
	resources    []*observedResource
}

type observedResource struct {
	token        []byte
	messageID    uint16
	observeCount uint32
	objectID     uint16
	instanceID   uint16
	resourceID   uint16
	lastValue    string
}

// New builds a Client for endpointName, backed by objects for Device
// Management dispatch and registry for TLV type lookups. The objects that
// carry bootstrap credentials and registration parameters are fixed to the
// model package's well-known ObjectIDSecurity and ObjectIDServer (objects 0
// and 1 in the OMA registry).
func New(endpointName string, objects Registry, registry model.Registry) *Client {
	return &Client{
		endpointName:     endpointName,
		objects:          objects,
		registry:         registry,
		securityObjectID: model.ObjectIDSecurity,
		serverObjectID:   model.ObjectIDServer,
		out:              os.Stdout,
		log:              logrus.WithField("component", "lwm2m"),
	}
}

// Locate finds which Security/Server instance this client should use:
// the Security instance whose Bootstrap-Server resource is false, and the
// Server instance whose Short Server ID matches it.
//
// Grounded on lwm2m.go's searchDMSecurityInstance/searchDMServerInstance.
func (c *Client) Locate() error {
	secObj := c.objects.Find(c.securityObjectID)
	if secObj == nil {
		return errors.New("security object not registered")
	}
	instanceIDs, status := secObj.ListInstanceIDs()
	if status != objectproxy.StatusContent {
		return errors.New("failed to list security instances")
	}
	found := false
	for _, id := range instanceIDs {
		values, status := secObj.Read(id, []uint16{model.ResourceIDSecurityBootstrap})
		if status != objectproxy.StatusContent || len(values) == 0 {
			continue
		}
		if !values[0].Boolean {
			c.securityInstanceID = id
			found = true
			break
		}
	}
	if !found {
		return errors.New("no device-management security instance found")
	}

	shortServerID := c.shortServerID()
	srvObj := c.objects.Find(c.serverObjectID)
	if srvObj == nil {
		return errors.New("server object not registered")
	}
	instanceIDs, status = srvObj.ListInstanceIDs()
	if status != objectproxy.StatusContent {
		return errors.New("failed to list server instances")
	}
	for _, id := range instanceIDs {
		values, status := srvObj.Read(id, []uint16{model.ResourceIDServerShortServerID})
		if status != objectproxy.StatusContent || len(values) == 0 {
			continue
		}
		if int(values[0].Integer) == shortServerID {
			c.serverInstanceID = id
			return nil
		}
	}
	return errors.New("no matching device-management server instance found")
}

func (c *Client) shortServerID() int {
	secObj := c.objects.Find(c.securityObjectID)
	values, status := secObj.Read(c.securityInstanceID, []uint16{model.ResourceIDSecurityShortServerID})
	if status != objectproxy.StatusContent || len(values) == 0 {
		return defaultShortID
	}
	return int(values[0].Integer)
}

func (c *Client) identity() []byte {
	secObj := c.objects.Find(c.securityObjectID)
	values, status := secObj.Read(c.securityInstanceID, []uint16{model.ResourceIDSecurityIdentity})
	if status != objectproxy.StatusContent || len(values) == 0 {
		return nil
	}
	decoded, err := base64.StdEncoding.DecodeString(values[0].String)
	if err != nil {
		return nil
	}
	return decoded
}

func (c *Client) secretKey() []byte {
	secObj := c.objects.Find(c.securityObjectID)
	values, status := secObj.Read(c.securityInstanceID, []uint16{model.ResourceIDSecuritySecretKey})
	if status != objectproxy.StatusContent || len(values) == 0 {
		return nil
	}
	decoded, err := base64.StdEncoding.DecodeString(values[0].String)
	if err != nil {
		return nil
	}
	return decoded
}

func (c *Client) serverURI() string {
	secObj := c.objects.Find(c.securityObjectID)
	values, status := secObj.Read(c.securityInstanceID, []uint16{model.ResourceIDSecurityURI})
	if status != objectproxy.StatusContent || len(values) == 0 {
		return defaultServerURI
	}
	return values[0].String
}

// Lifetime reports the registered Server instance's configured lifetime, in
// seconds, for callers that need to size their own update schedule.
func (c *Client) Lifetime() int { return c.lifetime() }

func (c *Client) lifetime() int {
	srvObj := c.objects.Find(c.serverObjectID)
	values, status := srvObj.Read(c.serverInstanceID, []uint16{model.ResourceIDServerLifetime})
	if status != objectproxy.StatusContent || len(values) == 0 {
		return defaultLifetime
	}
	return int(values[0].Integer)
}

// connect dials the device-management server over DTLS-PSK and wires a CoAP
// connection on top of it, replacing any existing connection first.
func (c *Client) connect() error {
	if c.conn != nil {
		c.closeConn()
	}
	host := strings.TrimPrefix(c.serverURI(), "coaps://")
	session, err := dtls.Dial(host, c.identity(), c.secretKey())
	if err != nil {
		return errors.New("DTLS connect failed: " + err.Error())
	}
	c.conn = coap.New(session, c.ReceiveMessage)
	return nil
}

func (c *Client) closeConn() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.registered = false
}

// Register performs the LWM2M Register operation (§5.3.1), emitting a
// "/stateChanged:" line on every transition of the registration state
// machine (STATE_REGISTERING, then STATE_READY or, on failure,
// STATE_REGISTER_REQUIRED), grounded on lwm2mclient.c's state-change
// notifications around its lwm2m_step loop.
func (c *Client) Register() error {
	c.log.Info("registering")
	emitStateChanged(c.out, c.log, "STATE_REGISTERING")
	if err := c.connect(); err != nil {
		emitStateChanged(c.out, c.log, "STATE_REGISTER_REQUIRED")
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), registerTimeout)
	defer cancel()
	_, ack := c.conn.SendRequest(coap.CodePost, c.registerOptions(c.lifetime()), c.linkFormat())
	select {
	case <-ctx.Done():
		c.closeConn()
		emitStateChanged(c.out, c.log, "STATE_REGISTER_REQUIRED")
		return errors.New("register timed out")
	case <-ack:
		c.registered = true
		c.log.WithField("location", c.location).Info("register finished")
		emitStateChanged(c.out, c.log, "STATE_READY")
	}
	return nil
}

// Update performs the LWM2M Update operation (§5.3.2), registering first if
// no connection exists. A failed Update drops the client back to
// STATE_REGISTER_REQUIRED since the next StartUpdate tick re-registers it.
func (c *Client) Update() error {
	if c.conn == nil {
		return c.Register()
	}

	c.log.Info("updating")
	ctx, cancel := context.WithTimeout(context.Background(), updateTimeout)
	defer cancel()
	_, ack := c.conn.SendRequest(coap.CodePost, c.updateOptions(), nil)
	select {
	case <-ctx.Done():
		c.closeConn()
		emitStateChanged(c.out, c.log, "STATE_REGISTER_REQUIRED")
		return errors.New("update timed out")
	case <-ack:
		c.log.Info("update finished")
	}
	return nil
}

// StartUpdate runs Register then periodic Update until stop fires.
func (c *Client) StartUpdate(interval time.Duration, stop <-chan struct{}) {
	if err := c.Register(); err != nil {
		c.log.WithError(err).Error("initial register failed")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.Update(); err != nil {
				c.log.WithError(err).Error("update failed")
			}
		case <-stop:
			c.closeConn()
			return
		}
	}
}

// StartObserving periodically checks every observed resource/instance for
// changes, sending Notify on any difference.
func (c *Client) StartObserving(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.observe()
		case <-stop:
			return
		}
	}
}

func (c *Client) registerOptions(lifetime int) []coap.Option {
	return []coap.Option{
		{Number: coap.OptionURIPath, Value: []byte("rd")},
		{Number: coap.OptionContentFormat, Value: []byte{coap.ContentFormatLinkFormat}},
		{Number: coap.OptionURIQuery, Value: []byte("lwm2m=" + protocolVersion)},
		{Number: coap.OptionURIQuery, Value: []byte("ep=" + c.endpointName)},
		{Number: coap.OptionURIQuery, Value: []byte("b=" + bindingModeU)},
		{Number: coap.OptionURIQuery, Value: []byte("lt=" + strconv.Itoa(lifetime))},
	}
}

func (c *Client) updateOptions() []coap.Option {
	return []coap.Option{
		{Number: coap.OptionURIPath, Value: []byte("rd")},
		{Number: coap.OptionURIPath, Value: []byte(c.location)},
	}
}

// linkFormat builds the registration payload (RFC 6690); the Security
// object (id 0) is excluded per §5.3.1.
func (c *Client) linkFormat() []byte {
	links := []string{"</>;rt=\"oma.lwm2m\";ct=" + strconv.Itoa(coap.ContentFormatLwm2mJSON)}
	for objectID, obj := range c.objects {
		if objectID == c.securityObjectID {
			continue
		}
		instanceIDs, status := obj.ListInstanceIDs()
		if status != objectproxy.StatusContent {
			continue
		}
		for _, instanceID := range instanceIDs {
			links = append(links, "<"+strconv.Itoa(int(objectID))+"/"+strconv.Itoa(int(instanceID))+">")
		}
	}
	return []byte(strings.Join(links, ","))
}
