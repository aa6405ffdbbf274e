// Package driver assembles the client's owned pieces (config, object
// registry, file-backed Security/Server objects, generic proxy controller,
// lwm2m.Client) into one running process and owns its lifecycle: signal
// trapping and the Update/Observe goroutines.
//
// Grounded on _examples/1stship-inventoryd/inventoryd.go's Inventoryd/Run.
package driver

import (
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/CANDY-LINE/lwm2m-objectproxy/internal/config"
	"github.com/CANDY-LINE/lwm2m-objectproxy/internal/fileobject"
	"github.com/CANDY-LINE/lwm2m-objectproxy/internal/lwm2m"
	"github.com/CANDY-LINE/lwm2m-objectproxy/internal/metrics"
	"github.com/CANDY-LINE/lwm2m-objectproxy/internal/model"
	"github.com/CANDY-LINE/lwm2m-objectproxy/internal/objectproxy"
)

// Driver owns every long-lived piece of the running client: its config, the
// object registry (Security/Server on disk plus whatever generic proxy
// objects the controller registers), and the lwm2m.Client that drives
// Register/Update/Observe against the device-management server.
type Driver struct {
	Config     *config.Config
	Registry   model.Registry
	Objects    lwm2m.Registry
	Client     *lwm2m.Client
	Controller *objectproxy.Controller

	// MetricsAddr, when non-empty, is the listen address for the /metrics
	// HTTP endpoint started by Run.
	MetricsAddr string

	log *logrus.Entry
}

// New loads cfg's object model registry and wires a Driver with file-backed
// Security and Server objects. proxyObjectIDs names the additional object
// ids the generic object proxy controller should expose; ctrl may be nil if
// the host process has no proxy objects to register.
func New(cfg *config.Config, ctrl *objectproxy.Controller, proxyObjectIDs []uint16) (*Driver, error) {
	registry, err := model.LoadRegistry(cfg.ModelsPath())
	if err != nil {
		return nil, errors.New("failed to load object model registry: " + err.Error())
	}

	objects := lwm2m.Registry{
		model.ObjectIDSecurity: fileobject.New(model.ObjectIDSecurity, cfg.ResourcesPath(), registry),
		model.ObjectIDServer:   fileobject.New(model.ObjectIDServer, cfg.ResourcesPath(), registry),
	}
	if ctrl != nil {
		for _, objectID := range proxyObjectIDs {
			objects[objectID] = ctrl.Register(objectID)
		}
	}

	client := lwm2m.New(cfg.EndpointClientName, objects, registry)
	return &Driver{
		Config:     cfg,
		Registry:   registry,
		Objects:    objects,
		Client:     client,
		Controller: ctrl,
		log:        logrus.WithField("component", "driver"),
	}, nil
}

// Bootstrap runs the client-initiated bootstrap sequence against the
// configured bootstrap server, populating the Security and Server objects
// before Run ever dials the device-management server.
func (d *Driver) Bootstrap() error {
	d.log.WithField("server", d.Config.BootstrapServer).Info("starting bootstrap")
	bootstrap := lwm2m.NewBootstrap(d.Config.EndpointClientName, d.Objects, d.Registry)
	return bootstrap.Run(d.Config.BootstrapServer)
}

// Run locates the device-management Security/Server instances, optionally
// starts the metrics endpoint, then drives Register/Update and Observe
// until a SIGINT/SIGTERM/SIGQUIT arrives.
//
// Grounded on inventoryd.go's Run: the same trapped signals, the same
// lifetime*9/10 update interval, and the same stop-channel teardown.
func (d *Driver) Run() error {
	if err := d.Client.Locate(); err != nil {
		return errors.New("failed to locate device-management instances: " + err.Error())
	}

	if d.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(d.MetricsAddr); err != nil {
				d.log.WithError(err).Error("metrics server stopped")
			}
		}()
	}

	trapSignals := []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, trapSignals...)

	updateStop := make(chan struct{})
	updateInterval := time.Duration(d.Client.Lifetime()) * 9 / 10 * time.Second
	go d.Client.StartUpdate(updateInterval, updateStop)

	observeStop := make(chan struct{})
	observeInterval := time.Duration(d.Config.ObserveInterval) * time.Second
	go d.Client.StartObserving(observeInterval, observeStop)

	<-sigCh
	d.log.Info("received termination signal, shutting down")
	close(updateStop)
	close(observeStop)

	return nil
}
