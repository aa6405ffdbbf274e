package commands

import (
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CANDY-LINE/lwm2m-objectproxy/internal/config"
	"github.com/CANDY-LINE/lwm2m-objectproxy/internal/driver"
	"github.com/CANDY-LINE/lwm2m-objectproxy/internal/lwm2m"
	"github.com/CANDY-LINE/lwm2m-objectproxy/internal/model"
	"github.com/CANDY-LINE/lwm2m-objectproxy/internal/objectproxy"
)

// Default short server id every Security/Server instance pair agrees on,
// and the registration lifetime written to the Server instance.
const (
	defaultShortServerID = 123
	defaultLifetime      = 60
	defaultServerURI     = "coaps://jp.inventory.soracom.io:5684"
)

func securityCommand() *cobra.Command {
	var identity, psk string
	cmd := &cobra.Command{
		Use:   "set-security",
		Short: "Replace the Security/Server instance 0 credentials used for device management",
		RunE: func(cmd *cobra.Command, args []string) error {
			if identity == "" || psk == "" {
				return fmt.Errorf("--identity and --psk must both be set")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			d, err := driver.New(cfg, nil, nil)
			if err != nil {
				return err
			}
			if err := setSecurityParams(d.Objects, identity, psk); err != nil {
				return err
			}
			fmt.Println("security parameters updated")
			return nil
		},
	}
	cmd.Flags().StringVar(&identity, "identity", "", "device identity (plain text, base64-encoded before storage)")
	cmd.Flags().StringVar(&psk, "psk", "", "pre-shared key, already base64-encoded")
	return cmd
}

// setSecurityParams replaces Security/Server instance 0 with a fresh
// device-management credential pair: delete both instance 0s, recreate
// them, then write URI/Bootstrap/Identity/SecretKey/ShortServerID and
// Lifetime.
func setSecurityParams(objects lwm2m.Registry, identity, psk string) error {
	sec := objects.Find(model.ObjectIDSecurity)
	srv := objects.Find(model.ObjectIDServer)
	if sec == nil || srv == nil {
		return fmt.Errorf("security or server object not registered")
	}

	if status := sec.Delete(0); status != objectproxy.StatusDeleted {
		return fmt.Errorf("failed to delete security instance: status %d", status)
	}
	if status := srv.Delete(0); status != objectproxy.StatusDeleted {
		return fmt.Errorf("failed to delete server instance: status %d", status)
	}
	if status := sec.Create(0, nil); status != objectproxy.StatusCreated {
		return fmt.Errorf("failed to create security instance: status %d", status)
	}
	if status := srv.Create(0, nil); status != objectproxy.StatusCreated {
		return fmt.Errorf("failed to create server instance: status %d", status)
	}

	identityOpaque := base64.StdEncoding.EncodeToString([]byte(identity))
	secValues := []objectproxy.ResourceValue{
		objectproxy.ParseResourceValue(model.ResourceIDSecurityURI, objectproxy.TypeString, defaultServerURI),
		objectproxy.ParseResourceValue(model.ResourceIDSecurityBootstrap, objectproxy.TypeBoolean, "false"),
		objectproxy.ParseResourceValue(model.ResourceIDSecurityIdentity, objectproxy.TypeOpaque, identityOpaque),
		objectproxy.ParseResourceValue(model.ResourceIDSecuritySecretKey, objectproxy.TypeOpaque, psk),
		objectproxy.ParseResourceValue(model.ResourceIDSecurityShortServerID, objectproxy.TypeInteger, fmt.Sprint(defaultShortServerID)),
	}
	if status := sec.Write(0, secValues); status != objectproxy.StatusChanged {
		return fmt.Errorf("failed to write security resources: status %d", status)
	}

	srvValues := []objectproxy.ResourceValue{
		objectproxy.ParseResourceValue(model.ResourceIDServerShortServerID, objectproxy.TypeInteger, fmt.Sprint(defaultShortServerID)),
		objectproxy.ParseResourceValue(model.ResourceIDServerLifetime, objectproxy.TypeInteger, fmt.Sprint(defaultLifetime)),
	}
	if status := srv.Write(0, srvValues); status != objectproxy.StatusChanged {
		return fmt.Errorf("failed to write server resources: status %d", status)
	}
	return nil
}
