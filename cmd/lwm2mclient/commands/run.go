package commands

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/CANDY-LINE/lwm2m-objectproxy/internal/config"
	"github.com/CANDY-LINE/lwm2m-objectproxy/internal/driver"
	"github.com/CANDY-LINE/lwm2m-objectproxy/internal/objectproxy"
)

// runCommand loads config, optionally rotates security credentials or
// overrides the endpoint/root path, registers any generic proxy objects
// against stdio, and runs until a termination signal arrives.
func runCommand() *cobra.Command {
	var identity, psk, endpoint, rootPath, metricsAddr string
	var objectIDs []string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the client: register, then drive Update/Observe until terminated",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (identity == "") != (psk == "") {
				return fmt.Errorf("--identity and --psk must be given together")
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if endpoint != "" {
				cfg.EndpointClientName = endpoint
			}
			if rootPath != "" {
				cfg.RootPath = rootPath
			}
			if endpoint != "" || rootPath != "" {
				if err := config.Save(configPath, cfg); err != nil {
					return fmt.Errorf("save config: %w", err)
				}
			}

			proxyObjectIDs, err := parseObjectIDs(objectIDs)
			if err != nil {
				return err
			}

			var ctrl *objectproxy.Controller
			if len(proxyObjectIDs) > 0 {
				ctrl = objectproxy.NewController(os.Stdin, os.Stdout)
				defer ctrl.Close()
			}

			d, err := driver.New(cfg, ctrl, proxyObjectIDs)
			if err != nil {
				return err
			}
			d.MetricsAddr = metricsAddr

			if identity != "" && psk != "" {
				if err := setSecurityParams(d.Objects, identity, psk); err != nil {
					return fmt.Errorf("set security params: %w", err)
				}
			}

			return d.Run()
		},
	}

	cmd.Flags().StringVar(&identity, "identity", "", "device identity to rotate in before running (requires --psk)")
	cmd.Flags().StringVar(&psk, "psk", "", "pre-shared key, base64-encoded, to rotate in before running (requires --identity)")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "override the configured endpoint client name")
	cmd.Flags().StringVar(&rootPath, "root", "", "override the configured root path")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "listen address for the /metrics HTTP endpoint (disabled if empty)")
	cmd.Flags().StringSliceVar(&objectIDs, "object", nil, "generic object ids to expose over the stdio proxy controller (repeatable)")
	return cmd
}

func parseObjectIDs(raw []string) ([]uint16, error) {
	ids := make([]uint16, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		n, err := strconv.ParseUint(s, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid --object value %q: %w", s, err)
		}
		ids = append(ids, uint16(n))
	}
	return ids, nil
}
