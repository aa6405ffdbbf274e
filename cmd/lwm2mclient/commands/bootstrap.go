package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CANDY-LINE/lwm2m-objectproxy/internal/config"
	"github.com/CANDY-LINE/lwm2m-objectproxy/internal/driver"
)

// bootstrapCommand runs the client-initiated bootstrap sequence against the
// configured bootstrap server and populates the Security/Server objects on
// disk.
func bootstrapCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Run client-initiated bootstrap against the configured bootstrap server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			d, err := driver.New(cfg, nil, nil)
			if err != nil {
				return err
			}
			if err := d.Bootstrap(); err != nil {
				return fmt.Errorf("bootstrap failed: %w", err)
			}
			fmt.Println("bootstrap finished")
			return nil
		},
	}
}
