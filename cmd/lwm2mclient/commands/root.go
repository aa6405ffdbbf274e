package commands

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "./config.json"

var configPath string

// Root builds the lwm2mclient command tree: run, bootstrap, init, and
// set-security, each operating against the --config flag shared by all of
// them.
func Root() *cobra.Command {
	root := &cobra.Command{
		Use:     "lwm2mclient",
		Short:   "LWM2M generic object proxy client",
		Version: "0.0.1",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !filepath.IsAbs(configPath) {
				cwd, err := os.Getwd()
				if err != nil {
					return err
				}
				configPath = filepath.Join(cwd, configPath)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to the client's config.json")

	logrus.SetLevel(logrus.InfoLevel)

	root.AddCommand(runCommand())
	root.AddCommand(bootstrapCommand())
	root.AddCommand(initCommand())
	root.AddCommand(securityCommand())
	return root
}
