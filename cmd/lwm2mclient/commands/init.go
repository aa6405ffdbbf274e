package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/CANDY-LINE/lwm2m-objectproxy/internal/config"
)

// initCommand prompts for confirmation, then writes a fresh config.json
// with empty models/resources directories alongside it.
func initCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default config.json and models/resources directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("%s already exists; pass --force to overwrite", configPath)
			}
			if !force {
				fmt.Printf("%s does not exist. Create a default config there? [Y/n] ", configPath)
				scanner := bufio.NewScanner(os.Stdin)
				if !scanner.Scan() {
					return fmt.Errorf("aborted")
				}
				answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
				if answer != "" && answer != "y" && answer != "yes" {
					return fmt.Errorf("aborted")
				}
			}
			cfg, err := config.CreateDefault(configPath)
			if err != nil {
				return err
			}
			fmt.Printf("wrote %s (endpoint %s)\n", configPath, cfg.EndpointClientName)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config without prompting")
	return cmd
}
