// Command invoice-gateway serves the invoice creation API and provides the
// admin commands that manage its database.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jcmexdev/invoice-gateway/internal/pkg/config"
)

var version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "invoice-gateway",
		Short:         "Create and publish Square invoices for authorized staff",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	load := func() (*config.Config, error) {
		return config.Load(configPath)
	}

	rootCmd.AddCommand(serveCmd(load))
	rootCmd.AddCommand(migrateCmd(load))
	rootCmd.AddCommand(rolesCmd(load))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type loader func() (*config.Config, error)
