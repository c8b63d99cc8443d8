// Command entity4go inspects the schema metadata entity4go works from: table
// columns, foreign keys and inferred link tables.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ammar0144/entity4go"
	"github.com/ammar0144/entity4go/pkg/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// cli holds what PersistentPreRunE loaded for the subcommands
type cli struct {
	cfgFile string
	cfg     *entity4go.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "entity4go",
		Short: "Inspect the schema metadata used for entity mapping",
		Long: `entity4go reads table columns and foreign keys through the configured
metadata cache and shows how relationships between tables are inferred.

Configuration comes from entity4go.yaml (or --config), ENTITY4GO_* environment
variables and the flags below, in increasing order of precedence.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			cfg, err := config.Load(c.cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}
			c.cfg = cfg
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (default: ./entity4go.yaml)")
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		newInspectCmd(c),
		newLinkCmd(c),
		newFlushCmd(c),
	)
	return root
}
