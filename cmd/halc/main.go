// halc is the command line front end: it compiles dialect sources into
// bytecode containers and runs functions from compiled modules on a host
// device.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/halcyonml/halcyon"
)

var verbose bool

func main() {
	root := &cobra.Command{
		Use:          "halc",
		Short:        "Compile and run tensor modules",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				logger, err := zap.NewDevelopment()
				if err != nil {
					return fmt.Errorf("logger: %w", err)
				}
				halcyon.SetLogger(logger)
			}
			return nil
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug tracing")

	root.AddCommand(newCompileCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newVersionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
