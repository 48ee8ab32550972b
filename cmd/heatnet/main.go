// Command heatnet runs the thermal transport engine over a district
// heating network.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "heatnet",
		Short:         "District heating thermal transport simulator",
		Long:          `heatnet steps a district heating network through time, coupling a hydraulic solve with delay-aware temperature propagation.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "configs/heatnet.yaml", "run configuration file")
	root.AddCommand(newRunCmd(), newValidateCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "heatnet:", err)
		os.Exit(1)
	}
}
