package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pash-msft/msccl-tools/pkg/plan"
	"github.com/pash-msft/msccl-tools/pkg/topology"
)

func newTopoCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topo",
		Short: "Detect and classify the local machine interconnect",
		Long: `Run hardware detection and print the machine archetype.

An unknown archetype is not an error here; it only becomes fatal when a
job actually needs a synthesis plan for the machine.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			machine := topology.Detect(cmd.Context(), log.Logger)

			devices := 0
			if machine.Topo != nil {
				devices = machine.Topo.NumDevices()
			}
			planned := plan.Registered(machine.Archetype)

			if jsonOutput {
				out := struct {
					Archetype string `json:"archetype"`
					Devices   int    `json:"devices"`
					Plan      bool   `json:"plan_available"`
				}{machine.Archetype, devices, planned}
				return json.NewEncoder(os.Stdout).Encode(out)
			}

			fmt.Printf("Archetype: %s\n", machine.Archetype)
			fmt.Printf("Devices:   %d\n", devices)
			fmt.Printf("Plan:      %t\n", planned)
			return nil
		},
	}

	return cmd
}
