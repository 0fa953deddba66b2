package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pash-msft/msccl-tools/pkg/launch"
)

func newDetectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detect [training args...]",
		Short: "Show how this process would be classified at launch",
		Long: `Classify the launch environment without running anything.

Pass the training command's arguments after -- to exercise legacy
--local_rank detection.`,
		Example: `  msccl detect
  LOCAL_RANK=0 WORLD_SIZE=8 msccl detect
  msccl detect -- train.py --local_rank 3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			launchCtx, err := launch.Detect(launch.OS, args, log.Logger)
			if err != nil {
				return err
			}

			if jsonOutput {
				out := struct {
					Tier        string `json:"tier"`
					Coordinator bool   `json:"coordinator"`
					WorldSize   int    `json:"world_size"`
					HasSiblings bool   `json:"has_siblings"`
				}{
					Tier:        string(launchCtx.Tier),
					Coordinator: launchCtx.Coordinator,
					WorldSize:   launchCtx.WorldSize,
					HasSiblings: launchCtx.HasSiblings,
				}
				return json.NewEncoder(os.Stdout).Encode(out)
			}

			fmt.Printf("Tier:        %s\n", launchCtx.Tier)
			fmt.Printf("Coordinator: %t\n", launchCtx.Coordinator)
			if launchCtx.WorldSize > 0 {
				fmt.Printf("World size:  %d\n", launchCtx.WorldSize)
			} else {
				fmt.Printf("World size:  unresolved (runtime decides)\n")
			}
			fmt.Printf("Siblings:    %t\n", launchCtx.HasSiblings)
			return nil
		},
	}

	return cmd
}
