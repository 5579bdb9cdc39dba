package landingcli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the landing worker loop only, without the Public Request API",
	RunE: func(cmd *cobra.Command, args []string) error {
		rf, err := readRuntimeFlags(cmd)
		if err != nil {
			return fmt.Errorf("reading flags: %w", err)
		}

		ctx := cmd.Context()
		d, err := build(ctx, rf)
		if err != nil {
			return err
		}
		defer d.db.Close()
		defer d.log.Sync()

		d.log.Info("landing worker starting", zap.Int("repositories", len(d.cfg.Repositories)))
		return d.worker.Run(ctx)
	},
}

func init() {
	addRuntimeFlags(workerCmd)
}
