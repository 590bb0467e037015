package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/groengemak/solgrid/config"
	"github.com/groengemak/solgrid/core/grid"
	"github.com/groengemak/solgrid/infra/logger"
)

var (
	claimGrid     string
	claimWatts    float64
	claimPriority int
	claimAfter    time.Duration
	claimPeriod   time.Duration
)

// claimCmd runs a dry-run admission test against the configured grids,
// without touching any hardware.
var claimCmd = &cobra.Command{
	Use:   "claim",
	Short: "Test whether a power claim would be admitted",
	RunE:  runClaim,
}

func init() {
	claimCmd.Flags().StringVar(&claimGrid, "grid", grid.DefaultGridName, "grid to claim power on")
	claimCmd.Flags().Float64Var(&claimWatts, "watts", 1000, "constant demand in watts")
	claimCmd.Flags().IntVar(&claimPriority, "priority", 5, "claim priority (0-10)")
	claimCmd.Flags().DurationVar(&claimAfter, "after", 0, "window start offset")
	claimCmd.Flags().DurationVar(&claimPeriod, "period", time.Hour, "window length (0 = open-ended)")
	rootCmd.AddCommand(claimCmd)
}

func runClaim(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New("claim-command")
	var gc *config.GridConfig
	for i := range cfg.Grids {
		if cfg.Grids[i].Name == claimGrid {
			gc = &cfg.Grids[i]
			break
		}
	}
	if gc == nil {
		return fmt.Errorf("grid %q is not configured", claimGrid)
	}

	g := grid.New(gc.Name, grid.Options{
		CapacityW:  gc.CapacityW,
		Period:     time.Duration(gc.PeriodSeconds) * time.Second,
		Confidence: gc.Confidence,
		Horizon:    gc.Horizon,
		Logger:     log,
	})
	defer g.Close()

	c := grid.NewClaim("cli-probe",
		grid.ConstantDemand(claimWatts, 0),
		grid.ConstantPriority(claimPriority),
		grid.Flexibility{}, nil)
	if g.ClaimPower(c, claimAfter, claimPeriod) {
		fmt.Fprintf(cmd.OutOrStdout(), "admitted: %.0f W at priority %d on grid %s\n",
			claimWatts, claimPriority, claimGrid)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "rejected: no capacity for %.0f W on grid %s (capacity %.0f W)\n",
		claimWatts, claimGrid, gc.CapacityW)
	return nil
}
