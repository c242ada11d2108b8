package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dreamware/raidbd/internal/config"
)

func newCheckConfigCommand() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate a configuration file and summarize its arrays",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			printConfig(cmd.OutOrStdout(), cfg)
			return nil
		},
	}
	addConfigFlag(cmd.Flags(), &path)
	return cmd
}

// capacity is the usable size of ac in bytes: the smallest non-absent mirror.
func capacity(ac config.ArrayConfig) uint64 {
	var blocks uint64
	found := false
	for _, mc := range ac.Mirrors {
		if mc.Backend == config.BackendAbsent {
			continue
		}
		if !found || mc.Blocks < blocks {
			blocks = mc.Blocks
			found = true
		}
	}
	return blocks * uint64(ac.BlockSize)
}

func printConfig(out io.Writer, cfg config.Config) {
	fmt.Fprintf(out, "admin %s, health ", cfg.Admin.Addr)
	if cfg.Health.Disabled {
		fmt.Fprintln(out, "disabled")
	} else {
		fmt.Fprintf(out, "every %s (max %d failures)\n", cfg.Health.Interval.Duration, cfg.Health.MaxFailures)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ARRAY\tLEVEL\tMIRRORS\tBLOCK SIZE\tCAPACITY")
	for _, ac := range cfg.Arrays {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n",
			ac.Name, ac.Level, len(ac.Mirrors), ac.BlockSize, humanize.IBytes(capacity(ac)))
	}
	_ = tw.Flush()
}
