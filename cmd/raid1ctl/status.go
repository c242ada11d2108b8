package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dreamware/raidbd/internal/admin"
	"github.com/dreamware/raidbd/internal/raid"
)

func newStatusCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status [ARRAY]",
		Short: "Show the arrays of a running raid1ctl serve",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return runStatus(cmd.Context(), cmd.OutOrStdout(), addr, name)
		},
	}
	addAdminAddrFlag(cmd.Flags(), &addr)
	return cmd
}

func runStatus(ctx context.Context, out io.Writer, addr, name string) error {
	base := baseURL(addr)

	var infos []raid.Info
	if name == "" {
		var resp admin.ArraysResponse
		if err := admin.GetJSON(ctx, base+"/arrays", &resp); err != nil {
			return err
		}
		infos = resp.Arrays
	} else {
		var info raid.Info
		if err := admin.GetJSON(ctx, base+"/arrays/"+url.PathEscape(name), &info); err != nil {
			return err
		}
		infos = append(infos, info)
	}

	if len(infos) == 0 {
		fmt.Fprintln(out, "no arrays")
		return nil
	}
	for i, info := range infos {
		if i > 0 {
			fmt.Fprintln(out)
		}
		printInfo(out, info)
	}
	return nil
}

func printInfo(out io.Writer, info raid.Info) {
	fmt.Fprintf(out, "%s (%s) %s %s, %d/%d present, min %d\n",
		info.Name, info.Level, info.State, humanize.IBytes(info.BlockCnt*uint64(info.BlockLen)),
		info.Present, len(info.Slots), info.MinOperational)
	fmt.Fprintf(out, "  uuid %s\n", info.UUID)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  SLOT\tMIRROR\tPRESENT\tSIZE\tREADS\tWRITES\tFAILURES")
	for _, s := range info.Slots {
		size := "-"
		if s.RawBlocks > 0 {
			size = humanize.IBytes(s.RawBlocks * uint64(info.BlockLen))
		}
		fmt.Fprintf(tw, "  %d\t%s\t%t\t%s\t%s\t%s\t%d\n",
			s.Slot, s.Name, s.Present, size,
			humanize.Comma(int64(s.Stats.Reads)), humanize.Comma(int64(s.Stats.Writes)), s.Stats.Failures)
	}
	_ = tw.Flush()
}
