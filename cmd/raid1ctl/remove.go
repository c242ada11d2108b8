package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/dreamware/raidbd/internal/admin"
	"github.com/dreamware/raidbd/internal/raid"
)

type removeOptions struct {
	addr   string
	reason string
}

func newRemoveMirrorCommand() *cobra.Command {
	var opts removeOptions

	cmd := &cobra.Command{
		Use:   "remove-mirror ARRAY SLOT",
		Short: "Remove a mirror from a running array",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			slot, err := strconv.Atoi(args[1])
			if err != nil || slot < 0 {
				return errors.Errorf("invalid slot %q", args[1])
			}
			return runRemoveMirror(cmd.Context(), cmd.OutOrStdout(), opts, args[0], slot)
		},
	}
	flags := cmd.Flags()
	addAdminAddrFlag(flags, &opts.addr)
	flags.StringVar(&opts.reason, "reason", "", "Reason recorded in the server log")
	return cmd
}

func runRemoveMirror(ctx context.Context, out io.Writer, opts removeOptions, name string, slot int) error {
	u := fmt.Sprintf("%s/arrays/%s/mirrors/%d/remove", baseURL(opts.addr), url.PathEscape(name), slot)

	var info raid.Info
	if err := admin.PostJSON(ctx, u, admin.RemoveRequest{Reason: opts.reason}, &info); err != nil {
		return err
	}
	fmt.Fprintf(out, "removed slot %d from %s\n", slot, name)
	printInfo(out, info)
	return nil
}
