// Command raid1ctl assembles RAID-1 arrays from a TOML configuration and
// serves, benchmarks and inspects them.
package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dreamware/raidbd/internal/config"
	"github.com/dreamware/raidbd/internal/logging"
)

const defaultConfigPath = "raidbd.toml"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "raid1ctl",
		Short:        "Assemble, serve and inspect RAID-1 arrays",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.ConfigureRuntime()
		},
	}

	cmd.AddCommand(
		newServeCommand(),
		newBenchCommand(),
		newStatusCommand(),
		newCheckConfigCommand(),
		newRemoveMirrorCommand(),
	)
	return cmd
}

// baseURL turns an admin address ("host:port", ":port" or a URL) into a
// URL prefix without a trailing slash.
func baseURL(addr string) string {
	addr = strings.TrimSpace(addr)
	switch {
	case strings.HasPrefix(addr, "http://"), strings.HasPrefix(addr, "https://"):
	case strings.HasPrefix(addr, ":"):
		addr = "http://127.0.0.1" + addr
	default:
		addr = "http://" + addr
	}
	return strings.TrimRight(addr, "/")
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func addConfigFlag(flags *pflag.FlagSet, p *string) {
	flags.StringVarP(p, "config", "c", defaultConfigPath, "Configuration file")
}

func addAdminAddrFlag(flags *pflag.FlagSet, p *string) {
	flags.StringVar(p, "addr", getenv(config.EnvAdminAddr, config.DefaultAdminAddr), "Admin address")
}
