// gbe-proxy: fan-out data-channel relay, normally spawned by gbe-router.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/graybear-io/gbe-envoy/internal/cliutil"
	"github.com/graybear-io/gbe-envoy/internal/protocol"
	"github.com/graybear-io/gbe-envoy/internal/relay"
)

var Version = "dev"

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "gbe-proxy",
		Short: "Tee one upstream data source to multiple downstream subscribers",
		Long: `gbe-proxy connects to an upstream tool's data socket and
duplicates every frame it receives to any number of downstream
subscribers. It is normally spawned by gbe-router on first subscribe and
is not meant to be run by hand.

  --router   reserved for advisory FlowControl reporting; unused otherwise
  --upstream connect here, read frames
  --listen   bind here, accept downstream connections
  --mode     "framed" (default); "raw" is reserved and rejected at startup`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		PreRunE:      func(cmd *cobra.Command, _ []string) error { return cliutil.BindViper(cmd, v) },
		RunE:         func(_ *cobra.Command, _ []string) error { return run(v) },
	}

	f := cmd.Flags()
	f.String("router", "", "router control socket address (unix://..., advisory)")
	f.String("upstream", "", "upstream data socket address (unix://...)")
	f.String("listen", "", "downstream listen address (unix://...)")
	f.String("mode", "framed", `data mode: "framed" ("raw" is reserved and rejected)`)
	cliutil.AddLoggingFlags(cmd)
	cliutil.AddConfigFlag(cmd)

	return cmd
}

func run(v *viper.Viper) error {
	cliutil.SetupLogging(v)

	mode := v.GetString("mode")
	if mode != "framed" && mode != "raw" {
		return fmt.Errorf("invalid mode %q (must be framed or raw)", mode)
	}
	// "raw" passes the check above but is rejected here: only framed mode
	// is supported.
	if mode != "framed" {
		return fmt.Errorf("mode %q not implemented", mode)
	}

	upstream := protocol.Address(v.GetString("upstream"))
	listen := protocol.Address(v.GetString("listen"))
	router := protocol.Address(v.GetString("router"))

	if upstream == "" || listen == "" {
		return fmt.Errorf("--upstream and --listen are required")
	}

	slog.Info("gbe-proxy starting", "version", Version, "upstream", upstream, "listen", listen, "router", router)

	r := relay.New(upstream, listen, router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return r.Run(ctx)
}
