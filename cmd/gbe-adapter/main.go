// gbe-adapter: wraps an arbitrary command and bridges it onto the bus.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/graybear-io/gbe-envoy/internal/adapter"
	"github.com/graybear-io/gbe-envoy/internal/cliutil"
	"github.com/graybear-io/gbe-envoy/internal/protocol"
)

var Version = "dev"

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "gbe-adapter -- <command> [args...]",
		Short: "Wrap a command and expose its output as a bus data source",
		Long: `gbe-adapter registers with the router, binds a per-tool data
listener, spawns the given command, and streams its stdout/stderr as
sequenced data frames to the first subscriber.

Flags, environment variables, and config-file keys
  Flag           Env var            Config key
  ──────────────────────────────────────────────
  --router       GBE_ROUTER         router
  --log-level    GBE_LOG_LEVEL      log-level
  --log-format   GBE_LOG_FORMAT     log-format
  --config       (flag only)

Usage
  gbe-adapter --router /tmp/gbe-router.sock -- tail -f app.log`,
		Args:               cobra.MinimumNArgs(1),
		DisableFlagParsing: false,
		SilenceUsage:       true,
		PreRunE:            func(cmd *cobra.Command, _ []string) error { return cliutil.BindViper(cmd, v) },
		RunE: func(_ *cobra.Command, args []string) error {
			return run(v, args)
		},
	}

	f := cmd.Flags()
	f.String("router", "/tmp/gbe-router.sock", "router control socket path")
	cliutil.AddLoggingFlags(cmd)
	cliutil.AddConfigFlag(cmd)

	return cmd
}

func run(v *viper.Viper, args []string) error {
	cliutil.SetupLogging(v)

	if len(args) == 0 {
		return fmt.Errorf("no command given; usage: gbe-adapter --router <addr> -- <command> [args...]")
	}
	command, cmdArgs := args[0], args[1:]

	routerPath := v.GetString("router")
	routerAddr := protocol.NewAddress(routerPath)

	slog.Info("gbe-adapter starting", "version", Version, "router", routerPath, "command", command, "args", cmdArgs)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return adapter.Run(ctx, routerAddr, command, cmdArgs)
}
