// gbe-router: the control-plane broker for the tool bus.
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

	"github.com/graybear-io/gbe-envoy/internal/broker"
	"github.com/graybear-io/gbe-envoy/internal/cliutil"
	"github.com/graybear-io/gbe-envoy/internal/protocol"
	"github.com/graybear-io/gbe-envoy/internal/sockutil"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
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
		Use:   "gbe-router",
		Short: "Run the GBE control-plane broker",
		Long: `gbe-router assigns tool identities, tracks the registry of live
producers and consumers, routes subscription requests, and lifecycles a
fan-out relay per producer.

Flags, environment variables, and config-file keys
  Flag           Env var            Config key
  ──────────────────────────────────────────────
  --socket       GBE_SOCKET         socket
  --proxy-bin    GBE_PROXY_BIN      proxy-bin
  --log-level    GBE_LOG_LEVEL      log-level
  --log-format   GBE_LOG_FORMAT     log-format
  --config       (flag only)

Config file search order (first found wins)
  /etc/gbe/gbe.toml
  $HOME/.config/gbe/gbe.toml
A path supplied via --config replaces this search.

Precedence: defaults → config file → GBE_* env vars → CLI flags`,
		Version:      Version,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		PreRunE:      func(cmd *cobra.Command, _ []string) error { return cliutil.BindViper(cmd, v) },
		RunE:         func(_ *cobra.Command, _ []string) error { return run(v) },
	}

	f := cmd.Flags()
	f.String("socket", "/tmp/gbe-router.sock", "control-plane listen address (unix socket path)")
	f.String("proxy-bin", "", "path to the gbe-proxy binary (default: $GBE_PROXY_BIN, sibling of this binary, or $PATH)")
	cliutil.AddLoggingFlags(cmd)
	cliutil.AddConfigFlag(cmd)

	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("gbe-router %s\n", Version)
		},
	}
}

func run(v *viper.Viper) error {
	cliutil.SetupLogging(v)

	socketPath := v.GetString("socket")
	proxyPath := v.GetString("proxy-bin")
	if proxyPath == "" {
		resolved, err := broker.ResolveProxyBinary()
		if err != nil {
			slog.Warn("gbe-proxy binary not resolved yet; relay spawns will fall back to direct addresses", "err", err)
		}
		proxyPath = resolved
	}

	ln, err := sockutil.Listen(socketPath)
	if err != nil {
		return err
	}
	defer sockutil.Cleanup(ln, socketPath)

	slog.Info("gbe-router starting", "version", Version, "socket", socketPath, "proxy_bin", proxyPath)

	routerAddr := protocol.NewAddress(socketPath)
	srv := broker.NewServer(proxyPath, routerAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = srv.Serve(ctx, ln)
	if ctx.Err() != nil {
		slog.Info("gbe-router shutting down")
		return nil
	}
	return err
}
