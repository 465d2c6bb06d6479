// Package cliutil holds the cobra/viper wiring shared by the three gbe
// binaries: config-file discovery, GBE_* env var binding, and the common
// logging flags.
package cliutil

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/graybear-io/gbe-envoy/internal/logging"
)

// ConfigName is the base name (without extension) of the TOML config file
// every gbe binary shares.
const ConfigName = "gbe"

// BindViper wires a command's flags into v with the standard config file
// search order and GBE_ env var prefix.
//
// Precedence (lowest → highest): defaults → config file → GBE_* env vars → flags
func BindViper(cmd *cobra.Command, v *viper.Viper) error {
	configFlag, _ := cmd.Flags().GetString("config")
	if configFlag != "" {
		v.SetConfigFile(configFlag)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("toml")
		for _, p := range configPaths() {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("config: %w", err)
		}
	}

	v.SetEnvPrefix("GBE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}
	return nil
}

// configPaths returns the ordered list of directories to search for
// gbe.toml. Viper searches them in this order and reads only the first
// gbe.toml it finds.
func configPaths() []string {
	var paths []string

	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, fmt.Sprintf(`%s\gbe`, pd))
		}
		if appdata := os.Getenv("APPDATA"); appdata != "" {
			paths = append(paths, fmt.Sprintf(`%s\gbe`, appdata))
		}
		return paths
	}

	paths = append(paths, "/etc/gbe")
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, fmt.Sprintf("%s/.config/gbe", home))
	}
	return paths
}

// AddLoggingFlags adds the standard logging flags to a command.
func AddLoggingFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("no-background", false, "run interactively: tinter logs + debug level")
	cmd.Flags().String("log-format", "auto", "log format: auto|text|json")
	cmd.Flags().String("log-level", "", "log level: debug|info|warn|error (default: info for service, debug for interactive)")
}

// AddConfigFlag adds the --config flag to a command.
func AddConfigFlag(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "path to config file (overrides auto-discovery)")
}

// SetupLogging reads logging flags from v and configures the global slog
// logger. Call once per process after BindViper.
func SetupLogging(v *viper.Viper) {
	interactive := v.GetBool("no-background") || logging.IsTTY(os.Stderr)
	format := logging.ParseFormat(v.GetString("log-format"))
	if interactive && format == logging.FormatAuto {
		format = logging.FormatText
	}
	levelStr := v.GetString("log-level")
	level := logging.ParseLevel(levelStr)
	if levelStr == "" {
		if interactive {
			level = logging.ParseLevel("debug")
		} else {
			level = logging.ParseLevel("info")
		}
	}
	logging.Setup(format, level)
}
