// Command ovbuild drives the viewer packaging pipeline: it assembles
// distribution targets from the source tree, extracts default preferences,
// stamps version metadata and optionally serves the output with live
// rebuilds.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/thediveo/enumflag/v2"

	extconfig "github.com/openviewer/build-plane/config"
	"github.com/openviewer/build-plane/internal/config"
	"github.com/openviewer/build-plane/internal/logging"
	"github.com/openviewer/build-plane/internal/server"
	"github.com/openviewer/build-plane/internal/target"
	"github.com/openviewer/build-plane/internal/version"
)

var (
	configFiles []string
	logLevel    = logging.LevelInfo

	logLevelIds = map[int][]string{
		logging.LevelDebug: {"debug"},
		logging.LevelInfo:  {"info"},
		logging.LevelWarn:  {"warn", "warning"},
		logging.LevelError: {"error"},
	}
)

func main() {
	root := &cobra.Command{
		Use:           "ovbuild",
		Short:         "Multi-target build orchestrator for the viewer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringSliceVarP(&configFiles, "config", "c", nil,
		"build configuration file or directory (repeatable, merged in order)")
	root.PersistentFlags().Var(
		enumflag.New(&logLevel, "level", logLevelIds, enumflag.EnumCaseInsensitive),
		"log-level", "log level: debug, info, warn, error")

	root.AddCommand(buildCmd(), serveCmd(), versionCmd(), schemaCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func buildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build [target...]",
		Short: "Assemble the named targets (all targets if none given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			names := args
			if len(names) == 0 {
				names = target.Names()
			}
			ctx, stop := signalContext()
			defer stop()
			return target.New(cfg, log).BuildAll(ctx, names)
		},
	}
}

func serveCmd() *cobra.Command {
	var targets []string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the build output and rebuild on source changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			builder := target.New(cfg, log)
			return server.New(cfg, builder, log).WithTargets(targets).Run(ctx)
		},
	}
	cmd.Flags().StringSliceVarP(&targets, "target", "t", nil, "targets to build and watch")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version descriptor derived from source control",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			d := version.Resolve(cfg.SourceRoot, cfg.VersionPrefix, newLogger())
			bs, err := json.MarshalIndent(d, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(bs))
			return nil
		},
	}
}

func schemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the build configuration schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := cmd.OutOrStdout().Write(extconfig.Schema())
			return err
		},
	}
}

func newLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{Level: logLevel})
}

// loadConfig merges the configured documents, validates the result against
// the schema and applies OVBUILD_* environment overrides.
func loadConfig() (*config.Root, error) {
	var bs []byte
	if len(configFiles) > 0 {
		var err error
		bs, err = config.Merge(configFiles, false)
		if err != nil {
			return nil, err
		}
		if err := config.Validate(bs); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}

	cfg, err := config.Parse(bs)
	if err != nil {
		return nil, err
	}

	if v, ok := os.LookupEnv("OVBUILD_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("OVBUILD_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if cfg.Defines == nil {
		cfg.Defines = map[string]any{}
	}
	if envBool("OVBUILD_TESTING") {
		cfg.Defines["TESTING"] = true
	}
	if envBool("OVBUILD_SKIP_TRANSPILE") {
		cfg.Defines["SKIP_TRANSPILE"] = true
	}
	return cfg, nil
}

func envBool(name string) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
