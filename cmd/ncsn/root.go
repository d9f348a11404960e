package main

import (
	"io"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/born-ml/ncsn/internal/config"
)

const version = "v0.1.0"

func newRootCmd(logOut io.Writer) *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:           "ncsn",
		Short:         "Sample images from a noise-conditional score network",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(viper.New(), cmd.Flags(), configFile)
			if err != nil {
				cmd.PrintErrln("ncsn:", err)
				return err
			}
			logger, err := newLogger(logOut, cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				cmd.PrintErrln("ncsn:", err)
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, cfg, logger); err != nil {
				logger.Error("run failed", "err", err)
				return err
			}
			return nil
		},
	}

	cmd.SetErr(logOut)
	cmd.Flags().StringVar(&configFile, "config", "", "YAML, JSON or TOML config file")
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, errors.Wrapf(config.ErrInvalid, "log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, errors.Wrapf(config.ErrInvalid, "log format %q", format)
	}
}
