package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/mchmarny/walletscore/pkg/config"
	"github.com/urfave/cli/v3"
)

const forceFlagName = "force"

func newConfigCmd() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Inspect or create the config file",
		Commands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Print the effective configuration",
				Action: cmdConfigShow,
			},
			{
				Name:  "init",
				Usage: "Write the default configuration to the --config path",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  forceFlagName,
						Usage: "Overwrite an existing file",
					},
				},
				Action: cmdConfigInit,
			},
		},
	}
}

func cmdConfigShow(_ context.Context, cmd *cli.Command) error {
	return encode(cmd, getConfig(cmd).Config)
}

func cmdConfigInit(_ context.Context, cmd *cli.Command) error {
	path := getConfig(cmd).ConfigPath
	if path == "" {
		return fmt.Errorf("config path required, set --%s", configFlagName)
	}

	if _, err := os.Stat(path); err == nil && !cmd.Bool(forceFlagName) {
		return fmt.Errorf("config file %s already exists, use --%s to overwrite", path, forceFlagName)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("error checking config file %s: %w", path, err)
	}

	if err := config.Save(path, config.Default()); err != nil {
		return err
	}

	slog.Info("config written", "path", path)
	return nil
}
