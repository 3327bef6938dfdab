package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mchmarny/walletscore/pkg/data"
	"github.com/urfave/cli/v3"
)

const yesFlagName = "yes"

func newResetCmd() *cli.Command {
	return &cli.Command{
		Name:  "reset",
		Usage: "Delete all stored run history and start fresh",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    yesFlagName,
				Aliases: []string{"y"},
				Usage:   "Skip the confirmation prompt",
			},
		},
		Action: cmdReset,
	}
}

func cmdReset(_ context.Context, cmd *cli.Command) error {
	dsn, err := historyPath(cmd)
	if err != nil {
		return err
	}

	w := writer(cmd)
	if !cmd.Bool(yesFlagName) {
		fmt.Fprintf(w, "This will permanently delete all run history in %s\n", data.Redact(dsn))
		fmt.Fprint(w, "Are you sure? [y/N]: ")

		var r io.Reader = os.Stdin
		if cmd.Root().Reader != nil {
			r = cmd.Root().Reader
		}

		answer, err := bufio.NewReader(r).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("reading input: %w", err)
		}

		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Fprintln(w, "Aborted.")
			return nil
		}
	}

	if err := data.Reset(dsn); err != nil {
		return err
	}

	slog.Info("history reset", "db", data.Redact(dsn))
	fmt.Fprintln(w, "Reset complete.")
	return nil
}
