package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/mchmarny/walletscore/pkg/data"
	"github.com/urfave/cli/v3"
)

const (
	runFlagName = "run"
	ascFlagName = "asc"
)

func newQueryCmd() *cli.Command {
	return &cli.Command{
		Name:  "query",
		Usage: "Read back stored run history",
		Commands: []*cli.Command{
			{
				Name:   "runs",
				Usage:  "List runs, newest first",
				Flags:  []cli.Flag{limitFlag("Limits number of result returned")},
				Action: cmdQueryRuns,
			},
			{
				Name:  "scores",
				Usage: "List wallet scores of a run, highest first",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  runFlagName,
						Usage: "Run ID (default: latest run)",
					},
					&cli.BoolFlag{
						Name:  ascFlagName,
						Usage: "Lowest scores first",
					},
					limitFlag("Limits number of result returned"),
				},
				Action: cmdQueryScores,
			},
			{
				Name:      "wallet",
				Usage:     "Score history of a single wallet across runs",
				ArgsUsage: "<address>",
				Flags:     []cli.Flag{limitFlag("Limits number of result returned")},
				Action:    cmdQueryWallet,
			},
		},
	}
}

func withHistory(cmd *cli.Command, fn func(db *sqlx.DB) (any, error)) error {
	dsn, err := historyPath(cmd)
	if err != nil {
		return err
	}

	db, err := data.Open(dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	v, err := fn(db)
	if err != nil {
		return err
	}
	return encode(cmd, v)
}

func cmdQueryRuns(_ context.Context, cmd *cli.Command) error {
	return withHistory(cmd, func(db *sqlx.DB) (any, error) {
		return data.ListRuns(db, cmd.Int(limitFlagName))
	})
}

func cmdQueryScores(_ context.Context, cmd *cli.Command) error {
	return withHistory(cmd, func(db *sqlx.DB) (any, error) {
		id := cmd.String(runFlagName)
		if id == "" {
			latest, err := data.LatestRunID(db)
			if err != nil {
				if errors.Is(err, data.ErrNotFound) {
					return nil, errors.New("no runs recorded yet")
				}
				return nil, err
			}
			id = latest
		}
		return data.ListScores(db, id, cmd.Int(limitFlagName), cmd.Bool(ascFlagName))
	})
}

func cmdQueryWallet(_ context.Context, cmd *cli.Command) error {
	wallet := strings.TrimSpace(cmd.Args().First())
	if wallet == "" {
		return fmt.Errorf("wallet address required, usage: %s query wallet <address>", appName)
	}

	return withHistory(cmd, func(db *sqlx.DB) (any, error) {
		return data.GetWalletHistory(db, wallet, cmd.Int(limitFlagName))
	})
}
