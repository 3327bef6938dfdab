package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mchmarny/walletscore/pkg/config"
	"github.com/mchmarny/walletscore/pkg/data"
	"github.com/mchmarny/walletscore/pkg/ingest"
	"github.com/mchmarny/walletscore/pkg/metrics"
	"github.com/mchmarny/walletscore/pkg/pipeline"
	"github.com/urfave/cli/v3"
)

const (
	inputFlagName       = "input"
	outputFlagName      = "output"
	nowFlagName         = "now"
	seedFlagName        = "seed"
	treesFlagName       = "trees"
	workersFlagName     = "workers"
	metricsFileFlagName = "metrics-file"
	noHistoryFlagName   = "no-history"
)

func inputFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    inputFlagName,
		Aliases: []string{"i"},
		Usage:   "Transactions document, local path or http(s) URL",
		Value:   pipeline.DefaultInput,
		Sources: envVars("INPUT"),
	}
}

func nowFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  nowFlagName,
		Usage: "Evaluation time for recency (RFC3339, default: current time)",
	}
}

// runFlags are shared by the commands that execute the full pipeline.
func runFlags() []cli.Flag {
	return []cli.Flag{
		inputFlag(),
		&cli.StringFlag{
			Name:    outputFlagName,
			Aliases: []string{"o"},
			Usage:   "Scores file, newline-delimited JSON (- for stdout)",
			Value:   pipeline.DefaultOutput,
			Sources: envVars("OUTPUT"),
		},
		&cli.Int64Flag{
			Name:    seedFlagName,
			Usage:   "Random seed for the forest",
			Sources: envVars("SEED"),
		},
		&cli.IntFlag{
			Name:  treesFlagName,
			Usage: "Number of trees in the forest",
		},
		&cli.IntFlag{
			Name:  workersFlagName,
			Usage: "Trees fitted in parallel (0: number of CPUs)",
		},
		&cli.BoolFlag{
			Name:  noHistoryFlagName,
			Usage: "Do not save the run to the history database",
		},
		&cli.StringFlag{
			Name:    metricsFileFlagName,
			Usage:   "Write run metrics to this Prometheus textfile",
			Sources: envVars("METRICS_FILE"),
		},
	}
}

func newScoreCmd() *cli.Command {
	return &cli.Command{
		Name:   "score",
		Usage:  "Score every wallet in the input and write the scores file",
		Flags:  append(runFlags(), nowFlag()),
		Action: cmdScore,
	}
}

func cmdScore(ctx context.Context, cmd *cli.Command) error {
	cfg := getConfig(cmd)
	c := applyRunFlags(cmd, cfg.Config)

	now, err := parseNow(cmd.String(nowFlagName))
	if err != nil {
		return err
	}

	dsn, err := runHistoryPath(cmd, c)
	if err != nil {
		return err
	}

	res, err := runAndRecord(ctx, c, dsn, now, cfg.Metrics)
	if err != nil {
		return err
	}

	if c.Output == pipeline.StdOut {
		return nil
	}
	return encode(cmd, res)
}

// applyRunFlags returns a copy of c with the explicitly set flags applied.
func applyRunFlags(cmd *cli.Command, c *config.Config) *config.Config {
	out := *c
	if cmd.IsSet(inputFlagName) {
		out.Input = cmd.String(inputFlagName)
	}
	if cmd.IsSet(outputFlagName) {
		out.Output = cmd.String(outputFlagName)
	}
	if cmd.IsSet(seedFlagName) {
		out.Model.Seed = cmd.Int64(seedFlagName)
	}
	if cmd.IsSet(treesFlagName) {
		out.Model.Trees = cmd.Int(treesFlagName)
	}
	if cmd.IsSet(workersFlagName) {
		out.Model.Workers = cmd.Int(workersFlagName)
	}
	if cmd.Bool(noHistoryFlagName) {
		out.Database.Disabled = true
	}
	if cmd.IsSet(metricsFileFlagName) {
		out.Metrics.File = cmd.String(metricsFileFlagName)
	}
	return &out
}

func parseNow(v string) (func() time.Time, error) {
	if v == "" {
		return time.Now, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s value %q, expected RFC3339: %w", nowFlagName, v, err)
	}
	return func() time.Time { return t }, nil
}

// resolveInput downloads remote inputs into a temp dir. The returned cleanup
// removes it.
func resolveInput(ctx context.Context, input string) (string, func(), error) {
	if !ingest.IsRemote(input) {
		return input, func() {}, nil
	}

	dir, err := os.MkdirTemp("", appName)
	if err != nil {
		return "", nil, fmt.Errorf("error creating download dir: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			slog.Debug("error removing download dir", "path", dir, "error", err)
		}
	}

	path, err := ingest.Fetch(ctx, input, dir)
	if err != nil {
		cleanup()
		return "", nil, err
	}
	return path, cleanup, nil
}

// runHistoryPath resolves where a pipeline run is saved, empty when history
// is disabled.
func runHistoryPath(cmd *cli.Command, c *config.Config) (string, error) {
	if c.Database.Disabled {
		return "", nil
	}
	return historyPath(cmd)
}

// runAndRecord executes one pipeline run and exports metrics when a textfile
// is set. When dsn is set the history database is opened before the pipeline
// starts and the run is saved before the output file is written, so a history
// failure leaves no output behind.
func runAndRecord(ctx context.Context, c *config.Config, dsn string, now func() time.Time, rec *metrics.Recorder) (*pipeline.Result, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	defer func() {
		if werr := rec.WriteTextfile(c.Metrics.File); werr != nil {
			slog.Error("error exporting metrics", "error", werr)
		}
	}()

	var db *sqlx.DB
	if dsn != "" {
		var err error
		if db, err = data.Open(dsn); err != nil {
			return nil, fmt.Errorf("error opening history database %s: %w", data.Redact(dsn), err)
		}
		defer db.Close()
	}

	input, cleanup, err := resolveInput(ctx, c.Input)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	res, err := pipeline.Run(ctx, pipeline.Options{
		Input:   input,
		Output:  c.Output,
		Now:     now,
		Rules:   c.Rules,
		Model:   c.Model,
		Scale:   c.Scale,
		Metrics: rec,
		Commit: func(res *pipeline.Result) error {
			res.Input = c.Input
			if db == nil {
				return nil
			}
			return saveHistory(db, c.Database.Keep, res)
		},
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func saveHistory(db *sqlx.DB, keep int, res *pipeline.Result) error {
	run, scores := res.History()
	if err := data.SaveRun(db, run, scores); err != nil {
		return err
	}

	if keep > 0 {
		n, err := data.PruneRuns(db, keep)
		if err != nil {
			return err
		}
		if n > 0 {
			slog.Debug("pruned run history", "removed", n, "keep", keep)
		}
	}

	slog.Info("run saved", "run", run.ID, "wallets", len(scores))
	return nil
}
