package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v3"
)

const (
	scheduleFlagName = "schedule"
	runNowFlagName   = "run-now"
)

// cronLogger routes cron's logs to slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}

func newWatchCmd() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Rerun the pipeline on a cron schedule until interrupted",
		Flags: append(runFlags(),
			&cli.StringFlag{
				Name:    scheduleFlagName,
				Usage:   "Cron expression or descriptor such as @hourly (default: config schedule)",
				Sources: envVars("SCHEDULE"),
			},
			&cli.BoolFlag{
				Name:  runNowFlagName,
				Usage: "Run once immediately before waiting for the schedule",
			},
		),
		Action: cmdWatch,
	}
}

func cmdWatch(ctx context.Context, cmd *cli.Command) error {
	cfg := getConfig(cmd)
	c := applyRunFlags(cmd, cfg.Config)
	if cmd.IsSet(scheduleFlagName) {
		c.Schedule = cmd.String(scheduleFlagName)
	}
	if c.Schedule == "" {
		return fmt.Errorf("schedule required, set --%s or schedule in config", scheduleFlagName)
	}

	dsn, err := runHistoryPath(cmd, c)
	if err != nil {
		return err
	}

	job := func() {
		res, err := runAndRecord(ctx, c, dsn, time.Now, cfg.Metrics)
		if err != nil {
			slog.Error("scheduled run failed", "error", err)
			return
		}
		slog.Info("scheduled run complete", "run", res.RunID, "wallets", res.Wallets)
	}

	logger := cronLogger{log: slog.Default()}
	sched := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := sched.AddFunc(c.Schedule, job); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", c.Schedule, err)
	}

	if cmd.Bool(runNowFlagName) {
		job()
	}

	sched.Start()
	slog.Info("watching", "schedule", c.Schedule, "input", c.Input, "output", c.Output)

	<-ctx.Done()
	<-sched.Stop().Done()
	slog.Info("watch stopped")
	return nil
}
