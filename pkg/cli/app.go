package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mchmarny/walletscore/pkg/config"
	"github.com/mchmarny/walletscore/pkg/data"
	"github.com/mchmarny/walletscore/pkg/logging"
	"github.com/mchmarny/walletscore/pkg/metrics"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

const (
	appName      = "walletscore"
	appConfigKey = "app-config"
	envPrefix    = "WALLETSCORE_"

	formatJSON = "json"
	formatYAML = "yaml"

	debugFlagName     = "debug"
	configFlagName    = "config"
	formatFlagName    = "format"
	logFormatFlagName = "log-format"
	dbFlagName        = "db"
)

var (
	version = "v0.0.1-default"
	commit  = ""
	date    = ""
)

// Execute creates and runs the CLI application.
func Execute() {
	logging.SetDefaultLogger("info", logging.FormatCLI)

	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		slog.Error("fatal error", "error", err)
		stop()
		os.Exit(1)
	}
}

type appConfig struct {
	Config     *config.Config
	ConfigPath string
	Format     string
	Metrics    *metrics.Recorder
}

func getConfig(cmd *cli.Command) *appConfig {
	if cfg, ok := cmd.Root().Metadata[appConfigKey].(*appConfig); ok {
		return cfg
	}
	return &appConfig{
		Config: config.Default(),
		Format: formatJSON,
	}
}

func envVars(name string) cli.ValueSourceChain {
	return cli.EnvVars(envPrefix + name)
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:                  appName,
		Version:               fmt.Sprintf("%s (%s - %s)", version, commit, date),
		Usage:                 "Credit scores for DeFi wallets from their transaction history",
		EnableShellCompletion: true,
		HideHelpCommand:       true,
		Metadata:              map[string]any{},
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    debugFlagName,
				Usage:   "Prints verbose logs",
				Sources: envVars("DEBUG"),
			},
			&cli.StringFlag{
				Name:    configFlagName,
				Aliases: []string{"c"},
				Usage:   "Path to the YAML config file",
				Value:   config.FileName,
				Sources: envVars("CONFIG"),
			},
			&cli.StringFlag{
				Name:    formatFlagName,
				Usage:   "Output format [json, yaml]",
				Value:   formatJSON,
				Sources: envVars("FORMAT"),
			},
			&cli.StringFlag{
				Name:    logFormatFlagName,
				Usage:   fmt.Sprintf("Log format %v", logging.Formats),
				Sources: envVars("LOG_FORMAT"),
			},
			&cli.StringFlag{
				Name:    dbFlagName,
				Usage:   "Run history database, SQLite file path or postgres:// URL",
				Sources: envVars("DB"),
			},
		},
		Commands: []*cli.Command{
			newScoreCmd(),
			newFeaturesCmd(),
			newQueryCmd(),
			newServeCmd(),
			newWatchCmd(),
			newResetCmd(),
			newConfigCmd(),
		},
		Before: before,
	}
}

func before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	debug := cmd.Bool(debugFlagName)
	if debug {
		logging.SetDefaultLogger("debug", logging.FormatCLI)
	}

	path := cmd.String(configFlagName)
	c, err := config.Load(path)
	if err != nil {
		return ctx, err
	}

	level := c.Logging.Level
	if debug {
		level = "debug"
	}
	logFormat := c.Logging.Format
	if cmd.IsSet(logFormatFlagName) {
		logFormat = cmd.String(logFormatFlagName)
	}
	logging.SetDefaultLogger(level, logFormat)

	format := cmd.String(formatFlagName)
	switch format {
	case formatJSON:
	case formatYAML, "yml":
		format = formatYAML
	default:
		return ctx, fmt.Errorf("unsupported output format %q, expected json or yaml", format)
	}

	cmd.Metadata[appConfigKey] = &appConfig{
		Config:     c,
		ConfigPath: path,
		Format:     format,
		Metrics:    metrics.NewRecorder(),
	}
	return ctx, nil
}

// historyPath resolves the history database: flag, then config, then the
// default file in the user's home dir.
func historyPath(cmd *cli.Command) (string, error) {
	if p := cmd.String(dbFlagName); p != "" {
		return p, nil
	}
	if p := getConfig(cmd).Config.Database.Path; p != "" {
		return p, nil
	}

	dir, _, err := config.GetOrCreateHomeDir(appName)
	if err != nil {
		return "", fmt.Errorf("error resolving history database: %w", err)
	}
	return filepath.Join(dir, data.DataFileName), nil
}

func writer(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func encode(cmd *cli.Command, v any) error {
	w := writer(cmd)
	if getConfig(cmd).Format == formatYAML {
		e := yaml.NewEncoder(w)
		defer e.Close()
		return e.Encode(v)
	}
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	return e.Encode(v)
}
