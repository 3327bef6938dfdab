package cli

import (
	"context"
	"strings"

	"github.com/mchmarny/walletscore/pkg/feature"
	"github.com/mchmarny/walletscore/pkg/ingest"
	"github.com/mchmarny/walletscore/pkg/pipeline"
	"github.com/mchmarny/walletscore/pkg/score"
	"github.com/urfave/cli/v3"
)

const (
	walletFlagName = "wallet"
	limitFlagName  = "limit"
)

type walletFeatures struct {
	Features   *feature.Vector   `json:"features" yaml:"features"`
	Assessment *score.Assessment `json:"assessment" yaml:"assessment"`
}

func limitFlag(usage string) cli.Flag {
	return &cli.IntFlag{
		Name:  limitFlagName,
		Usage: usage,
	}
}

func newFeaturesCmd() *cli.Command {
	return &cli.Command{
		Name:  "features",
		Usage: "Print engineered features and the rule breakdown per wallet, without the model",
		Flags: []cli.Flag{
			inputFlag(),
			nowFlag(),
			&cli.StringFlag{
				Name:  walletFlagName,
				Usage: "Only print this wallet",
			},
			limitFlag("Max number of wallets to print (0: all)"),
		},
		Action: cmdFeatures,
	}
}

func cmdFeatures(ctx context.Context, cmd *cli.Command) error {
	c := getConfig(cmd).Config

	input := c.Input
	if cmd.IsSet(inputFlagName) {
		input = cmd.String(inputFlagName)
	}

	now, err := parseNow(cmd.String(nowFlagName))
	if err != nil {
		return err
	}

	path, cleanup, err := resolveInput(ctx, input)
	if err != nil {
		return err
	}
	defer cleanup()

	batch, err := ingest.Load(path)
	if err != nil {
		return err
	}

	vecs, as := pipeline.Explain(batch, now(), c.Rules)
	wallet := strings.TrimSpace(cmd.String(walletFlagName))
	limit := cmd.Int(limitFlagName)

	list := make([]*walletFeatures, 0, len(vecs))
	for i, v := range vecs {
		if wallet != "" && v.Wallet != wallet {
			continue
		}
		list = append(list, &walletFeatures{Features: v, Assessment: as[i]})
		if limit > 0 && len(list) == limit {
			break
		}
	}

	return encode(cmd, list)
}
