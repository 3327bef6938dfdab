package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mchmarny/walletscore/pkg/config"
	"github.com/mchmarny/walletscore/pkg/data"
	"github.com/mchmarny/walletscore/pkg/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const (
	testNow = "2021-09-01T00:00:00Z"

	testDoc = `{"pages": [
  {"content": [
    {"userWallet": "0xc", "timestamp": 1627776000, "amount": "10", "action": "deposit", "assetSymbol": "USDC", "network": "polygon", "protocol": "aave_v2"},
    {"userWallet": "0xc", "timestamp": 1627783200, "amount": "10", "action": "deposit", "assetSymbol": "USDC", "network": "polygon", "protocol": "aave_v2"},
    {"userWallet": "0xc", "timestamp": 1627866000, "amount": "10", "action": "deposit", "assetSymbol": "USDC", "network": "polygon", "protocol": "aave_v2"},
    {"userWallet": "0xc", "timestamp": 1627869600, "amount": "10", "action": "repay", "assetSymbol": "USDC", "network": "polygon", "protocol": "aave_v2"},
    {"userWallet": "0xa", "timestamp": {"$date": "2021-08-01T00:00:00Z"}, "amount": "500", "action": "deposit", "assetSymbol": "WETH"},
    {"userWallet": "0xa", "timestamp": 1627779600, "amount": "900", "action": "borrow", "assetSymbol": "USDC"},
    {"userWallet": "0xa", "timestamp": 1627783200, "amount": "900", "action": "borrow", "assetSymbol": "DAI"}
  ]},
  {"content": [
    {"userWallet": "0xb", "timestamp": 1625097600, "amount": "1", "action": "deposit", "assetSymbol": "WMATIC"},
    {"userWallet": "0xb", "timestamp": 1627776000, "amount": "1", "action": "liquidationcall", "assetSymbol": "WETH"},
    {"userWallet": "0xb", "timestamp": "not-a-date", "amount": "abc", "action": "borrow", "assetSymbol": "WETH"},
    {"userWallet": "0xa", "timestamp": 1627786800, "amount": "100", "action": "repay", "assetSymbol": "USDC"}
  ]}
]}`
)

type testEnv struct {
	dir    string
	input  string
	output string
	db     string
	config string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	dir := t.TempDir()
	e := &testEnv{
		dir:    dir,
		input:  filepath.Join(dir, pipeline.DefaultInput),
		output: filepath.Join(dir, pipeline.DefaultOutput),
		db:     filepath.Join(dir, data.DataFileName),
		config: filepath.Join(dir, config.FileName),
	}
	require.NoError(t, os.WriteFile(e.input, []byte(testDoc), 0600))
	return e
}

func (e *testEnv) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer

	app := newApp()
	app.Writer = &out
	app.ErrWriter = io.Discard
	app.Reader = strings.NewReader(stdin)

	err := app.Run(context.Background(), append([]string{appName, "--config", e.config}, args...))
	return out.String(), err
}

func (e *testEnv) score(t *testing.T, args ...string) *pipeline.Result {
	t.Helper()
	args = append([]string{"--db", e.db, "score", "-i", e.input, "-o", e.output, "--now", testNow, "--trees", "10"}, args...)
	out, err := e.run(t, "", args...)
	require.NoError(t, err)

	res := &pipeline.Result{}
	require.NoError(t, json.Unmarshal([]byte(out), res))
	return res
}

func TestScoreCommand(t *testing.T) {
	e := newTestEnv(t)
	metricsFile := filepath.Join(e.dir, "walletscore.prom")

	res := e.score(t, "--metrics-file", metricsFile)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, e.input, res.Input)
	assert.Equal(t, 3, res.Wallets)
	assert.Equal(t, 10, res.Trees)
	assert.Equal(t, int64(42), res.Seed)

	b, err := os.ReadFile(e.output)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 3)

	wallets := make([]string, 0, len(lines))
	for _, l := range lines {
		var r pipeline.Record
		require.NoError(t, json.Unmarshal([]byte(l), &r))
		assert.GreaterOrEqual(t, r.CreditScore, 0.0)
		assert.LessOrEqual(t, r.CreditScore, 1000.0)
		wallets = append(wallets, r.Wallet)
	}
	assert.Equal(t, []string{"0xa", "0xb", "0xc"}, wallets)

	m, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(m), "walletscore_runs_total")
	assert.Contains(t, string(m), "walletscore_transactions_total")
}

func TestScoreCommand_SameInputSameOutput(t *testing.T) {
	e := newTestEnv(t)

	e.score(t, "--seed", "7")
	first, err := os.ReadFile(e.output)
	require.NoError(t, err)

	e.score(t, "--seed", "7")
	second, err := os.ReadFile(e.output)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestScoreCommand_Errors(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		name string
		args []string
	}{
		{"missing input", []string{"score", "-i", filepath.Join(e.dir, "none.json"), "-o", e.output}},
		{"bad now", []string{"score", "-i", e.input, "-o", e.output, "--now", "yesterday"}},
		{"no trees", []string{"score", "-i", e.input, "-o", e.output, "--trees", "0"}},
		{"bad format", []string{"--format", "xml", "score", "-i", e.input, "-o", e.output}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.run(t, "", tt.args...)
			assert.Error(t, err)
			assert.NoFileExists(t, e.output)
		})
	}
}

func TestScoreCommand_WithoutHistory(t *testing.T) {
	e := newTestEnv(t)

	_, err := e.run(t, "", "score", "-i", e.input, "-o", e.output, "--now", testNow, "--trees", "5", "--no-history")
	require.NoError(t, err)
	assert.FileExists(t, e.output)
	assert.NoFileExists(t, e.db)

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(home, "."+appName, data.DataFileName))
}

func TestScoreCommand_DefaultHistory(t *testing.T) {
	e := newTestEnv(t)

	_, err := e.run(t, "", "score", "-i", e.input, "-o", e.output, "--now", testNow, "--trees", "5")
	require.NoError(t, err)

	out, err := e.run(t, "", "query", "runs")
	require.NoError(t, err)
	var runs []*data.Run
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, e.input, runs[0].Input)
}

func TestScoreCommand_HistoryUnavailable(t *testing.T) {
	e := newTestEnv(t)
	db := filepath.Join(e.dir, "missing", "nested", data.DataFileName)

	_, err := e.run(t, "", "--db", db, "score", "-i", e.input, "-o", e.output, "--now", testNow, "--trees", "5")
	require.Error(t, err)
	assert.NoFileExists(t, e.output)
}

func TestFeaturesCommand(t *testing.T) {
	e := newTestEnv(t)

	out, err := e.run(t, "", "features", "-i", e.input, "--now", testNow, "--wallet", "0xb")
	require.NoError(t, err)

	var list []map[string]map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "0xb", list[0]["features"]["wallet"])
	assert.Equal(t, 350.0, list[0]["assessment"]["score"])

	out, err = e.run(t, "", "features", "-i", e.input, "--now", testNow, "--limit", "2")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	assert.Len(t, list, 2)
	assert.NoFileExists(t, e.output)
}

func TestQueryCommands(t *testing.T) {
	e := newTestEnv(t)
	res := e.score(t)

	out, err := e.run(t, "", "--db", e.db, "query", "runs")
	require.NoError(t, err)
	var runs []*data.Run
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, res.RunID, runs[0].ID)
	assert.Equal(t, 3, runs[0].Wallets)

	out, err = e.run(t, "", "--db", e.db, "query", "scores", "--limit", "2")
	require.NoError(t, err)
	var scores []*data.WalletScore
	require.NoError(t, json.Unmarshal([]byte(out), &scores))
	require.Len(t, scores, 2)
	assert.GreaterOrEqual(t, scores[0].CreditScore, scores[1].CreditScore)
	assert.Equal(t, res.RunID, scores[0].RunID)

	out, err = e.run(t, "", "--db", e.db, "query", "wallet", "0xb")
	require.NoError(t, err)
	var history []*data.WalletHistory
	require.NoError(t, json.Unmarshal([]byte(out), &history))
	require.Len(t, history, 1)
	assert.Equal(t, "0xb", history[0].Wallet)
	assert.Equal(t, 350.0, history[0].InitialScore)
	assert.Equal(t, 1, history[0].LiquidationCount)

	_, err = e.run(t, "", "--db", e.db, "query", "wallet")
	assert.Error(t, err)
}

func TestQueryScores_NoRuns(t *testing.T) {
	e := newTestEnv(t)

	_, err := e.run(t, "", "--db", e.db, "query", "scores")
	assert.Error(t, err)
}

func TestConfigCommands(t *testing.T) {
	e := newTestEnv(t)

	_, err := e.run(t, "", "config", "init")
	require.NoError(t, err)
	assert.FileExists(t, e.config)

	c, err := config.Load(e.config)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), c)

	_, err = e.run(t, "", "config", "init")
	assert.Error(t, err)

	_, err = e.run(t, "", "config", "init", "--force")
	assert.NoError(t, err)

	out, err := e.run(t, "", "--format", "yaml", "config", "show")
	require.NoError(t, err)
	shown := &config.Config{}
	require.NoError(t, yaml.Unmarshal([]byte(out), shown))
	assert.Equal(t, config.Default(), shown)
}

func TestResetCommand(t *testing.T) {
	e := newTestEnv(t)
	e.score(t)

	out, err := e.run(t, "n\n", "--db", e.db, "reset")
	require.NoError(t, err)
	assert.Contains(t, out, "Aborted.")

	out, err = e.run(t, "", "--db", e.db, "query", "runs")
	require.NoError(t, err)
	var runs []*data.Run
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	assert.Len(t, runs, 1)

	out, err = e.run(t, "", "--db", e.db, "reset", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Reset complete.")

	out, err = e.run(t, "", "--db", e.db, "query", "runs")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	assert.Empty(t, runs)
}

func TestHistoryPath_DefaultsToHome(t *testing.T) {
	e := newTestEnv(t)

	out, err := e.run(t, "", "query", "runs")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(home, "."+appName, data.DataFileName))
}
