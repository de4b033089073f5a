package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Veraticus/buyornot/internal/common"
	"github.com/Veraticus/buyornot/internal/model"
	"github.com/Veraticus/buyornot/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{input: "12", want: "12"},
		{input: "$1,299.99", want: "1299.99"},
		{input: " 0.5 ", want: "0.5"},
		{input: "-3", wantErr: true},
		{input: "twelve", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseAmount(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, common.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), got.String())
		})
	}
}

func runCLI(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.ExecuteContext(context.Background()), out.String())
	return out.String()
}

func TestDecisionCommands(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("database:\n  driver: sqlite\n  path: "+
		filepath.Join(dir, "buyornot.db")+"\nembedding:\n  provider: hashing\nlogging:\n  level: error\n"), 0o600))

	base := []string{"--config", cfgPath, "--user", "tester"}

	out := runCLI(t, append([]string{"decide", "propose", "Camera", "$650", "-c", "Photo"}, base...)...)
	assert.Contains(t, out, "Camera")

	store, err := initStorage(context.Background(), appConfig)
	require.NoError(t, err)
	decisions, err := store.ListDecisions(context.Background(), "tester", service.DecisionFilter{})
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.Len(t, decisions, 1)
	id := decisions[0].ID
	assert.Equal(t, model.StatusPending, decisions[0].Status)

	out = runCLI(t, append([]string{"decide", "skip", id}, base...)...)
	assert.Contains(t, out, "Saved $650.00")

	out = runCLI(t, append([]string{"decide", "buy", id}, base...)...)
	assert.Contains(t, out, "Spent $650.00")
	assert.Contains(t, out, "Saved $0.00")

	out = runCLI(t, append([]string{"expense", "add", "Coffee", "4.50", "--date", "2026-02-01"}, base...)...)
	assert.Contains(t, out, "Added Coffee $4.50")

	out = runCLI(t, append([]string{"ledger", "summary"}, base...)...)
	assert.Contains(t, out, "Spent $654.50")
	assert.Contains(t, out, "Bought:    1")

	out = runCLI(t, append([]string{"preferences", "show"}, base...)...)
	assert.Contains(t, out, "Buy ratio:   100.0%")
	assert.Contains(t, out, "Decisions:   1 (1 bought, 0 skipped)")

	out = runCLI(t, append([]string{"preferences", "rebuild"}, base...)...)
	assert.Contains(t, out, "Buy ratio:   100.0%")

	out = runCLI(t, append([]string{"embeddings", "reindex"}, base...)...)
	assert.Contains(t, out, "No conversations to re-embed.")
}

func TestConfigInit(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("database:\n  path: "+filepath.Join(dir, "db.sqlite")+"\n"), 0o600))
	target := filepath.Join(dir, "out", "config.yaml")

	out := runCLI(t, "config", "init", "--path", target, "--config", cfgPath)
	assert.Contains(t, out, "Wrote "+target)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Contains(t, string(data), "driver: sqlite")
	assert.Contains(t, string(data), "min_similarity: 0.5")
}
