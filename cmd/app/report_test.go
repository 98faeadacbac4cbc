package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"DeskCast/internal/domain/models"
	"DeskCast/internal/usecase"
)

func init() { color.NoColor = true }

func TestPrintRunReport(t *testing.T) {
	var buf bytes.Buffer
	printRunReport(&buf, models.RunReport{
		RunID:          "r1",
		OutputPath:     "out_v2.csv",
		UsedFallback:   true,
		Rows:           10,
		Modeled:        1,
		Skipped:        1,
		MeanMAPE:       12.345,
		AccuracyTarget: 15,
		TargetMet:      true,
		Outcomes: []models.GroupOutcome{
			{Group: models.GroupKey{Category: "NETWORK", EntityID: 1}, Kind: models.OutcomeModeled},
			{Group: models.GroupKey{Category: "PRINTER", EntityID: 2}, Kind: models.OutcomeSkipped, Reason: "cold start"},
		},
	})
	out := buf.String()
	assert.Contains(t, out, "run r1")
	assert.Contains(t, out, "(fallback, primary was locked)")
	assert.Contains(t, out, "mean MAPE: 12.35% (target 15.00%) PASS")
	assert.Contains(t, out, "PRINTER/2: cold start")
	assert.NotContains(t, out, "NETWORK/1")
}

func TestPrintRunReportWithoutModeledGroups(t *testing.T) {
	var buf bytes.Buffer
	printRunReport(&buf, models.RunReport{RunID: "r2", Error: "no groups modeled"})
	assert.Contains(t, buf.String(), "error: no groups modeled")
	assert.NotContains(t, buf.String(), "mean MAPE")
}

func TestPrintRuns(t *testing.T) {
	var buf bytes.Buffer
	printRuns(&buf, nil)
	assert.Equal(t, "no runs recorded\n", buf.String())

	buf.Reset()
	at := time.Date(2025, 3, 1, 3, 0, 0, 0, time.UTC)
	printRuns(&buf, []models.RunReport{
		{RunID: "a", StartedAt: at, Modeled: 2},
		{RunID: "b", StartedAt: at, Error: "boom"},
	})
	assert.Contains(t, buf.String(), "2025-03-01 03:00:00  a  ok")
	assert.Contains(t, buf.String(), "b  error")
}

func TestPrintETLReport(t *testing.T) {
	var buf bytes.Buffer
	printETLReport(&buf, usecase.ETLReport{Since: time.Date(2024, 7, 5, 0, 0, 0, 0, time.UTC), Tickets: 9, Facts: 4, Groups: 2})
	assert.Equal(t, "etl since 2024-07-05: 9 tickets -> 4 facts over 2 groups\n", buf.String())
}

func TestRootRegistersSubcommands(t *testing.T) {
	root := rootCmd()
	for _, name := range []string{"run", "etl", "serve", "schedule", "runs"} {
		cmd, _, err := root.Find([]string{name})
		if assert.NoError(t, err, name) {
			assert.Equal(t, name, cmd.Name())
		}
	}
}
