package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"DeskCast/internal/domain/models"
	"DeskCast/internal/usecase"
)

var (
	okColor   = color.New(color.FgHiGreen, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
	warnColor = color.New(color.FgYellow)
	dimColor  = color.New(color.FgHiBlack)
)

func printRunReport(w io.Writer, r models.RunReport) {
	fmt.Fprintf(w, "run %s\n", r.RunID)
	if r.Error != "" {
		failColor.Fprintf(w, "  error: %s\n", r.Error)
	}
	if r.OutputPath != "" {
		fmt.Fprintf(w, "  output:  %s", r.OutputPath)
		if r.UsedFallback {
			warnColor.Fprint(w, " (fallback, primary was locked)")
		}
		fmt.Fprintln(w)
	}
	if r.MetricsPath != "" {
		fmt.Fprintf(w, "  metrics: %s\n", r.MetricsPath)
	}
	fmt.Fprintf(w, "  rows: %d  modeled: %d  skipped: %d  failed: %d\n", r.Rows, r.Modeled, r.Skipped, r.Failed)
	if r.Modeled == 0 {
		return
	}

	fmt.Fprintf(w, "  mean MAPE: %.2f%% (target %.2f%%) ", r.MeanMAPE, r.AccuracyTarget)
	if r.TargetMet {
		okColor.Fprintln(w, "PASS")
	} else {
		failColor.Fprintln(w, "FAIL")
	}
	for _, o := range r.Outcomes {
		if o.Kind == models.OutcomeModeled {
			continue
		}
		dimColor.Fprintf(w, "  %-8s %s: %s\n", o.Kind, o.Group, o.Reason)
	}
}

func printETLReport(w io.Writer, r usecase.ETLReport) {
	fmt.Fprintf(w, "etl since %s: %d tickets -> %d facts over %d groups\n",
		r.Since.Format(models.DateLayout), r.Tickets, r.Facts, r.Groups)
}

func printRuns(w io.Writer, runs []models.RunReport) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return
	}
	for _, r := range runs {
		status := okColor.Sprint("ok")
		switch {
		case r.Error != "":
			status = failColor.Sprint("error")
		case r.UsedFallback:
			status = warnColor.Sprint("fallback")
		}
		fmt.Fprintf(w, "%s  %s  %-8s modeled=%d skipped=%d failed=%d mape=%.2f\n",
			r.StartedAt.Format("2006-01-02 15:04:05"), r.RunID, status, r.Modeled, r.Skipped, r.Failed, r.MeanMAPE)
	}
}
