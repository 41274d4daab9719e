package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/liamcoop/incentives/incentive"
	ierr "github.com/liamcoop/incentives/internal/errors"
	"github.com/liamcoop/incentives/internal/logger"
	"github.com/liamcoop/incentives/metrics"
	"github.com/liamcoop/incentives/payout"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate a metrics file against a rules file",
	Long: `Evaluate rule sets against one seller's metrics and print the statement.

Only rule sets that are active and whose effective window covers --at are
evaluated, unless --all is given.

Examples:
  # Evaluate with today's date
  evaluate --rules rules.yaml --metrics alice.yaml

  # Evaluate as of a past date with an explicit base pay, as JSON
  evaluate --rules rules.yaml --metrics alice.yaml --at 2024-06-30 --base-pay 1000 --output json`,
	RunE: runEvaluate,
}

func init() {
	f := evaluateCmd.Flags()
	f.String("rules", "", "rules YAML file (required)")
	f.String("metrics", "", "metrics YAML file (required)")
	f.String("at", "", "evaluation date, YYYY-MM-DD or RFC 3339 (default: now)")
	f.String("base-pay", "", "base pay added to the bonus (default: payout.default_base_pay)")
	f.String("output", "text", "output format: text or json")
	f.Bool("all", false, "evaluate every rule set regardless of activation and window")
	_ = evaluateCmd.MarkFlagRequired("rules")
	_ = evaluateCmd.MarkFlagRequired("metrics")

	rootCmd.AddCommand(evaluateCmd)
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	rulesPath, _ := flags.GetString("rules")
	metricsPath, _ := flags.GetString("metrics")
	atFlag, _ := flags.GetString("at")
	basePayFlag, _ := flags.GetString("base-pay")
	output, _ := flags.GetString("output")
	all, _ := flags.GetBool("all")

	if output != "text" && output != "json" {
		return fmt.Errorf("unknown output format %q (use text or json)", output)
	}

	at := time.Now().UTC()
	if atFlag != "" {
		t, err := parseAt(atFlag)
		if err != nil {
			return fmt.Errorf("invalid --at: %w", err)
		}
		at = t
	}

	basePay := cfg.Payout.BasePay()
	if basePayFlag != "" {
		d, err := decimal.NewFromString(basePayFlag)
		if err != nil || d.IsNegative() {
			return fmt.Errorf("invalid --base-pay %q: must be a non-negative number", basePayFlag)
		}
		basePay = d
	}

	sets, err := loadRuleSets(rulesPath)
	if err != nil {
		return err
	}
	agg, err := metrics.NewAggregator()
	if err != nil {
		return err
	}
	in, err := loadMetrics(metricsPath, agg)
	if err != nil {
		return err
	}

	if !all {
		sets = incentive.FilterCurrent(sets, at)
	}
	logger.Debug("Evaluating", "rule_sets", len(sets), "sessions", len(in.Sessions), "at", at)

	eval, err := incentive.Evaluate(in.Metrics, sets)
	logger.RecordEvaluation(err, "rules", rulesPath)
	if err != nil {
		if incentive.IsConfigurationError(err) {
			return ierr.WithError(err).
				WithHint("Fix the operator or payout type in the rules file; run validate to list every problem").
				Mark(ierr.ErrValidation)
		}
		return err
	}

	st := payout.NewStatement(in.SellerID, in.Period, len(in.Sessions), in.Metrics, eval, basePay, at)
	if output == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	return st.Render(cmd.OutOrStdout())
}

// parseAt reads a date as the start of that UTC day, or an RFC 3339 timestamp.
func parseAt(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
