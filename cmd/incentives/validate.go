package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liamcoop/incentives/incentive"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a rules file without evaluating it",
	Long: `Validate every rule set in a rules file and report all problems at once:
unknown operators or payout types, invalid windows, duplicate ids and
criteria fields that are not valid metric names.`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().String("rules", "", "rules YAML file (required)")
	_ = validateCmd.MarkFlagRequired("rules")

	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("rules")

	sets, err := loadRuleSets(path)
	if err != nil {
		return err
	}

	var errs []error
	seen := make(map[string]bool, len(sets))
	for _, rs := range sets {
		if seen[rs.ID] {
			errs = append(errs, fmt.Errorf("%w: %s", incentive.ErrDuplicateRuleSet, rs.ID))
		}
		seen[rs.ID] = true

		// Set level checks first, then every rule on its own so one bad
		// rule does not hide the next.
		shape := rs.Clone()
		shape.Rules = nil
		if err := incentive.ValidateRuleSet(shape); err != nil {
			errs = append(errs, fmt.Errorf("rule set %s: %w", rs.ID, err))
		}
		for _, r := range rs.Rules {
			err := incentive.ValidateRule(r)
			var ce *incentive.ConfigurationError
			switch {
			case err == nil:
			case errors.As(err, &ce):
				ce.RuleSetID = rs.ID
				errs = append(errs, ce)
			default:
				errs = append(errs, fmt.Errorf("rule set %s rule %s: %w", rs.ID, r.ID, err))
			}
		}
	}

	out := cmd.OutOrStdout()
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(out, "✗ %v\n", err)
		}
		return fmt.Errorf("%s: %d problem(s) found: %w", path, len(errs), errors.Join(errs...))
	}

	for _, rs := range sets {
		fmt.Fprintf(out, "✓ %s (%s): %d rule(s)\n", rs.ID, rs.Name, len(rs.Rules))
		for _, c := range rs.Conditions() {
			fmt.Fprintf(out, "    %s\n", c)
		}
	}
	return nil
}
