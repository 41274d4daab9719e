package payout

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/liamcoop/incentives/incentive"
	"github.com/liamcoop/incentives/metrics"
)

// Statement is one seller's pay for a period: base pay plus every bonus earned.
type Statement struct {
	SellerID     string                        `json:"seller_id"`
	Period       metrics.Period                `json:"period"`
	SessionCount int                           `json:"session_count"`
	Metrics      incentive.MetricSet           `json:"metrics"`
	Breakdown    []*incentive.EvaluationResult `json:"breakdown"`
	BasePay      decimal.Decimal               `json:"base_pay"`
	TotalPayout  decimal.Decimal               `json:"total_payout"`
	FinalPay     decimal.Decimal               `json:"final_pay"`
	EvaluatedAt  time.Time                     `json:"evaluated_at"`
}

// NewStatement assembles a statement from an evaluation of the seller's metrics.
func NewStatement(sellerID string, period metrics.Period, sessions int, m incentive.MetricSet,
	eval *incentive.Evaluation, basePay decimal.Decimal, at time.Time) *Statement {
	return &Statement{
		SellerID:     sellerID,
		Period:       period,
		SessionCount: sessions,
		Metrics:      m,
		Breakdown:    eval.Results,
		BasePay:      basePay,
		TotalPayout:  eval.TotalPayout,
		FinalPay:     basePay.Add(eval.TotalPayout),
		EvaluatedAt:  at,
	}
}

// Render writes a plain text summary of the statement.
func (s *Statement) Render(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	if s.SellerID != "" {
		fmt.Fprintf(tw, "Seller:\t%s\n", s.SellerID)
	}
	if !s.Period.From.IsZero() || !s.Period.To.IsZero() {
		fmt.Fprintf(tw, "Period:\t%s\n", formatPeriod(s.Period))
	}

	names := make([]string, 0, len(s.Metrics))
	for name := range s.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(tw, "  %s\t%s\n", name, s.Metrics[name].String())
	}

	for _, r := range s.Breakdown {
		status := "not met"
		if r.AllRulesMet {
			status = "met"
		}
		fmt.Fprintf(tw, "\n%s\t%s\t%s\n", r.RuleSetName, status, r.PayoutAmount.StringFixed(2))
		for _, o := range r.Rules {
			mark := "✗"
			if o.Met {
				mark = "✓"
			}
			fmt.Fprintf(tw, "  %s %s\t(actual %s)\n", mark, o.Condition, o.MetricValue.String())
		}
	}

	fmt.Fprintf(tw, "\nBase pay:\t%s\n", s.BasePay.StringFixed(2))
	fmt.Fprintf(tw, "Bonus:\t%s\n", s.TotalPayout.StringFixed(2))
	fmt.Fprintf(tw, "Final pay:\t%s\n", s.FinalPay.StringFixed(2))
	return tw.Flush()
}

func formatPeriod(p metrics.Period) string {
	var b strings.Builder
	if p.From.IsZero() {
		b.WriteString("…")
	} else {
		b.WriteString(p.From.Format(time.RFC3339))
	}
	b.WriteString(" to ")
	if p.To.IsZero() {
		b.WriteString("…")
	} else {
		b.WriteString(p.To.Format(time.RFC3339))
	}
	return b.String()
}

// rank orders statements by final pay, highest first, then by seller id.
func rank(statements []*Statement) {
	sort.SliceStable(statements, func(i, j int) bool {
		if c := statements[i].FinalPay.Cmp(statements[j].FinalPay); c != 0 {
			return c > 0
		}
		return statements[i].SellerID < statements[j].SellerID
	})
}
