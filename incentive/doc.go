// Package incentive evaluates seller bonus rule sets against aggregated
// performance metrics.
//
// A RuleSet pays out only when every one of its Rules is met; the payout is the
// sum of the rules' contributions. Evaluate is a pure function: fetching rule
// sets, filtering them to the current window and building the MetricSet are the
// caller's job.
package incentive
