package metrics

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/shopspring/decimal"

	"github.com/liamcoop/incentives/incentive"
)

// costLimit bounds the work a single derived metric may do per session.
const costLimit = 1000000

// fieldRef matches an expression that only reads one session field.
var fieldRef = regexp.MustCompile(`^\s*session\.([a-z_]+)\s*$`)

// DerivedMetric defines a metric as a CEL expression over one session.
// The expression sees the session as the map variable "session" and must
// evaluate to a number; the metric is the sum over all sessions.
//
// An expression that reads a single numeric field is summed exactly. Any
// other expression is evaluated on doubles, so its per-session value keeps
// about 15 significant digits.
type DerivedMetric struct {
	Name       string `json:"name" yaml:"name"`
	Expression string `json:"expression" yaml:"expression"`
}

// DefaultMetrics returns the metrics the dashboard rules are written against.
func DefaultMetrics() []DerivedMetric {
	return []DerivedMetric{
		{Name: incentive.MetricLiveHours, Expression: `session.live_duration_hours`},
		{Name: incentive.MetricBrandedItems, Expression: `session.branded_items_sold`},
		{Name: incentive.MetricFreeSizeItems, Expression: `session.free_size_items_sold`},
		{Name: incentive.MetricTotalRevenue, Expression: `session.total_revenue`},
		{Name: incentive.MetricTotalItems, Expression: `session.branded_items_sold + session.free_size_items_sold`},
		{Name: incentive.MetricSessions, Expression: `1.0`},
	}
}

// Aggregator reduces raw sessions into a MetricSet.
// Definitions are compiled once; Aggregate is safe for concurrent use.
type Aggregator struct {
	env      *cel.Env
	order    []string // metric names in registration order
	defs     map[string]DerivedMetric
	programs map[string]cel.Program // metric name -> compiled program
	direct   map[string]string      // metric name -> session field summed without CEL
	mu       sync.RWMutex
}

// NewAggregator compiles the given definitions, or DefaultMetrics when none are given.
func NewAggregator(defs ...DerivedMetric) (*Aggregator, error) {
	env, err := cel.NewEnv(
		cel.Variable("session", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	a := &Aggregator{
		env:      env,
		defs:     make(map[string]DerivedMetric),
		programs: make(map[string]cel.Program),
		direct:   make(map[string]string),
	}

	if len(defs) == 0 {
		defs = DefaultMetrics()
	}
	for _, def := range defs {
		if err := a.Register(def); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Register compiles a definition and adds it, replacing any metric with the same name.
func (a *Aggregator) Register(def DerivedMetric) error {
	if err := incentive.ValidateIdentifier(def.Name); err != nil {
		return fmt.Errorf("invalid metric name %q: %w", def.Name, err)
	}

	ast, issues := a.env.Compile(def.Expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("metric %s: compile error: %w", def.Name, issues.Err())
	}

	prog, err := a.env.Program(ast, cel.CostLimit(costLimit))
	if err != nil {
		return fmt.Errorf("metric %s: program creation error: %w", def.Name, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.defs[def.Name]; !exists {
		a.order = append(a.order, def.Name)
	}
	a.defs[def.Name] = def
	a.programs[def.Name] = prog
	delete(a.direct, def.Name)
	if m := fieldRef.FindStringSubmatch(def.Expression); m != nil {
		if _, ok := (&Session{}).number(m[1]); ok {
			a.direct[def.Name] = m[1]
		}
	}
	return nil
}

// Definitions returns the registered metrics in registration order.
func (a *Aggregator) Definitions() []DerivedMetric {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]DerivedMetric, 0, len(a.order))
	for _, name := range a.order {
		out = append(out, a.defs[name])
	}
	return out
}

// Aggregate sums every registered metric over the sessions. Every registered
// metric is present in the result, zero when there are no sessions.
func (a *Aggregator) Aggregate(sessions []*Session) (incentive.MetricSet, error) {
	a.mu.RLock()
	names := append([]string(nil), a.order...)
	programs := make(map[string]cel.Program, len(a.programs))
	for name, prog := range a.programs {
		programs[name] = prog
	}
	direct := make(map[string]string, len(a.direct))
	for name, field := range a.direct {
		direct[name] = field
	}
	a.mu.RUnlock()

	out := make(incentive.MetricSet, len(names))
	for _, name := range names {
		out[name] = decimal.Zero
	}

	for _, s := range sessions {
		if s == nil {
			continue
		}
		activation := map[string]any{"session": s.fields()}
		for _, name := range names {
			if field, ok := direct[name]; ok {
				v, _ := s.number(field)
				out[name] = out[name].Add(v)
				continue
			}
			v, err := evalNumber(programs[name], activation)
			if err != nil {
				return nil, fmt.Errorf("metric %s on session %s: %w", name, s.ID, err)
			}
			out[name] = out[name].Add(v)
		}
	}
	return out, nil
}

func evalNumber(prog cel.Program, activation map[string]any) (decimal.Decimal, error) {
	val, _, err := prog.Eval(activation)
	if err != nil {
		return decimal.Zero, err
	}
	switch n := val.Value().(type) {
	case float64:
		return decimal.NewFromFloat(n), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case uint64:
		return decimal.NewFromUint64(n), nil
	default:
		return decimal.Zero, fmt.Errorf("expression returned %T, want a number", val.Value())
	}
}
