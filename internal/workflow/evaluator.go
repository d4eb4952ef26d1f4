// Package workflow evaluates workflow triggers against events, validates
// workflow definitions and renders notification templates.
package workflow

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"alertflow/internal/types"
)

// cronParser accepts standard five-field expressions and descriptors such
// as @hourly.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Evaluate reports whether event fires wf. It has no side effects and is
// safe for concurrent use. An error means the workflow could not be
// evaluated and must be skipped.
func Evaluate(event *types.Event, wf *types.Workflow) (bool, error) {
	if event == nil {
		return false, &types.EvaluationError{WorkflowID: wf.ID, Reason: "nil event"}
	}
	def := wf.FlowDefinition
	if len(def.Triggers) == 0 {
		return false, &types.EvaluationError{WorkflowID: wf.ID, Reason: "workflow has no triggers"}
	}

	op := def.LogicOperator
	if op == "" {
		op = types.LogicAnd
	}
	if op != types.LogicAnd && op != types.LogicOr {
		return false, &types.EvaluationError{WorkflowID: wf.ID, Reason: fmt.Sprintf("unknown logic operator %q", op)}
	}

	for i, trig := range def.Triggers {
		ok, err := evaluateTrigger(event, trig)
		if err != nil {
			return false, &types.EvaluationError{
				WorkflowID: wf.ID,
				Reason:     fmt.Sprintf("trigger %d (%s)", i, trig.Type),
				Err:        err,
			}
		}
		if op == types.LogicOr && ok {
			return true, nil
		}
		if op == types.LogicAnd && !ok {
			return false, nil
		}
	}
	return op == types.LogicAnd, nil
}

func evaluateTrigger(event *types.Event, trig types.Trigger) (bool, error) {
	switch trig.Type {
	case types.TriggerEventOccurs:
		return matchesBase(event, trig.Conditions), nil
	case types.TriggerSchedule:
		if !matchesBase(event, trig.Conditions) {
			return false, nil
		}
		return inScheduleWindow(event.Timestamp, trig.Conditions)
	case types.TriggerThresholdExceeded:
		if !matchesBase(event, trig.Conditions) {
			return false, nil
		}
		return exceedsThreshold(event, trig.Conditions)
	default:
		return false, fmt.Errorf("unknown trigger type %q", trig.Type)
	}
}

// matchesBase applies the event_occurs predicate. Empty lists match anything.
func matchesBase(event *types.Event, c types.TriggerConditions) bool {
	if len(c.EventTypes) > 0 && !slices.Contains(c.EventTypes, event.EventType) {
		return false
	}
	if len(c.SeverityLevels) > 0 && !slices.Contains(c.SeverityLevels, event.Severity) {
		return false
	}
	if c.ConfidenceGT != nil && event.Confidence < *c.ConfidenceGT {
		return false
	}
	return true
}

// inScheduleWindow reports whether ts falls within window_minutes after a
// cron activation, evaluated in the trigger's timezone.
func inScheduleWindow(ts time.Time, c types.TriggerConditions) (bool, error) {
	sched, loc, err := parseSchedule(c.Cron, c.Timezone)
	if err != nil {
		return false, err
	}
	window := time.Duration(max(1, c.WindowMinutes)) * time.Minute
	local := ts.In(loc)
	// First activation strictly after the window start; ts is inside the
	// window iff that activation is not after ts.
	next := sched.Next(local.Add(-window))
	return !next.After(local), nil
}

func parseSchedule(expr, tz string) (cron.Schedule, *time.Location, error) {
	if expr == "" {
		return nil, nil, fmt.Errorf("schedule trigger requires cron")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	loc := time.UTC
	if tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
		}
	}
	return sched, loc, nil
}

// exceedsThreshold compares metadata[metric] > threshold. A missing metric
// does not fire; a non-numeric one is an error.
func exceedsThreshold(event *types.Event, c types.TriggerConditions) (bool, error) {
	if c.Metric == "" || c.Threshold == nil {
		return false, fmt.Errorf("threshold trigger requires metric and threshold")
	}
	raw, ok := event.Metadata[c.Metric]
	if !ok || raw == nil {
		return false, nil
	}
	v, err := toFloat(raw)
	if err != nil {
		return false, fmt.Errorf("metric %q: %w", c.Metric, err)
	}
	return v > *c.Threshold, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) {
			return 0, fmt.Errorf("value is NaN")
		}
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("non-numeric value %q", n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("non-numeric value of type %T", v)
	}
}
