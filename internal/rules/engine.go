// Package rules evaluates prescription-template rule groups against an
// extracted record. Evaluation is a pure function of its inputs.
package rules

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/jwalitptl/dicom-ingest/internal/model"
)

// RuleTrace is the outcome of one rule.
type RuleTrace struct {
	Order     int            `json:"rule_order"`
	Parameter string         `json:"parameter"`
	Operator  model.Operator `json:"operator"`
	Value     string         `json:"value"`
	Actual    []string       `json:"actual"`
	Matched   bool           `json:"matched"`
}

// RulesetTrace is the folded outcome of one ruleset.
type RulesetTrace struct {
	Name    string      `json:"name"`
	Order   int         `json:"order"`
	Matched bool        `json:"matched"`
	Rules   []RuleTrace `json:"rules"`
}

// Trace explains an evaluation.
type Trace struct {
	Group    string         `json:"rulegroup"`
	Matched  bool           `json:"matched"`
	Rulesets []RulesetTrace `json:"rulesets"`
}

// Evaluate reports whether record satisfies group.
func Evaluate(group *model.RuleGroup, record Record) bool {
	return EvaluateDetailed(group, record).Matched
}

// EvaluateDetailed evaluates group and returns every intermediate result.
//
// Rules of a ruleset are folded left to right in ascending order: the first
// rule's result seeds the fold and each following result is combined with
// it using the marker of the rule before it. Rulesets fold the same way.
// The last element's marker is never consulted. An empty ruleset or group
// is vacuously true. A missing marker means AND.
func EvaluateDetailed(group *model.RuleGroup, record Record) Trace {
	tr := Trace{Matched: true}
	if group == nil {
		return tr
	}
	tr.Group = group.Name

	rulesets := append([]*model.Ruleset(nil), group.Rulesets...)
	sort.SliceStable(rulesets, func(i, j int) bool { return rulesets[i].Order < rulesets[j].Order })

	var prev model.Combination
	for i, rs := range rulesets {
		rst := evaluateRuleset(rs, record)
		tr.Rulesets = append(tr.Rulesets, rst)
		if i == 0 {
			tr.Matched = rst.Matched
		} else {
			tr.Matched = combine(prev, tr.Matched, rst.Matched)
		}
		prev = rs.Combination
	}
	return tr
}

func evaluateRuleset(rs *model.Ruleset, record Record) RulesetTrace {
	out := RulesetTrace{Name: rs.Name, Order: rs.Order, Matched: true}

	rules := append([]*model.Rule(nil), rs.Rules...)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Order < rules[j].Order })

	var prev model.Combination
	for i, rule := range rules {
		actual := record.Values(rule.Parameter)
		rt := RuleTrace{
			Order:     rule.Order,
			Parameter: rule.Parameter,
			Operator:  rule.Operator,
			Value:     rule.Value,
			Actual:    actual,
			Matched:   Holds(rule.Operator, actual, rule.Value),
		}
		out.Rules = append(out.Rules, rt)
		if i == 0 {
			out.Matched = rt.Matched
		} else {
			out.Matched = combine(prev, out.Matched, rt.Matched)
		}
		prev = rule.Combination
	}
	return out
}

func combine(c model.Combination, acc, next bool) bool {
	if c == model.CombineOr {
		return acc || next
	}
	return acc && next
}

// Holds applies op to the candidate values. Positive operators hold when
// any value satisfies them; negated operators hold only when no value
// satisfies the positive form. An unknown operator never holds.
func Holds(op model.Operator, actual []string, expected string) bool {
	if op.IsNegated() {
		positive := positiveOf(op)
		for _, v := range actual {
			if predicate(positive, v, expected) {
				return false
			}
		}
		return true
	}
	for _, v := range actual {
		if predicate(op, v, expected) {
			return true
		}
	}
	return false
}

func positiveOf(op model.Operator) model.Operator {
	switch op {
	case model.OpNotEquals:
		return model.OpEquals
	case model.OpNotContainsCaseSensitive:
		return model.OpContainsCaseSensitive
	case model.OpNotContainsCaseInsensitive:
		return model.OpContainsCaseInsensitive
	}
	return op
}

func predicate(op model.Operator, actual, expected string) bool {
	switch op {
	case model.OpEquals:
		return actual == expected
	case model.OpContainsCaseSensitive:
		return strings.Contains(actual, expected)
	case model.OpContainsCaseInsensitive:
		return strings.Contains(strings.ToLower(actual), strings.ToLower(expected))
	}

	if !op.IsNumeric() {
		return false
	}
	a, ok := number(actual)
	if !ok {
		return false
	}
	b, ok := number(expected)
	if !ok {
		return false
	}
	switch op {
	case model.OpLessThan:
		return a < b
	case model.OpLessThanOrEqual:
		return a <= b
	case model.OpGreaterThan:
		return a > b
	case model.OpGreaterThanOrEqual:
		return a >= b
	}
	return false
}

func number(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
